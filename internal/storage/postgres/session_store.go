package postgres

import (
	"context"
	"fmt"
	"time"

	"token-ledger/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL.
type SessionStore struct {
	q querier
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{q: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

// Resolve returns the user of a live session. Returns ErrNotFound otherwise.
func (s *SessionStore) Resolve(ctx context.Context, token string) (int64, error) {
	var userID int64
	err := s.q.QueryRow(ctx, `SELECT user_id FROM sessions WHERE token = $1 AND expires_at > now()`, token).Scan(&userID)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("resolve session: %w", err)
	}
	return userID, nil
}

// Put stores or refreshes a session.
func (s *SessionStore) Put(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	if token == "" || userID <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at
	`
	if _, err := s.q.Exec(ctx, query, token, userID, expiresAt); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}
