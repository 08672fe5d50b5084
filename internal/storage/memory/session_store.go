package memory

import (
	"context"
	"sync"
	"time"

	"token-ledger/internal/storage"
)

type session struct {
	userID    int64
	expiresAt time.Time
}

// SessionStore is an in-memory implementation of storage.SessionStore.
// Sessions are not part of transactions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]session
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]session),
	}
}

// Resolve returns the user of a live session. Returns ErrNotFound otherwise.
func (s *SessionStore) Resolve(_ context.Context, token string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok || !time.Now().Before(sess.expiresAt) {
		return 0, storage.ErrNotFound
	}
	return sess.userID, nil
}

// Put stores a session.
func (s *SessionStore) Put(_ context.Context, token string, userID int64, expiresAt time.Time) error {
	if token == "" || userID <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[token] = session{userID: userID, expiresAt: expiresAt}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.SessionStore = (*SessionStore)(nil)
