package postgres

import (
	"context"
	"fmt"

	"token-ledger/internal/storage"
)

// IdempotencyStore implements storage.IdempotencyStore using PostgreSQL.
type IdempotencyStore struct {
	q querier
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(pool *Pool) *IdempotencyStore {
	return &IdempotencyStore{q: pool}
}

// Compile-time interface check.
var _ storage.IdempotencyStore = (*IdempotencyStore)(nil)

// Get retrieves a record by key. Returns ErrNotFound if not exists.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*storage.IdempotencyRecord, error) {
	query := `
		SELECT key, request_hash, token_id, command_id, intent_event_id, created_at
		FROM idempotency_keys
		WHERE key = $1
	`

	var r storage.IdempotencyRecord
	err := s.q.QueryRow(ctx, query, key).
		Scan(&r.Key, &r.RequestHash, &r.TokenID, &r.CommandID, &r.IntentEventID, &r.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &r, nil
}

// Insert adds a record. Returns ErrDuplicateKey if the key exists.
func (s *IdempotencyStore) Insert(ctx context.Context, r *storage.IdempotencyRecord) error {
	if r == nil || r.Key == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO idempotency_keys (key, request_hash, token_id, command_id, intent_event_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := s.q.QueryRow(ctx, query, r.Key, r.RequestHash, r.TokenID, r.CommandID, r.IntentEventID).Scan(&r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

// Delete removes a record. Missing keys are not an error.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}
