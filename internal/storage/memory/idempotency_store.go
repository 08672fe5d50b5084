package memory

import (
	"context"
	"time"

	"token-ledger/internal/storage"
)

// IdempotencyStore is an in-memory implementation of storage.IdempotencyStore.
type IdempotencyStore struct {
	view
}

// Get retrieves a record. Returns ErrNotFound if not exists.
func (s *IdempotencyStore) Get(_ context.Context, key string) (*storage.IdempotencyRecord, error) {
	var result *storage.IdempotencyRecord
	s.read(func(st *state) {
		if r, ok := st.idempotency[key]; ok {
			recordCopy := *r
			result = &recordCopy
		}
	})
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// Insert stores a record. Returns ErrDuplicateKey if the key exists.
func (s *IdempotencyStore) Insert(_ context.Context, r *storage.IdempotencyRecord) error {
	if r == nil || r.Key == "" {
		return storage.ErrInvalidInput
	}

	return s.write("idempotency.insert", func(st *state) error {
		if _, exists := st.idempotency[r.Key]; exists {
			return storage.ErrDuplicateKey
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		recordCopy := *r
		st.idempotency[r.Key] = &recordCopy
		return nil
	})
}

// Delete removes a record. Missing keys are not an error.
func (s *IdempotencyStore) Delete(_ context.Context, key string) error {
	return s.write("idempotency.delete", func(st *state) error {
		delete(st.idempotency, key)
		return nil
	})
}

// Verify interface compliance at compile time.
var _ storage.IdempotencyStore = (*IdempotencyStore)(nil)
