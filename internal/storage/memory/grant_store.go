package memory

import (
	"context"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// GrantStore is an in-memory implementation of storage.GrantStore.
type GrantStore struct {
	view
}

// Get returns a user's grants; users without a row have none.
func (s *GrantStore) Get(_ context.Context, userID int64) (domain.Grants, error) {
	var result domain.Grants
	s.read(func(st *state) {
		if g, ok := st.grants[userID]; ok {
			result = g.Clone()
		}
	})
	return result, nil
}

// Put replaces a user's grants.
func (s *GrantStore) Put(_ context.Context, userID int64, g domain.Grants) error {
	if userID <= 0 {
		return storage.ErrInvalidInput
	}

	return s.write("grants.put", func(st *state) error {
		st.grants[userID] = g.Clone()
		return nil
	})
}

// Verify interface compliance at compile time.
var _ storage.GrantStore = (*GrantStore)(nil)
