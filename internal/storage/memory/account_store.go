package memory

import (
	"context"
	"sort"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
type AccountStore struct {
	view
}

// Open creates a zero-balance account if none exists.
func (s *AccountStore) Open(_ context.Context, userID int64) error {
	if userID <= 0 {
		return storage.ErrInvalidInput
	}

	return s.write("accounts.open", func(st *state) error {
		if _, exists := st.accounts[userID]; exists {
			return nil
		}
		now := time.Now().UTC()
		st.accounts[userID] = &domain.CreditsAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
		return nil
	})
}

// Get retrieves an account. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(_ context.Context, userID int64) (*domain.CreditsAccount, error) {
	var result *domain.CreditsAccount
	s.read(func(st *state) {
		if a, ok := st.accounts[userID]; ok {
			accountCopy := *a
			result = &accountCopy
		}
	})
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// Apply changes the balance by e.Delta and appends the entry.
func (s *AccountStore) Apply(_ context.Context, e *domain.LedgerEntry) error {
	if e == nil || e.UserID <= 0 || e.Delta == 0 || e.EventID <= 0 {
		return storage.ErrInvalidInput
	}

	return s.write("accounts.apply", func(st *state) error {
		a, ok := st.accounts[e.UserID]
		if !ok {
			return storage.ErrNotFound
		}
		newBalance := a.Balance + e.Delta
		if newBalance < 0 {
			return storage.ErrNegativeBalance
		}

		now := time.Now().UTC()
		updated := *a
		updated.Balance = newBalance
		updated.UpdatedAt = now
		st.accounts[e.UserID] = &updated

		st.nextEntryID++
		e.EntryID = st.nextEntryID
		e.BalanceAfter = newBalance
		e.CreatedAt = now
		entryCopy := *e
		st.entries = append(st.entries, &entryCopy)
		return nil
	})
}

// Entries returns an account's entries newest first.
func (s *AccountStore) Entries(_ context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	var result []*domain.LedgerEntry
	s.read(func(st *state) {
		for i := len(st.entries) - 1; i >= 0; i-- {
			if limit > 0 && len(result) >= limit {
				break
			}
			if e := st.entries[i]; e.UserID == userID {
				entryCopy := *e
				result = append(result, &entryCopy)
			}
		}
	})
	return result, nil
}

// List returns every account ordered by user id.
func (s *AccountStore) List(_ context.Context) ([]*domain.CreditsAccount, error) {
	var result []*domain.CreditsAccount
	s.read(func(st *state) {
		for _, a := range st.accounts {
			accountCopy := *a
			result = append(result, &accountCopy)
		}
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.AccountStore = (*AccountStore)(nil)
