package memory

import (
	"context"
	"sort"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	view
}

// Insert assigns the next token id and stores a copy.
func (s *TokenStore) Insert(_ context.Context, t *domain.Token) error {
	if t == nil || t.OwnerID <= 0 || t.Name == "" {
		return storage.ErrInvalidInput
	}

	return s.write("tokens.insert", func(st *state) error {
		st.nextTokenID++
		now := time.Now().UTC()
		t.TokenID = st.nextTokenID
		t.CreatedAt = now
		t.UpdatedAt = now
		st.tokens[t.TokenID] = t.Clone()
		return nil
	})
}

// Get retrieves a token. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(_ context.Context, tokenID int64) (*domain.Token, error) {
	var result *domain.Token
	s.read(func(st *state) {
		if t, ok := st.tokens[tokenID]; ok {
			result = t.Clone()
		}
	})
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// GetForUpdate is Get; transactions already hold the DB write lock.
func (s *TokenStore) GetForUpdate(ctx context.Context, tokenID int64) (*domain.Token, error) {
	return s.Get(ctx, tokenID)
}

// Update replaces the stored token.
func (s *TokenStore) Update(_ context.Context, t *domain.Token) error {
	if t == nil || t.TokenID <= 0 {
		return storage.ErrInvalidInput
	}

	return s.write("tokens.update", func(st *state) error {
		if _, ok := st.tokens[t.TokenID]; !ok {
			return storage.ErrNotFound
		}
		t.UpdatedAt = time.Now().UTC()
		st.tokens[t.TokenID] = t.Clone()
		return nil
	})
}

// ListByOwner returns a user's tokens, newest first.
func (s *TokenStore) ListByOwner(_ context.Context, ownerID int64) ([]*domain.Token, error) {
	result := s.filter(func(t *domain.Token) bool { return t.OwnerID == ownerID })
	sort.Slice(result, func(i, j int) bool {
		return result[i].TokenID > result[j].TokenID
	})
	return result, nil
}

// ListPending returns PendingPublish tokens requested before the cutoff, oldest first.
func (s *TokenStore) ListPending(_ context.Context, requestedBefore time.Time) ([]*domain.Token, error) {
	result := s.filter(func(t *domain.Token) bool {
		return t.State == domain.TokenStatePendingPublish &&
			t.RequestedAt != nil && t.RequestedAt.Before(requestedBefore)
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].RequestedAt.Before(*result[j].RequestedAt)
	})
	return result, nil
}

// List returns every token ordered by id.
func (s *TokenStore) List(_ context.Context) ([]*domain.Token, error) {
	result := s.filter(func(*domain.Token) bool { return true })
	sort.Slice(result, func(i, j int) bool {
		return result[i].TokenID < result[j].TokenID
	})
	return result, nil
}

func (s *TokenStore) filter(keep func(*domain.Token) bool) []*domain.Token {
	var result []*domain.Token
	s.read(func(st *state) {
		for _, t := range st.tokens {
			if keep(t) {
				result = append(result, t.Clone())
			}
		}
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.TokenStore = (*TokenStore)(nil)
