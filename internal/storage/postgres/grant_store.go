package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// GrantStore implements storage.GrantStore using PostgreSQL.
// Grants are stored as one JSONB document per user.
type GrantStore struct {
	q querier
}

// NewGrantStore creates a new GrantStore.
func NewGrantStore(pool *Pool) *GrantStore {
	return &GrantStore{q: pool}
}

// Compile-time interface check.
var _ storage.GrantStore = (*GrantStore)(nil)

// Get returns a user's grants; users without a row have none.
func (s *GrantStore) Get(ctx context.Context, userID int64) (domain.Grants, error) {
	var raw []byte
	err := s.q.QueryRow(ctx, `SELECT grants FROM user_grants WHERE user_id = $1`, userID).Scan(&raw)
	if err != nil {
		if isNotFoundError(err) {
			return domain.Grants{}, nil
		}
		return domain.Grants{}, fmt.Errorf("get grants: %w", err)
	}

	var g domain.Grants
	if err := json.Unmarshal(raw, &g); err != nil {
		return domain.Grants{}, fmt.Errorf("decode grants of user %d: %w", userID, err)
	}
	return g, nil
}

// Put replaces a user's grants.
func (s *GrantStore) Put(ctx context.Context, userID int64, g domain.Grants) error {
	if userID <= 0 {
		return storage.ErrInvalidInput
	}

	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode grants: %w", err)
	}

	query := `
		INSERT INTO user_grants (user_id, grants) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET grants = EXCLUDED.grants, updated_at = now()
	`
	if _, err := s.q.Exec(ctx, query, userID, string(raw)); err != nil {
		return fmt.Errorf("put grants: %w", err)
	}
	return nil
}
