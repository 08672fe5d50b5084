package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

const tokenColumns = `
	token_id, owner_id, name, symbol, total_supply, state,
	pending_command_id, intent_event_id, requested_at, refund_event_id,
	published_at, issued_tokens, contract_address, created_at, updated_at`

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	q querier
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{q: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Insert adds a new token and sets TokenID, CreatedAt and UpdatedAt.
func (s *TokenStore) Insert(ctx context.Context, t *domain.Token) error {
	if t == nil || t.OwnerID <= 0 || t.Name == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tokens (owner_id, name, symbol, total_supply, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING token_id, created_at, updated_at
	`

	err := s.q.QueryRow(ctx, query, t.OwnerID, t.Name, t.Symbol, t.TotalSupply, string(t.State)).
		Scan(&t.TokenID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Get retrieves a token by id. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(ctx context.Context, tokenID int64) (*domain.Token, error) {
	return s.get(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token_id = $1`, tokenID)
}

// GetForUpdate retrieves a token and locks its row until the transaction ends.
func (s *TokenStore) GetForUpdate(ctx context.Context, tokenID int64) (*domain.Token, error) {
	return s.get(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token_id = $1 FOR UPDATE`, tokenID)
}

func (s *TokenStore) get(ctx context.Context, query string, tokenID int64) (*domain.Token, error) {
	t, err := scanToken(s.q.QueryRow(ctx, query, tokenID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// Update replaces the mutable fields of a token.
func (s *TokenStore) Update(ctx context.Context, t *domain.Token) error {
	if t == nil || t.TokenID <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE tokens SET
			state = $2,
			pending_command_id = $3,
			intent_event_id = $4,
			requested_at = $5,
			refund_event_id = $6,
			published_at = $7,
			issued_tokens = $8,
			contract_address = $9,
			updated_at = now()
		WHERE token_id = $1
		RETURNING updated_at
	`

	err := s.q.QueryRow(ctx, query,
		t.TokenID,
		string(t.State),
		t.PendingCommandID,
		t.IntentEventID,
		t.RequestedAt,
		t.RefundEventID,
		t.PublishedAt,
		t.IssuedTokens,
		t.ContractAddress,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		if isCheckViolation(err) {
			return storage.ErrInvalidInput
		}
		return fmt.Errorf("update token: %w", err)
	}
	return nil
}

// ListByOwner returns a user's tokens, newest first.
func (s *TokenStore) ListByOwner(ctx context.Context, ownerID int64) ([]*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE owner_id = $1 ORDER BY token_id DESC`
	return s.list(ctx, query, ownerID)
}

// ListPending returns PendingPublish tokens requested before the cutoff, oldest first.
func (s *TokenStore) ListPending(ctx context.Context, requestedBefore time.Time) ([]*domain.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE state = 'PENDING_PUBLISH' AND requested_at < $1
		ORDER BY requested_at ASC
	`
	return s.list(ctx, query, requestedBefore)
}

// List returns every token ordered by id.
func (s *TokenStore) List(ctx context.Context) ([]*domain.Token, error) {
	return s.list(ctx, `SELECT `+tokenColumns+` FROM tokens ORDER BY token_id ASC`)
}

func (s *TokenStore) list(ctx context.Context, query string, args ...any) ([]*domain.Token, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return tokens, nil
}

// scanToken scans a single row into a Token.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token
	var state string

	err := row.Scan(
		&t.TokenID,
		&t.OwnerID,
		&t.Name,
		&t.Symbol,
		&t.TotalSupply,
		&state,
		&t.PendingCommandID,
		&t.IntentEventID,
		&t.RequestedAt,
		&t.RefundEventID,
		&t.PublishedAt,
		&t.IssuedTokens,
		&t.ContractAddress,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.State = domain.TokenState(state)
	return &t, nil
}
