package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
type AccountStore struct {
	q querier
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{q: pool}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// Open creates a zero-balance account if none exists.
func (s *AccountStore) Open(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.q.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("open account: %w", err)
	}
	return nil
}

// Get retrieves an account. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(ctx context.Context, userID int64) (*domain.CreditsAccount, error) {
	query := `SELECT user_id, balance, created_at, updated_at FROM accounts WHERE user_id = $1`

	var a domain.CreditsAccount
	err := s.q.QueryRow(ctx, query, userID).Scan(&a.UserID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// Apply changes the balance with a conditional update and appends the entry.
// The balance never drops below zero, even under concurrent debits.
func (s *AccountStore) Apply(ctx context.Context, e *domain.LedgerEntry) error {
	if e == nil || e.UserID <= 0 || e.Delta == 0 || e.EventID <= 0 {
		return storage.ErrInvalidInput
	}

	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		update := `
			UPDATE accounts
			SET balance = balance + $1, updated_at = now()
			WHERE user_id = $2 AND balance + $1 >= 0
			RETURNING balance
		`
		err := tx.QueryRow(ctx, update, e.Delta, e.UserID).Scan(&e.BalanceAfter)
		if err != nil {
			if isCheckViolation(err) {
				return storage.ErrNegativeBalance
			}
			if !isNotFoundError(err) {
				return fmt.Errorf("update balance: %w", err)
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, e.UserID).Scan(&exists); err != nil {
				return fmt.Errorf("check account: %w", err)
			}
			if !exists {
				return storage.ErrNotFound
			}
			return storage.ErrNegativeBalance
		}

		insert := `
			INSERT INTO ledger_entries (user_id, delta, reason, event_id, balance_after)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING entry_id, created_at
		`
		err = tx.QueryRow(ctx, insert, e.UserID, e.Delta, e.Reason, e.EventID, e.BalanceAfter).
			Scan(&e.EntryID, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return nil
	})
}

// Entries returns an account's entries newest first.
func (s *AccountStore) Entries(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT entry_id, user_id, delta, reason, event_id, balance_after, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY entry_id DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.UserID, &e.Delta, &e.Reason, &e.EventID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entry rows: %w", err)
	}
	return entries, nil
}

// List returns every account ordered by user id.
func (s *AccountStore) List(ctx context.Context) ([]*domain.CreditsAccount, error) {
	query := `SELECT user_id, balance, created_at, updated_at FROM accounts ORDER BY user_id`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.CreditsAccount
	for rows.Next() {
		var a domain.CreditsAccount
		if err := rows.Scan(&a.UserID, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return accounts, nil
}
