package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"token-ledger/internal/storage"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// querier is satisfied by both the pool and an open transaction, so every
// store runs the same SQL inside and outside DB.InTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB implements storage.Backend on PostgreSQL.
type DB struct {
	pool *Pool
}

// NewDB creates a backend over an existing pool.
func NewDB(pool *Pool) *DB {
	return &DB{pool: pool}
}

// InTx runs fn inside one PostgreSQL transaction.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Stores) error) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		return fn(ctx, stores{q: tx})
	})
}

func (db *DB) Events() storage.EventStore { return NewEventStore(db.pool) }
func (db *DB) Accounts() storage.AccountStore { return NewAccountStore(db.pool) }
func (db *DB) Tokens() storage.TokenStore { return NewTokenStore(db.pool) }
func (db *DB) Commands() storage.CommandStore { return NewCommandStore(db.pool) }
func (db *DB) Grants() storage.GrantStore { return NewGrantStore(db.pool) }
func (db *DB) Idempotency() storage.IdempotencyStore { return NewIdempotencyStore(db.pool) }
func (db *DB) Sessions() storage.SessionStore { return NewSessionStore(db.pool) }

// Compile-time interface check.
var _ storage.Backend = (*DB)(nil)

// stores binds every store to one transaction.
type stores struct {
	q querier
}

func (s stores) Events() storage.EventStore { return &EventStore{q: s.q} }
func (s stores) Accounts() storage.AccountStore { return &AccountStore{q: s.q} }
func (s stores) Tokens() storage.TokenStore { return &TokenStore{q: s.q} }
func (s stores) Commands() storage.CommandStore { return &CommandStore{q: s.q} }
func (s stores) Grants() storage.GrantStore { return &GrantStore{q: s.q} }
func (s stores) Idempotency() storage.IdempotencyStore { return &IdempotencyStore{q: s.q} }

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
	pgErrCheckViolation  = "23514" // check_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	return hasCode(err, pgErrUniqueViolation)
}

// isCheckViolation checks if error is a CHECK constraint violation.
func isCheckViolation(err error) bool {
	return hasCode(err, pgErrCheckViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
