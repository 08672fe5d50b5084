package storage

import (
	"context"
	"time"

	"token-ledger/internal/domain"
)

// MaxQueryLimit caps every bounded read.
const MaxQueryLimit = 1000

// EventFilter selects events for Query. Zero fields do not filter.
type EventFilter struct {
	Types    []domain.EventType // any of these types
	ActorID  *int64
	TokenID  *int64
	SinceID  int64 // only events with EventID > SinceID
	BeforeID int64 // only events with EventID < BeforeID
	Limit    int   // clamped to [1, MaxQueryLimit]
}

// EventStore provides access to the append-only events log.
type EventStore interface {
	// Append assigns EventID and CreatedAt and stores the event.
	// Ids are strictly increasing in commit order.
	Append(ctx context.Context, e *domain.Event) error

	// GetByID retrieves an event. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, eventID int64) (*domain.Event, error)

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, f EventFilter) ([]*domain.Event, error)

	// Scan returns up to limit events with EventID > sinceID, oldest first.
	Scan(ctx context.Context, sinceID int64, limit int) ([]*domain.Event, error)

	// Count returns the number of events of a type, optionally for one actor.
	Count(ctx context.Context, t domain.EventType, actorID *int64) (int64, error)
}

// AccountStore provides access to credits accounts and their ledger entries.
type AccountStore interface {
	// Open creates a zero-balance account if none exists.
	Open(ctx context.Context, userID int64) error

	// Get retrieves an account. Returns ErrNotFound if not exists.
	Get(ctx context.Context, userID int64) (*domain.CreditsAccount, error)

	// Apply adds e.Delta to the account balance and appends the entry.
	// Returns ErrNotFound if the account does not exist and
	// ErrNegativeBalance if the balance would drop below zero.
	// Sets EntryID, BalanceAfter and CreatedAt on success.
	Apply(ctx context.Context, e *domain.LedgerEntry) error

	// Entries returns an account's entries newest first. limit <= 0 returns all.
	Entries(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error)

	// List returns every account ordered by user id.
	List(ctx context.Context) ([]*domain.CreditsAccount, error)
}

// TokenStore provides access to tokens.
type TokenStore interface {
	// Insert assigns TokenID, CreatedAt and UpdatedAt and stores the token.
	Insert(ctx context.Context, t *domain.Token) error

	// Get retrieves a token. Returns ErrNotFound if not exists.
	Get(ctx context.Context, tokenID int64) (*domain.Token, error)

	// GetForUpdate retrieves a token and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, tokenID int64) (*domain.Token, error)

	// Update replaces the mutable fields of a token.
	Update(ctx context.Context, t *domain.Token) error

	// ListByOwner returns a user's tokens, newest first.
	ListByOwner(ctx context.Context, ownerID int64) ([]*domain.Token, error)

	// ListPending returns PendingPublish tokens requested before the cutoff.
	ListPending(ctx context.Context, requestedBefore time.Time) ([]*domain.Token, error)

	// List returns every token ordered by id.
	List(ctx context.Context) ([]*domain.Token, error)
}

// CommandStore provides access to the dispatch outbox.
type CommandStore interface {
	// Insert stores a Queued command. Returns ErrDuplicateKey if the command
	// id exists or the token already has an active command.
	Insert(ctx context.Context, c *domain.Command) error

	// Get retrieves a command. Returns ErrNotFound if not exists.
	Get(ctx context.Context, commandID string) (*domain.Command, error)

	// ActiveForToken returns the Queued or Dispatched command of a token.
	// Returns ErrNotFound if there is none.
	ActiveForToken(ctx context.Context, tokenID int64) (*domain.Command, error)

	// Claim moves up to limit Queued commands, oldest first, to Dispatched.
	Claim(ctx context.Context, limit int) ([]*domain.Command, error)

	// SetStatus updates a command's status and last error.
	SetStatus(ctx context.Context, commandID string, status domain.CommandStatus, lastError *string) error
}

// GrantStore provides access to user permission sets.
type GrantStore interface {
	// Get returns a user's grants; users without a row have none.
	Get(ctx context.Context, userID int64) (domain.Grants, error)

	// Put replaces a user's grants.
	Put(ctx context.Context, userID int64, g domain.Grants) error
}

// SessionStore resolves session tokens to users.
type SessionStore interface {
	// Resolve returns the user of a live session. Returns ErrNotFound otherwise.
	Resolve(ctx context.Context, token string) (int64, error)

	// Put stores a session.
	Put(ctx context.Context, token string, userID int64, expiresAt time.Time) error
}

// IdempotencyRecord remembers the result of a keyed publish request.
type IdempotencyRecord struct {
	Key           string
	RequestHash   string // hash of (token, requester)
	TokenID       int64
	CommandID     string
	IntentEventID int64
	CreatedAt     time.Time
}

// IdempotencyStore provides access to idempotency records.
type IdempotencyStore interface {
	// Get retrieves a record. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)

	// Insert stores a record. Returns ErrDuplicateKey if the key exists.
	Insert(ctx context.Context, r *IdempotencyRecord) error

	// Delete removes a record. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Stores groups the stores that take part in one unit of work.
type Stores interface {
	Events() EventStore
	Accounts() AccountStore
	Tokens() TokenStore
	Commands() CommandStore
	Grants() GrantStore
	Idempotency() IdempotencyStore
}

// Transactor runs fn as one atomic unit of work. If fn returns an error
// nothing it wrote becomes visible.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}

// Backend is a complete storage implementation. Stores returned by the
// accessors outside InTx run each call on its own.
type Backend interface {
	Stores
	Transactor
	Sessions() SessionStore
}

// EventArchive is the append-only analytical copy of the event log.
type EventArchive interface {
	// InsertBulk stores events. Re-sent events replace earlier copies.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// LastEventID returns the highest archived event id, or 0 when empty.
	LastEventID(ctx context.Context) (int64, error)

	// CountByType returns the number of archived events per type.
	CountByType(ctx context.Context) (map[domain.EventType]int64, error)
}

// ClampLimit applies the default and maximum to a query limit.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
