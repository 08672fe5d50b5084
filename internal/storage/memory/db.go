package memory

import (
	"context"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// DB is an in-memory implementation of storage.Backend.
//
// Transactions are serialized by a single write lock and run against a
// copy-on-write clone of the state that replaces the committed state only
// when fn succeeds. Records are never mutated in place, so clones share them.
type DB struct {
	mu sync.RWMutex
	st *state

	faultsMu sync.Mutex
	faults   map[string]error

	sessions *SessionStore
}

type state struct {
	events      []*domain.Event
	tokenEvents map[int64][]int // token_id -> indexes into events
	nextEventID int64

	accounts    map[int64]*domain.CreditsAccount
	entries     []*domain.LedgerEntry
	nextEntryID int64

	tokens      map[int64]*domain.Token
	nextTokenID int64

	commands     map[string]*domain.Command
	commandOrder []string // insertion order, for FIFO claiming

	grants      map[int64]domain.Grants
	idempotency map[string]*storage.IdempotencyRecord
}

// NewDB creates an empty in-memory backend.
func NewDB() *DB {
	return &DB{
		st: &state{
			tokenEvents: make(map[int64][]int),
			accounts:    make(map[int64]*domain.CreditsAccount),
			tokens:      make(map[int64]*domain.Token),
			commands:    make(map[string]*domain.Command),
			grants:      make(map[int64]domain.Grants),
			idempotency: make(map[string]*storage.IdempotencyRecord),
		},
		faults:   make(map[string]error),
		sessions: NewSessionStore(),
	}
}

// clone copies containers. Slices are capped so appends never write into
// the committed backing arrays.
func (s *state) clone() *state {
	c := &state{
		events:       s.events[:len(s.events):len(s.events)],
		tokenEvents:  make(map[int64][]int, len(s.tokenEvents)),
		nextEventID:  s.nextEventID,
		accounts:     make(map[int64]*domain.CreditsAccount, len(s.accounts)),
		entries:      s.entries[:len(s.entries):len(s.entries)],
		nextEntryID:  s.nextEntryID,
		tokens:       make(map[int64]*domain.Token, len(s.tokens)),
		nextTokenID:  s.nextTokenID,
		commands:     make(map[string]*domain.Command, len(s.commands)),
		commandOrder: s.commandOrder[:len(s.commandOrder):len(s.commandOrder)],
		grants:       make(map[int64]domain.Grants, len(s.grants)),
		idempotency:  make(map[string]*storage.IdempotencyRecord, len(s.idempotency)),
	}
	for k, v := range s.tokenEvents {
		c.tokenEvents[k] = v[:len(v):len(v)]
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.commands {
		c.commands[k] = v
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// InTx runs fn against a private clone of the state and commits it if fn succeeds.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx := &txStores{db: db, st: db.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	db.st = tx.st
	return nil
}

// InjectFault makes the next write to op fail with err. Ops are named
// "<store>.<method>", e.g. "accounts.apply" or "commands.insert".
func (db *DB) InjectFault(op string, err error) {
	db.faultsMu.Lock()
	defer db.faultsMu.Unlock()
	db.faults[op] = err
}

func (db *DB) fault(op string) error {
	db.faultsMu.Lock()
	defer db.faultsMu.Unlock()
	err, ok := db.faults[op]
	if !ok {
		return nil
	}
	delete(db.faults, op)
	return err
}

// view runs store calls either inside a transaction (st set) or directly
// against the committed state under the DB lock.
type view struct {
	db *DB
	st *state
}

func (v view) read(fn func(st *state)) {
	if v.st != nil {
		fn(v.st)
		return
	}
	v.db.mu.RLock()
	defer v.db.mu.RUnlock()
	fn(v.db.st)
}

// write runs fn on a clone outside transactions so a failing fn leaves no
// partial change behind.
func (v view) write(op string, fn func(st *state) error) error {
	if err := v.db.fault(op); err != nil {
		return err
	}
	if v.st != nil {
		return fn(v.st)
	}
	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	c := v.db.st.clone()
	if err := fn(c); err != nil {
		return err
	}
	v.db.st = c
	return nil
}

// Events returns the event store of the committed state.
func (db *DB) Events() storage.EventStore { return &EventStore{view{db: db}} }

// Accounts returns the account store of the committed state.
func (db *DB) Accounts() storage.AccountStore { return &AccountStore{view{db: db}} }

// Tokens returns the token store of the committed state.
func (db *DB) Tokens() storage.TokenStore { return &TokenStore{view{db: db}} }

// Commands returns the command store of the committed state.
func (db *DB) Commands() storage.CommandStore { return &CommandStore{view{db: db}} }

// Grants returns the grant store of the committed state.
func (db *DB) Grants() storage.GrantStore { return &GrantStore{view{db: db}} }

// Idempotency returns the idempotency store of the committed state.
func (db *DB) Idempotency() storage.IdempotencyStore { return &IdempotencyStore{view{db: db}} }

// Sessions returns the session store.
func (db *DB) Sessions() storage.SessionStore { return db.sessions }

type txStores struct {
	db *DB
	st *state
}

func (t *txStores) Events() storage.EventStore { return &EventStore{view{db: t.db, st: t.st}} }
func (t *txStores) Accounts() storage.AccountStore { return &AccountStore{view{db: t.db, st: t.st}} }
func (t *txStores) Tokens() storage.TokenStore { return &TokenStore{view{db: t.db, st: t.st}} }
func (t *txStores) Commands() storage.CommandStore { return &CommandStore{view{db: t.db, st: t.st}} }
func (t *txStores) Grants() storage.GrantStore { return &GrantStore{view{db: t.db, st: t.st}} }
func (t *txStores) Idempotency() storage.IdempotencyStore {
	return &IdempotencyStore{view{db: t.db, st: t.st}}
}

// Verify interface compliance at compile time.
var _ storage.Backend = (*DB)(nil)
