// Package ledger maintains credit balances. Every balance change is a
// LedgerEntry linked to the event that caused it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"token-ledger/internal/domain"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Authorizer checks capabilities. Implemented by access.Checker.
type Authorizer interface {
	Require(ctx context.Context, userID int64, capability domain.Capability, scope *int64) error
}

// Options configures Ledger.
type Options struct {
	Authorizer Authorizer   // required for Issue
	Logger     *slog.Logger // defaults to slog.Default()
}

// Ledger debits and credits accounts.
type Ledger struct {
	backend storage.Backend
	events  *eventlog.Log
	auth    Authorizer
	logger  *slog.Logger
}

// New creates a Ledger.
func New(backend storage.Backend, events *eventlog.Log, opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		backend: backend,
		events:  events,
		auth:    opts.Authorizer,
		logger:  logger.With("component", "ledger"),
	}
}

// Balance returns the spendable balance of a user. Users without an
// account have a zero balance.
func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	return balance(ctx, l.backend, userID)
}

// Entries returns a user's ledger entries, newest first.
func (l *Ledger) Entries(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	if limit < 0 {
		return nil, &domain.ValidationError{Field: "limit", Message: "limit must not be negative"}
	}
	entries, err := l.backend.Accounts().Entries(ctx, userID, storage.ClampLimit(limit, 50))
	if err != nil {
		return nil, domain.NewStorageError("get ledger entries", err)
	}
	return entries, nil
}

// Debit takes amount from the user's balance in its own unit of work.
func (l *Ledger) Debit(ctx context.Context, userID, amount int64, reason string, linkedEventID int64) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		var err error
		entry, err = DebitTx(ctx, tx, userID, amount, reason, linkedEventID)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			observability.RecordInsufficientFunds()
		}
		return nil, err
	}
	observability.RecordDebit()
	return entry, nil
}

// Credit adds amount to the user's balance in its own unit of work.
func (l *Ledger) Credit(ctx context.Context, userID, amount int64, reason string, linkedEventID int64) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := l.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		var err error
		entry, err = CreditTx(ctx, tx, userID, amount, reason, linkedEventID)
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.RecordCredit(reason)
	return entry, nil
}

// Issue grants credits to a user. The actor needs issue-credits.
func (l *Ledger) Issue(ctx context.Context, actorID, userID, amount int64, note string) (*domain.LedgerEntry, error) {
	if l.auth == nil {
		return nil, fmt.Errorf("issue credits: no authorizer: %w", domain.ErrAuthorization)
	}
	if err := l.auth.Require(ctx, actorID, domain.CapIssueCredits, nil); err != nil {
		return nil, err
	}

	var (
		entry *domain.LedgerEntry
		e     *domain.Event
	)
	err := l.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		var err error
		e, err = l.events.AppendTx(ctx, tx, actorID, &domain.CreditsIssued{UserID: userID, Amount: amount, Note: note})
		if err != nil {
			return err
		}
		entry, err = CreditTx(ctx, tx, userID, amount, domain.ReasonIssue, e.EventID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.events.Notify(e)
	observability.RecordCredit(domain.ReasonIssue)
	l.logger.Info("credits issued", "user_id", userID, "actor_id", actorID, "amount", amount, "event_id", e.EventID)
	return entry, nil
}

// DebitTx takes amount from the user's balance inside tx. A balance short of
// amount yields an *InsufficientFundsError and leaves the balance unchanged.
func DebitTx(ctx context.Context, tx storage.Stores, userID, amount int64, reason string, linkedEventID int64) (*domain.LedgerEntry, error) {
	if err := validate(userID, amount, linkedEventID); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{UserID: userID, Delta: -amount, Reason: reason, EventID: linkedEventID}
	err := tx.Accounts().Apply(ctx, entry)
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, &domain.InsufficientFundsError{Balance: 0, Price: amount}
	case errors.Is(err, storage.ErrNegativeBalance):
		current, err := balance(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.InsufficientFundsError{Balance: current, Price: amount}
	default:
		return nil, domain.NewStorageError("debit account", err)
	}
}

// CreditTx adds amount to the user's balance inside tx, opening the account
// if needed.
func CreditTx(ctx context.Context, tx storage.Stores, userID, amount int64, reason string, linkedEventID int64) (*domain.LedgerEntry, error) {
	if err := validate(userID, amount, linkedEventID); err != nil {
		return nil, err
	}
	if err := tx.Accounts().Open(ctx, userID); err != nil {
		return nil, domain.NewStorageError("open account", err)
	}

	entry := &domain.LedgerEntry{UserID: userID, Delta: amount, Reason: reason, EventID: linkedEventID}
	if err := tx.Accounts().Apply(ctx, entry); err != nil {
		return nil, domain.NewStorageError("credit account", err)
	}
	return entry, nil
}

// BalanceTx reads a balance inside tx.
func BalanceTx(ctx context.Context, tx storage.Stores, userID int64) (int64, error) {
	return balance(ctx, tx, userID)
}

func balance(ctx context.Context, stores storage.Stores, userID int64) (int64, error) {
	a, err := stores.Accounts().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, domain.NewStorageError("get account", err)
	}
	return a.Balance, nil
}

func validate(userID, amount, linkedEventID int64) error {
	if userID <= 0 {
		return &domain.ValidationError{Field: "user_id", Message: "user is required"}
	}
	if amount <= 0 {
		return &domain.ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if linkedEventID <= 0 {
		return &domain.ValidationError{Field: "event_id", Message: "linked event is required"}
	}
	return nil
}
