// Package publish drives tokens through Draft, PendingPublish, Published
// and Failed. Every transition commits together with the event that causes
// it and the ledger entries it implies.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/ledger"
	"token-ledger/internal/storage"
)

// Authorizer answers capability questions. Implemented by access.Checker.
type Authorizer interface {
	HasCapability(ctx context.Context, userID int64, capability domain.Capability, scope *int64) (bool, error)
	Require(ctx context.Context, userID int64, capability domain.Capability, scope *int64) error
}

// Enqueuer hands commands to the dispatch queue. Implemented by dispatch.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, c *domain.Command) (string, error)
}

// Options configures a Machine. Every field except Logger and Now is required.
type Options struct {
	Backend storage.Backend
	Events  *eventlog.Log
	Queue   Enqueuer
	Pricing *ledger.Pricing
	Access  Authorizer
	Logger  *slog.Logger
	Now     func() time.Time // defaults to time.Now
}

// Machine is the token publish state machine.
type Machine struct {
	backend storage.Backend
	events  *eventlog.Log
	queue   Enqueuer
	pricing *ledger.Pricing
	access  Authorizer
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Machine.
func New(opts Options) (*Machine, error) {
	if opts.Backend == nil || opts.Events == nil || opts.Queue == nil || opts.Pricing == nil || opts.Access == nil {
		return nil, errors.New("publish: backend, events, queue, pricing and access are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		backend: opts.Backend,
		events:  opts.Events,
		queue:   opts.Queue,
		pricing: opts.Pricing,
		access:  opts.Access,
		logger:  logger.With("component", "publish"),
		now:     func() time.Time { return now().UTC() },
	}, nil
}

// CreateToken validates the token fields and stores a Draft token owned by
// actorID. The actor needs launch-ico.
func (m *Machine) CreateToken(ctx context.Context, actorID int64, name, symbol string, totalSupply int64) (*domain.Token, error) {
	if err := domain.ValidateTokenName(name); err != nil {
		return nil, err
	}
	sym, err := domain.NormalizeTokenSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateTotalSupply(totalSupply); err != nil {
		return nil, err
	}
	if err := m.access.Require(ctx, actorID, domain.CapLaunchICO, nil); err != nil {
		return nil, err
	}

	t := &domain.Token{
		OwnerID:     actorID,
		Name:        name,
		Symbol:      sym,
		TotalSupply: totalSupply,
		State:       domain.TokenStateDraft,
	}
	var e *domain.Event
	err = m.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		if err := tx.Tokens().Insert(ctx, t); err != nil {
			return domain.NewStorageError("insert token", err)
		}
		var err error
		e, err = m.events.AppendTx(ctx, tx, actorID, &domain.TokenDrafted{
			TokenID:     t.TokenID,
			Name:        t.Name,
			Symbol:      t.Symbol,
			TotalSupply: t.TotalSupply,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.events.Notify(e)
	m.logger.Info("token drafted", "token_id", t.TokenID, "user_id", actorID, "event_id", e.EventID)
	return t, nil
}

// Get returns a token.
func (m *Machine) Get(ctx context.Context, tokenID int64) (*domain.Token, error) {
	t, err := m.backend.Tokens().Get(ctx, tokenID)
	if err != nil {
		return nil, translate("get token", tokenID, err)
	}
	return t, nil
}

// ListOwned returns the tokens of an owner, newest first.
func (m *Machine) ListOwned(ctx context.Context, ownerID int64) ([]*domain.Token, error) {
	tokens, err := m.backend.Tokens().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, domain.NewStorageError("list tokens", err)
	}
	return tokens, nil
}

// ResetFailed moves a Failed token back to Draft once its refund is recorded.
// The actor must own the token or manage it.
func (m *Machine) ResetFailed(ctx context.Context, actorID, tokenID int64) (*domain.Token, error) {
	if _, err := m.authorizeToken(ctx, actorID, tokenID); err != nil {
		return nil, err
	}

	var (
		t *domain.Token
		e *domain.Event
	)
	err := m.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		var err error
		t, err = lockToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if t.State != domain.TokenStateFailed {
			return &domain.StateError{TokenID: tokenID, State: t.State, Action: "reset"}
		}
		if t.RefundEventID == nil {
			return fmt.Errorf("token %d failed without a recorded refund: %w", tokenID, domain.ErrConsistency)
		}

		e, err = m.events.AppendTx(ctx, tx, actorID, &domain.TokenReset{TokenID: tokenID, RefundEventID: *t.RefundEventID})
		if err != nil {
			return err
		}
		if err := transition(t, domain.TokenStateDraft); err != nil {
			return err
		}
		t.IntentEventID = nil
		t.RefundEventID = nil
		return updateToken(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}

	m.events.Notify(e)
	m.logger.Info("token reset", "token_id", tokenID, "user_id", actorID, "event_id", e.EventID)
	return t, nil
}

// authorizeToken loads the token and checks the actor owns or manages it.
func (m *Machine) authorizeToken(ctx context.Context, actorID, tokenID int64) (*domain.Token, error) {
	t, err := m.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID == actorID {
		return t, nil
	}
	ok, err := m.access.HasCapability(ctx, actorID, domain.CapManagement, &tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("user %d neither owns nor manages token %d: %w", actorID, tokenID, domain.ErrAuthorization)
	}
	return t, nil
}

func lockToken(ctx context.Context, tx storage.Stores, tokenID int64) (*domain.Token, error) {
	t, err := tx.Tokens().GetForUpdate(ctx, tokenID)
	if err != nil {
		return nil, translate("lock token", tokenID, err)
	}
	return t, nil
}

func updateToken(ctx context.Context, tx storage.Stores, t *domain.Token) error {
	if err := tx.Tokens().Update(ctx, t); err != nil {
		return domain.NewStorageError("update token", err)
	}
	return nil
}

// transition changes the state and keeps the pending flag in step with it.
func transition(t *domain.Token, to domain.TokenState) error {
	if !domain.CanTransition(t.State, to) {
		return &domain.StateError{TokenID: t.TokenID, State: t.State, Action: "move to " + string(to)}
	}
	t.State = to
	if to != domain.TokenStatePendingPublish {
		t.PendingCommandID = nil
		t.RequestedAt = nil
	}
	return nil
}

// intentOf returns the intent event of the token's current publish attempt.
// Its actor paid for the attempt.
func intentOf(ctx context.Context, tx storage.Stores, t *domain.Token) (*domain.Event, *domain.PublishRequested, error) {
	if t.IntentEventID == nil {
		return nil, nil, fmt.Errorf("token %d has no intent event: %w", t.TokenID, domain.ErrConsistency)
	}
	e, err := tx.Events().GetByID(ctx, *t.IntentEventID)
	if err != nil {
		return nil, nil, domain.NewStorageError("get intent event", err)
	}
	p, err := domain.DecodePayload(e)
	if err != nil {
		return nil, nil, fmt.Errorf("token %d: %w", t.TokenID, err)
	}
	intent, ok := p.(*domain.PublishRequested)
	if !ok {
		return nil, nil, fmt.Errorf("token %d: event %d is %s: %w", t.TokenID, e.EventID, e.Type, domain.ErrConsistency)
	}
	return e, intent, nil
}

// refundTx credits the payer of the intent back, linked to refundEventID.
func refundTx(ctx context.Context, tx storage.Stores, payer int64, intent *domain.PublishRequested, refundEventID int64) error {
	if intent.Price == 0 {
		return nil
	}
	_, err := ledger.CreditTx(ctx, tx, payer, intent.Price, domain.ReasonRefund, refundEventID)
	return err
}

func translate(op string, tokenID int64, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %d: %w", op, tokenID, domain.ErrNotFound)
	}
	return domain.NewStorageError(op, err)
}
