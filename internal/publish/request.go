package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Request asks for a token to be published.
type Request struct {
	TokenID     int64
	RequesterID int64
	// IdempotencyKey makes retries safe. Reusing a key returns the first
	// result; reusing it for another token or requester is rejected.
	IdempotencyKey string
}

// Result describes an accepted publish request.
type Result struct {
	TokenID       int64
	CommandID     string
	IntentEventID int64
	Price         int64
	// Replayed is set when the result comes from an earlier request with
	// the same idempotency key.
	Replayed bool
}

// handoffTimeout bounds the enqueue and its compensation after the debit
// has committed.
const handoffTimeout = 10 * time.Second

// errKeyTaken aborts a unit of work whose idempotency key was recorded
// concurrently; the caller replays the recorded result.
var errKeyTaken = errors.New("idempotency key taken")

// RequestPublish debits the publish price, records the intent and hands a
// publish command to the dispatch queue. The requester must own or manage
// the token and hold launch-ico; the token must be Draft.
//
// The intent event, the debit and the move to PendingPublish commit as one
// unit. The command is enqueued after that commit; if the enqueue fails the
// debit is refunded and the token goes back to Draft.
func (m *Machine) RequestPublish(ctx context.Context, req Request) (*Result, error) {
	res, err := m.requestPublish(ctx, req)
	observability.RecordPublishRequest(outcomeLabel(res, err))
	return res, err
}

func (m *Machine) requestPublish(ctx context.Context, req Request) (*Result, error) {
	t, err := m.authorizeToken(ctx, req.RequesterID, req.TokenID)
	if err != nil {
		return nil, err
	}
	if err := m.access.Require(ctx, req.RequesterID, domain.CapLaunchICO, nil); err != nil {
		return nil, err
	}

	hash := requestHash(req)
	if req.IdempotencyKey != "" {
		res, err := m.replay(ctx, req.IdempotencyKey, hash)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return res, err
		}
	}

	price, err := m.pricing.PriceFor(domain.ActionERC20Publish)
	if err != nil {
		return nil, err
	}

	commandID := uuid.NewString()
	var intent *domain.Event
	err = m.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		var err error
		t, err = lockToken(ctx, tx, req.TokenID)
		if err != nil {
			return err
		}
		// Checked under the token lock so a concurrent request with the
		// same key is replayed instead of rejected.
		if req.IdempotencyKey != "" {
			if _, err := tx.Idempotency().Get(ctx, req.IdempotencyKey); err == nil {
				return errKeyTaken
			} else if !errors.Is(err, storage.ErrNotFound) {
				return domain.NewStorageError("get idempotency key", err)
			}
		}
		if t.State != domain.TokenStateDraft {
			return &domain.StateError{TokenID: t.TokenID, State: t.State, Action: "request publish"}
		}

		balance, err := ledger.BalanceTx(ctx, tx, req.RequesterID)
		if err != nil {
			return err
		}
		if balance < price {
			return &domain.InsufficientFundsError{Balance: balance, Price: price}
		}

		intent, err = m.events.AppendTx(ctx, tx, req.RequesterID, &domain.PublishRequested{
			TokenID:     t.TokenID,
			Name:        t.Name,
			Symbol:      t.Symbol,
			TotalSupply: t.TotalSupply,
			Price:       price,
			CommandID:   commandID,
		})
		if err != nil {
			return err
		}
		if price > 0 {
			if _, err := ledger.DebitTx(ctx, tx, req.RequesterID, price, domain.ReasonERC20Publish, intent.EventID); err != nil {
				return err
			}
		}

		if err := transition(t, domain.TokenStatePendingPublish); err != nil {
			return err
		}
		requestedAt := m.now()
		t.PendingCommandID = &commandID
		t.IntentEventID = &intent.EventID
		t.RequestedAt = &requestedAt
		t.RefundEventID = nil
		if err := updateToken(ctx, tx, t); err != nil {
			return err
		}

		if req.IdempotencyKey == "" {
			return nil
		}
		err = tx.Idempotency().Insert(ctx, &storage.IdempotencyRecord{
			Key:           req.IdempotencyKey,
			RequestHash:   hash,
			TokenID:       t.TokenID,
			CommandID:     commandID,
			IntentEventID: intent.EventID,
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			return errKeyTaken
		}
		return domain.NewStorageError("insert idempotency key", err)
	})
	if errors.Is(err, errKeyTaken) {
		res, err := m.replay(ctx, req.IdempotencyKey, hash)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("key %q released concurrently: %w", req.IdempotencyKey, domain.ErrNotFound)
		}
		return res, err
	}
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			observability.RecordInsufficientFunds()
		}
		return nil, err
	}

	m.events.Notify(intent)
	if price > 0 {
		observability.RecordDebit()
	}

	// The debit is committed; finish the handoff even if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handoffTimeout)
	defer cancel()

	if err := m.enqueue(ctx, t, commandID, intent.EventID); err != nil {
		m.logger.Warn("enqueue failed, compensating", "token_id", t.TokenID, "command_id", commandID, "err", err)
		if cerr := m.abort(ctx, t.TokenID, commandID, req.IdempotencyKey, err.Error()); cerr != nil {
			observability.RecordConsistencyFault("publish_compensation")
			m.logger.Error("compensation failed, left for reconciliation",
				"token_id", t.TokenID, "command_id", commandID, "event_id", intent.EventID,
				"err", fmt.Errorf("%w: %v", domain.ErrConsistency, cerr))
		}
		return nil, err
	}

	m.logger.Info("publish requested", "token_id", t.TokenID, "user_id", req.RequesterID,
		"command_id", commandID, "event_id", intent.EventID, "price", price)
	return &Result{TokenID: t.TokenID, CommandID: commandID, IntentEventID: intent.EventID, Price: price}, nil
}

// replay returns the result recorded under key. Returns storage.ErrNotFound
// when the key is unused. A recorded command that never reached the queue
// is enqueued again.
func (m *Machine) replay(ctx context.Context, key, hash string) (*Result, error) {
	rec, err := m.backend.Idempotency().Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, domain.NewStorageError("get idempotency key", err)
	}
	if rec.RequestHash != hash {
		return nil, fmt.Errorf("key %q: %w", key, domain.ErrIdempotencyMismatch)
	}

	t, err := m.Get(ctx, rec.TokenID)
	if err != nil {
		return nil, err
	}
	if t.IsPending() && t.PendingCommandID != nil && *t.PendingCommandID == rec.CommandID {
		if _, err := m.backend.Commands().Get(ctx, rec.CommandID); errors.Is(err, storage.ErrNotFound) {
			if err := m.enqueue(ctx, t, rec.CommandID, rec.IntentEventID); err != nil {
				return nil, err
			}
			m.logger.Info("re-enqueued missing command", "token_id", t.TokenID, "command_id", rec.CommandID)
		} else if err != nil {
			return nil, domain.NewStorageError("get command", err)
		}
	}

	intent, err := m.events.Get(ctx, rec.IntentEventID)
	if err != nil {
		return nil, err
	}
	p, err := domain.DecodePayload(intent)
	if err != nil {
		return nil, err
	}
	var price int64
	if pr, ok := p.(*domain.PublishRequested); ok {
		price = pr.Price
	}

	return &Result{
		TokenID:       rec.TokenID,
		CommandID:     rec.CommandID,
		IntentEventID: rec.IntentEventID,
		Price:         price,
		Replayed:      true,
	}, nil
}

func (m *Machine) enqueue(ctx context.Context, t *domain.Token, commandID string, intentEventID int64) error {
	cmd, err := domain.NewPublishCommand(commandID, &domain.PublishCommand{
		TokenID:       t.TokenID,
		OwnerID:       t.OwnerID,
		Name:          t.Name,
		Symbol:        t.Symbol,
		TotalSupply:   t.TotalSupply,
		IntentEventID: intentEventID,
	})
	if err != nil {
		return err
	}
	_, err = m.queue.Enqueue(ctx, cmd)
	return err
}

// abort compensates a publish whose command never reached the queue: it
// logs the abort, refunds the payer, returns the token to Draft and frees
// the idempotency key. The token must still be pending on commandID.
func (m *Machine) abort(ctx context.Context, tokenID int64, commandID, key, reason string) error {
	var e *domain.Event
	err := m.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		t, err := lockToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if !t.IsPending() || t.PendingCommandID == nil || *t.PendingCommandID != commandID {
			return nil
		}

		intentEvent, intent, err := intentOf(ctx, tx, t)
		if err != nil {
			return err
		}
		e, err = m.events.AppendTx(ctx, tx, intentEvent.ActorID, &domain.PublishAborted{
			TokenID:       tokenID,
			CommandID:     commandID,
			IntentEventID: intentEvent.EventID,
			Refund:        intent.Price,
			Reason:        reason,
		})
		if err != nil {
			return err
		}
		if err := refundTx(ctx, tx, intentEvent.ActorID, intent, e.EventID); err != nil {
			return err
		}

		if err := transition(t, domain.TokenStateDraft); err != nil {
			return err
		}
		t.IntentEventID = nil
		if err := updateToken(ctx, tx, t); err != nil {
			return err
		}
		if key != "" {
			return domain.NewStorageError("delete idempotency key", tx.Idempotency().Delete(ctx, key))
		}
		return nil
	})
	if err != nil || e == nil {
		return err
	}

	m.events.Notify(e)
	observability.RecordCredit(domain.ReasonRefund)
	observability.RecordCompensation("enqueue_failed")
	m.logger.Info("publish aborted", "token_id", tokenID, "command_id", commandID, "event_id", e.EventID)
	return nil
}

func requestHash(req Request) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", req.TokenID, req.RequesterID)))
	return hex.EncodeToString(sum[:])
}

func outcomeLabel(res *Result, err error) string {
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrAuthorization):
		return "unauthorized"
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		return "idempotency_mismatch"
	default:
		return "error"
	}
}
