package publish

import (
	"context"
	"errors"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// HandleOutcome applies the executor's report for a command. Confirmed
// publishes the token; Failed refunds the payer and fails the token.
// Reports for commands that are already final are ignored.
func (m *Machine) HandleOutcome(ctx context.Context, o *domain.Outcome) error {
	if o == nil {
		return &domain.ValidationError{Field: "outcome", Message: "outcome is required"}
	}
	if err := o.Validate(); err != nil {
		return err
	}

	var (
		e         *domain.Event
		duplicate bool
	)
	err := m.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		cmd, err := tx.Commands().Get(ctx, o.CommandID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("command %s: %w", o.CommandID, domain.ErrNotFound)
			}
			return domain.NewStorageError("get command", err)
		}
		if !cmd.Status.IsActive() {
			duplicate = true
			return nil
		}

		t, err := lockToken(ctx, tx, cmd.TokenID)
		if err != nil {
			return err
		}
		if !t.IsPending() || t.PendingCommandID == nil || *t.PendingCommandID != cmd.CommandID {
			return &domain.StateError{TokenID: t.TokenID, State: t.State, Action: "apply outcome of command " + cmd.CommandID}
		}
		intentEvent, intent, err := intentOf(ctx, tx, t)
		if err != nil {
			return err
		}

		if o.Status == domain.CommandConfirmed {
			e, err = m.confirmTx(ctx, tx, t, intentEvent.ActorID, o)
		} else {
			e, err = m.failTx(ctx, tx, t, intentEvent.ActorID, intent, o)
		}
		if err != nil {
			return err
		}

		var lastError *string
		if o.Reason != "" {
			lastError = &o.Reason
		}
		if err := tx.Commands().SetStatus(ctx, cmd.CommandID, o.Status, lastError); err != nil {
			return domain.NewStorageError("set command status", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate {
		m.logger.Debug("outcome for final command ignored", "command_id", o.CommandID)
		return nil
	}

	m.events.Notify(e)
	observability.RecordFinalized(string(o.Status))
	if o.Status == domain.CommandFailed {
		observability.RecordCredit(domain.ReasonRefund)
		observability.RecordCompensation("executor_failed")
	}
	m.logger.Info("publish finalized", "token_id", *e.TokenID, "command_id", o.CommandID, "status", o.Status, "event_id", e.EventID)
	return nil
}

func (m *Machine) confirmTx(ctx context.Context, tx storage.Stores, t *domain.Token, actorID int64, o *domain.Outcome) (*domain.Event, error) {
	e, err := m.events.AppendTx(ctx, tx, actorID, &domain.TokenPublished{
		TokenID:         t.TokenID,
		CommandID:       o.CommandID,
		IssuedTokens:    o.IssuedTokens,
		ContractAddress: o.ContractAddress,
		TxHash:          o.TxHash,
	})
	if err != nil {
		return nil, err
	}

	if err := transition(t, domain.TokenStatePublished); err != nil {
		return nil, err
	}
	publishedAt := m.now()
	t.PublishedAt = &publishedAt
	t.IssuedTokens = o.IssuedTokens
	if o.ContractAddress != "" {
		t.ContractAddress = &o.ContractAddress
	}
	return e, updateToken(ctx, tx, t)
}

func (m *Machine) failTx(ctx context.Context, tx storage.Stores, t *domain.Token, payer int64, intent *domain.PublishRequested, o *domain.Outcome) (*domain.Event, error) {
	e, err := m.events.AppendTx(ctx, tx, payer, &domain.PublishFailed{
		TokenID:   t.TokenID,
		CommandID: o.CommandID,
		Reason:    o.Reason,
		Refund:    intent.Price,
	})
	if err != nil {
		return nil, err
	}
	if err := refundTx(ctx, tx, payer, intent, e.EventID); err != nil {
		return nil, err
	}

	if err := transition(t, domain.TokenStateFailed); err != nil {
		return nil, err
	}
	t.RefundEventID = &e.EventID
	return e, updateToken(ctx, tx, t)
}
