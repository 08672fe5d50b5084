package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// DefaultDeadline is how long a publish may stay pending before it expires.
const DefaultDeadline = 30 * time.Minute

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Deadline time.Duration // Default: DefaultDeadline
	Interval time.Duration // Default: 1m
	Logger   *slog.Logger
}

// Reconciler expires publishes that never received an outcome and refunds
// their payers.
type Reconciler struct {
	machine  *Machine
	deadline time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler for m.
func NewReconciler(m *Machine, opts ReconcilerOptions) *Reconciler {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		machine:  m,
		deadline: deadline,
		interval: interval,
		logger:   logger.With("component", "reconciler"),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", "deadline", r.deadline, "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			n, err := r.Sweep(ctx, r.machine.now())
			if err != nil {
				r.logger.Error("sweep failed", "expired", n, "err", err)
				continue
			}
			observability.RecordReconcile(time.Since(start).Seconds(), time.Now().Unix())
			if n > 0 {
				r.logger.Info("sweep expired publishes", "expired", n)
			}
		}
	}
}

// Sweep expires every publish requested more than the deadline before now.
// It keeps going past individual failures and returns them joined.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.deadline)
	tokens, err := r.machine.backend.Tokens().ListPending(ctx, cutoff)
	if err != nil {
		return 0, domain.NewStorageError("list pending tokens", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, t := range tokens {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := r.machine.expire(ctx, t.TokenID, cutoff, now)
		if err != nil {
			observability.RecordConsistencyFault("expire_publish")
			r.logger.Error("expire failed", "token_id", t.TokenID, "err", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// expire fails a token still pending since before cutoff, refunds the payer
// and fails its command. Returns false when the token moved on meanwhile.
func (m *Machine) expire(ctx context.Context, tokenID int64, cutoff, now time.Time) (bool, error) {
	var (
		e         *domain.Event
		commandID string
	)
	err := m.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		t, err := lockToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if !t.IsPending() || t.RequestedAt == nil || !t.RequestedAt.Before(cutoff) {
			return nil
		}
		commandID = *t.PendingCommandID
		pending := now.Sub(*t.RequestedAt)

		intentEvent, intent, err := intentOf(ctx, tx, t)
		if err != nil {
			return err
		}
		e, err = m.events.AppendTx(ctx, tx, intentEvent.ActorID, &domain.PublishExpired{
			TokenID:   tokenID,
			CommandID: commandID,
			Refund:    intent.Price,
			PendingMs: pending.Milliseconds(),
		})
		if err != nil {
			return err
		}
		if err := refundTx(ctx, tx, intentEvent.ActorID, intent, e.EventID); err != nil {
			return err
		}

		// The command may be missing if its enqueue and the compensation
		// both failed.
		cmd, err := tx.Commands().Get(ctx, commandID)
		switch {
		case err == nil && cmd.Status.IsActive():
			reason := "expired after " + pending.Truncate(time.Second).String()
			if err := tx.Commands().SetStatus(ctx, commandID, domain.CommandFailed, &reason); err != nil {
				return domain.NewStorageError("set command status", err)
			}
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return domain.NewStorageError("get command", err)
		}

		if err := transition(t, domain.TokenStateFailed); err != nil {
			return err
		}
		t.RefundEventID = &e.EventID
		return updateToken(ctx, tx, t)
	})
	if err != nil || e == nil {
		return false, err
	}

	m.events.Notify(e)
	observability.RecordExpired()
	observability.RecordCredit(domain.ReasonRefund)
	observability.RecordCompensation("expired")
	observability.RecordFinalized(string(domain.CommandFailed))
	m.logger.Warn("publish expired", "token_id", tokenID, "command_id", commandID, "event_id", e.EventID)
	return true, nil
}
