package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"token-ledger/internal/chain"
	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
)

// OutcomeHandler applies an executor outcome. Implemented by publish.Machine.
type OutcomeHandler interface {
	HandleOutcome(ctx context.Context, o *domain.Outcome) error
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Interval  time.Duration // Default: 5s
	BatchSize int           // Default: 10
	Logger    *slog.Logger
}

// Worker claims queued commands and submits them to the executor.
type Worker struct {
	queue     *Queue
	submitter chain.Submitter
	handler   OutcomeHandler
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewWorker creates a worker.
func NewWorker(queue *Queue, submitter chain.Submitter, handler OutcomeHandler, opts WorkerOptions) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		queue:     queue,
		submitter: submitter,
		handler:   handler,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With("component", "dispatch-worker"),
	}
}

// Run drains the queue every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "interval", w.interval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("dispatch round failed", "err", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and submits it. Returns the number of commands
// submitted.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	commands, err := w.queue.Claim(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	for _, c := range commands {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		w.submit(ctx, c)
	}
	return len(commands), nil
}

func (w *Worker) submit(ctx context.Context, c *domain.Command) {
	start := time.Now()
	outcome, err := w.submitter.Submit(ctx, c)
	observability.RecordSubmitLatency(time.Since(start).Seconds())

	if err != nil {
		w.logger.Warn("submit failed", "command_id", c.CommandID, "token_id", c.TokenID, "attempt", c.Attempts, "err", err)
		outcome = &domain.Outcome{CommandID: c.CommandID, Status: domain.CommandFailed, Reason: err.Error()}
	}
	if outcome == nil {
		w.logger.Debug("command accepted", "command_id", c.CommandID, "token_id", c.TokenID)
		return
	}
	if outcome.CommandID == "" {
		outcome.CommandID = c.CommandID
	}

	if err := w.handler.HandleOutcome(ctx, outcome); err != nil {
		// The command stays Dispatched; reconciliation expires it.
		w.logger.Error("apply outcome failed", "command_id", c.CommandID, "token_id", c.TokenID, "err", err)
		return
	}
	w.logger.Info("command finalized", "command_id", c.CommandID, "token_id", c.TokenID, "status", outcome.Status)
}
