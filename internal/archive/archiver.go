// Package archive copies the event log into the analytical archive.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"token-ledger/internal/eventlog"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Options configures an Archiver.
type Options struct {
	BatchSize int           // Default: 500
	Interval  time.Duration // Default: 5m
	Logger    *slog.Logger
}

// Archiver copies events past the archive's last event id, oldest first.
// Re-copying an event is harmless: the archive keeps one row per id.
type Archiver struct {
	events    *eventlog.Log
	archive   storage.EventArchive
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

// New creates an Archiver.
func New(events *eventlog.Log, archive storage.EventArchive, opts Options) *Archiver {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	if batchSize > storage.MaxQueryLimit {
		batchSize = storage.MaxQueryLimit
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		events:    events,
		archive:   archive,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With("component", "archive"),
	}
}

// RunOnce copies batches until the archive has caught up with the log.
// Returns the number of events copied.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	since, err := a.archive.LastEventID(ctx)
	if err != nil {
		return 0, fmt.Errorf("read archive cursor: %w", err)
	}

	copied := 0
	for {
		batch, err := a.events.Scan(ctx, since, a.batchSize)
		if err != nil {
			return copied, err
		}
		if len(batch) == 0 {
			break
		}
		if err := a.archive.InsertBulk(ctx, batch); err != nil {
			return copied, fmt.Errorf("archive events after %d: %w", since, err)
		}
		copied += len(batch)
		since = batch[len(batch)-1].EventID
		if len(batch) < a.batchSize {
			break
		}
	}

	var lag int64
	if latest, err := a.events.Scan(ctx, since, 1); err == nil && len(latest) > 0 {
		lag = latest[0].EventID - since
	}
	observability.RecordArchive(copied, lag, time.Now().Unix())
	return copied, nil
}

// Run archives every interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started", "interval", a.interval, "batch_size", a.batchSize)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		n, err := a.RunOnce(ctx)
		switch {
		case err != nil:
			a.logger.Error("archive round failed", "copied", n, "err", err)
		case n > 0:
			a.logger.Info("events archived", "copied", n)
		}

		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
