// Package eventlog is the append-only record of every state-changing action.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Publisher receives events after they are committed. Publish must not block.
type Publisher interface {
	Publish(e *domain.Event)
}

// Options configures Log.
type Options struct {
	Publisher Publisher    // optional live fan-out
	Logger    *slog.Logger // defaults to slog.Default()
}

// Log appends and reads events.
type Log struct {
	backend   storage.Backend
	publisher Publisher
	logger    *slog.Logger
}

// New creates a Log over backend.
func New(backend storage.Backend, opts Options) *Log {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		backend:   backend,
		publisher: opts.Publisher,
		logger:    logger.With("component", "eventlog"),
	}
}

// Append validates p and stores it in its own unit of work.
func (l *Log) Append(ctx context.Context, actorID int64, p domain.Payload) (*domain.Event, error) {
	var e *domain.Event
	err := l.backend.InTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		var err error
		e, err = l.AppendTx(ctx, tx, actorID, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Notify(e)
	return e, nil
}

// AppendTx validates p and stores it inside tx. The caller must call Notify
// once tx has committed.
func (l *Log) AppendTx(ctx context.Context, tx storage.Stores, actorID int64, p domain.Payload) (*domain.Event, error) {
	e, err := domain.NewEvent(actorID, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Events().Append(ctx, e); err != nil {
		return nil, domain.NewStorageError("append event", err)
	}
	return e, nil
}

// Notify records and fans out committed events.
func (l *Log) Notify(events ...*domain.Event) {
	for _, e := range events {
		if e == nil {
			continue
		}
		observability.RecordEventAppended(string(e.Type))
		l.logger.Debug("event appended", "event_id", e.EventID, "event_type", e.Type, "user_id", e.ActorID)
		if l.publisher != nil {
			l.publisher.Publish(e)
		}
	}
}

// Get returns one event.
func (l *Log) Get(ctx context.Context, eventID int64) (*domain.Event, error) {
	e, err := l.backend.Events().GetByID(ctx, eventID)
	if err != nil {
		return nil, translate("get event", err)
	}
	return e, nil
}

// Query returns events matching f, newest first. Unknown types are rejected.
func (l *Log) Query(ctx context.Context, f storage.EventFilter) ([]*domain.Event, error) {
	for _, t := range f.Types {
		if !domain.IsKnownEventType(t) {
			return nil, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", t)}
		}
	}
	if f.Limit < 0 || f.SinceID < 0 || f.BeforeID < 0 {
		return nil, &domain.ValidationError{Field: "limit", Message: "paging values must not be negative"}
	}

	events, err := l.backend.Events().Query(ctx, f)
	if err != nil {
		return nil, translate("query events", err)
	}
	return events, nil
}

// Scan returns up to limit events after sinceID, oldest first.
func (l *Log) Scan(ctx context.Context, sinceID int64, limit int) ([]*domain.Event, error) {
	events, err := l.backend.Events().Scan(ctx, sinceID, limit)
	if err != nil {
		return nil, translate("scan events", err)
	}
	return events, nil
}

// Count returns the number of events of type t, optionally for one actor.
func (l *Log) Count(ctx context.Context, t domain.EventType, actorID *int64) (int64, error) {
	if !domain.IsKnownEventType(t) {
		return 0, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", t)}
	}
	n, err := l.backend.Events().Count(ctx, t, actorID)
	if err != nil {
		return 0, translate("count events", err)
	}
	return n, nil
}

// ForToken returns the full history of a token, oldest first.
func (l *Log) ForToken(ctx context.Context, tokenID int64) ([]*domain.Event, error) {
	var newestFirst []*domain.Event
	f := storage.EventFilter{TokenID: &tokenID, Limit: storage.MaxQueryLimit}
	for {
		page, err := l.backend.Events().Query(ctx, f)
		if err != nil {
			return nil, translate("query token events", err)
		}
		newestFirst = append(newestFirst, page...)
		if len(page) < f.Limit {
			break
		}
		f.BeforeID = page[len(page)-1].EventID
	}

	history := make([]*domain.Event, len(newestFirst))
	for i, e := range newestFirst {
		history[len(newestFirst)-1-i] = e
	}
	return history, nil
}

// Types returns every event type, sorted.
func (l *Log) Types() []domain.EventType {
	return domain.EventTypes()
}

func translate(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return domain.NewStorageError(op, err)
}
