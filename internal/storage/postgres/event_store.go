package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// eventLogLockKey is the advisory lock every append holds until commit, so
// event ids become visible in increasing order.
const eventLogLockKey = 74_126_100

const eventColumns = `event_id, event_type, actor_id, token_id, payload, created_at`

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	q querier
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{q: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append inserts the event and sets EventID and CreatedAt.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if e == nil || e.Type == "" {
		return storage.ErrInvalidInput
	}

	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, eventLogLockKey); err != nil {
			return fmt.Errorf("lock event log: %w", err)
		}

		query := `
			INSERT INTO events (event_type, actor_id, token_id, payload)
			VALUES ($1, $2, $3, $4)
			RETURNING event_id, created_at
		`
		err := tx.QueryRow(ctx, query, string(e.Type), e.ActorID, e.TokenID, string(e.Payload)).
			Scan(&e.EventID, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
}

// GetByID retrieves an event by id. Returns ErrNotFound if not exists.
func (s *EventStore) GetByID(ctx context.Context, eventID int64) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE event_id = $1`

	e, err := scanEvent(s.q.QueryRow(ctx, query, eventID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get event by id: %w", err)
	}
	return e, nil
}

// Query returns matching events newest first.
func (s *EventStore) Query(ctx context.Context, f storage.EventFilter) ([]*domain.Event, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		where = append(where, "event_type = ANY("+arg(types)+")")
	}
	if f.ActorID != nil {
		where = append(where, "actor_id = "+arg(*f.ActorID))
	}
	if f.TokenID != nil {
		where = append(where, "token_id = "+arg(*f.TokenID))
	}
	if f.SinceID > 0 {
		where = append(where, "event_id > "+arg(f.SinceID))
	}
	if f.BeforeID > 0 {
		where = append(where, "event_id < "+arg(f.BeforeID))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY event_id DESC LIMIT ` + arg(storage.ClampLimit(f.Limit, 20))

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Scan returns events after sinceID in ascending order.
func (s *EventStore) Scan(ctx context.Context, sinceID int64, limit int) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE event_id > $1
		ORDER BY event_id ASC
		LIMIT $2
	`

	rows, err := s.q.Query(ctx, query, sinceID, storage.ClampLimit(limit, storage.MaxQueryLimit))
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Count returns the number of events of a type, optionally for one actor.
func (s *EventStore) Count(ctx context.Context, t domain.EventType, actorID *int64) (int64, error) {
	query := `
		SELECT count(*)
		FROM events
		WHERE event_type = $1 AND ($2::BIGINT IS NULL OR actor_id = $2)
	`

	var n int64
	if err := s.q.QueryRow(ctx, query, string(t), actorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// scanEvent scans a single row into an Event.
func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	var eventType string
	var payload []byte

	if err := row.Scan(&e.EventID, &eventType, &e.ActorID, &e.TokenID, &payload, &e.CreatedAt); err != nil {
		return nil, err
	}

	e.Type = domain.EventType(eventType)
	e.Payload = payload
	return &e, nil
}

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}
