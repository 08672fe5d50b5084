package clickhouse

import (
	"context"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// EventArchiveStore implements storage.EventArchive using ClickHouse.
type EventArchiveStore struct {
	conn *Conn
}

// NewEventArchiveStore creates a new EventArchiveStore.
func NewEventArchiveStore(conn *Conn) *EventArchiveStore {
	return &EventArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchiveStore)(nil)

// InsertBulk adds events in one batch. Duplicates collapse on merge.
func (s *EventArchiveStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO event_archive (
			event_id, event_type, actor_id, token_id, payload, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			uint64(e.EventID), string(e.Type), e.ActorID,
			e.TokenID, string(e.Payload), e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// LastEventID returns the highest archived event id, or 0 when empty.
func (s *EventArchiveStore) LastEventID(ctx context.Context) (int64, error) {
	var last uint64
	if err := s.conn.QueryRow(ctx, `SELECT max(event_id) FROM event_archive`).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last event id: %w", err)
	}
	return int64(last), nil
}

// CountByType returns the number of distinct archived events per type.
func (s *EventArchiveStore) CountByType(ctx context.Context) (map[domain.EventType]int64, error) {
	query := `
		SELECT event_type, uniqExact(event_id)
		FROM event_archive
		GROUP BY event_type
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int64)
	for rows.Next() {
		var eventType string
		var n uint64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[domain.EventType(eventType)] = int64(n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}

	return counts, nil
}
