package memory

import (
	"context"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// EventArchive is an in-memory implementation of storage.EventArchive.
type EventArchive struct {
	mu     sync.RWMutex
	events map[int64]*domain.Event
}

// NewEventArchive creates a new in-memory event archive.
func NewEventArchive() *EventArchive {
	return &EventArchive{
		events: make(map[int64]*domain.Event),
	}
}

// InsertBulk stores copies of events; re-sent ids replace earlier copies.
func (a *EventArchive) InsertBulk(_ context.Context, events []*domain.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range events {
		a.events[e.EventID] = e.Clone()
	}
	return nil
}

// LastEventID returns the highest archived event id, or 0 when empty.
func (a *EventArchive) LastEventID(_ context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var last int64
	for id := range a.events {
		if id > last {
			last = id
		}
	}
	return last, nil
}

// CountByType returns the number of archived events per type.
func (a *EventArchive) CountByType(_ context.Context) (map[domain.EventType]int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	counts := make(map[domain.EventType]int64)
	for _, e := range a.events {
		counts[e.Type]++
	}
	return counts, nil
}

// Verify interface compliance at compile time.
var _ storage.EventArchive = (*EventArchive)(nil)
