package memory

import (
	"context"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	view
}

// Append assigns the next id and stores a copy of the event.
func (s *EventStore) Append(_ context.Context, e *domain.Event) error {
	if e == nil || e.Type == "" {
		return storage.ErrInvalidInput
	}

	return s.write("events.append", func(st *state) error {
		st.nextEventID++
		stored := e.Clone()
		stored.EventID = st.nextEventID
		stored.CreatedAt = time.Now().UTC()

		st.events = append(st.events, stored)
		if stored.TokenID != nil {
			st.tokenEvents[*stored.TokenID] = append(st.tokenEvents[*stored.TokenID], len(st.events)-1)
		}

		e.EventID = stored.EventID
		e.CreatedAt = stored.CreatedAt
		return nil
	})
}

// GetByID retrieves an event by id. Ids are dense, so this is an index lookup.
func (s *EventStore) GetByID(_ context.Context, eventID int64) (*domain.Event, error) {
	var result *domain.Event
	s.read(func(st *state) {
		if eventID >= 1 && eventID <= int64(len(st.events)) {
			result = st.events[eventID-1].Clone()
		}
	})
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// Query returns matching events newest first.
func (s *EventStore) Query(_ context.Context, f storage.EventFilter) ([]*domain.Event, error) {
	limit := storage.ClampLimit(f.Limit, 20)

	types := make(map[domain.EventType]bool, len(f.Types))
	for _, t := range f.Types {
		types[t] = true
	}
	match := func(e *domain.Event) bool {
		if f.SinceID > 0 && e.EventID <= f.SinceID {
			return false
		}
		if f.BeforeID > 0 && e.EventID >= f.BeforeID {
			return false
		}
		if len(types) > 0 && !types[e.Type] {
			return false
		}
		if f.ActorID != nil && e.ActorID != *f.ActorID {
			return false
		}
		return true
	}

	var result []*domain.Event
	s.read(func(st *state) {
		// Use the token index when filtering by token.
		if f.TokenID != nil {
			idx := st.tokenEvents[*f.TokenID]
			for i := len(idx) - 1; i >= 0 && len(result) < limit; i-- {
				if e := st.events[idx[i]]; match(e) {
					result = append(result, e.Clone())
				}
			}
			return
		}
		for i := len(st.events) - 1; i >= 0 && len(result) < limit; i-- {
			e := st.events[i]
			if f.SinceID > 0 && e.EventID <= f.SinceID {
				break
			}
			if match(e) {
				result = append(result, e.Clone())
			}
		}
	})
	return result, nil
}

// Scan returns events after sinceID in ascending order.
func (s *EventStore) Scan(_ context.Context, sinceID int64, limit int) ([]*domain.Event, error) {
	limit = storage.ClampLimit(limit, storage.MaxQueryLimit)
	if sinceID < 0 {
		sinceID = 0
	}

	var result []*domain.Event
	s.read(func(st *state) {
		for i := sinceID; i < int64(len(st.events)) && len(result) < limit; i++ {
			result = append(result, st.events[i].Clone())
		}
	})
	return result, nil
}

// Count returns the number of events of a type, optionally for one actor.
func (s *EventStore) Count(_ context.Context, t domain.EventType, actorID *int64) (int64, error) {
	var n int64
	s.read(func(st *state) {
		for _, e := range st.events {
			if e.Type == t && (actorID == nil || e.ActorID == *actorID) {
				n++
			}
		}
	})
	return n, nil
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
