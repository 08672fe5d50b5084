package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EventType names one variant of the closed event set.
type EventType string

const (
	EventTokenDrafted       EventType = "ERC20 Token Drafted"
	EventPublishRequested   EventType = "ERC20 Publish Requested"
	EventTokenPublished     EventType = "ERC20 Token Published"
	EventPublishFailed      EventType = "ERC20 Publish Failed"
	EventPublishAborted     EventType = "ERC20 Publish Aborted"
	EventPublishExpired     EventType = "ERC20 Publish Expired"
	EventTokenReset         EventType = "ERC20 Token Reset"
	EventCreditsIssued      EventType = "Credits Issued"
	EventPermissionsChanged EventType = "Users Changed Permissions"
)

// Event is an immutable fact in the log. Events are totally ordered by EventID.
// Corresponds to events table in PostgreSQL.
type Event struct {
	EventID   int64           // assigned on append, strictly increasing
	Type      EventType       // variant tag
	ActorID   int64           // user that caused the event
	TokenID   *int64          // indexed token reference, nil for non-token events
	Payload   json.RawMessage // JSON of the variant's payload struct
	CreatedAt time.Time
}

// Payload is implemented by every event variant.
type Payload interface {
	EventType() EventType
	Validate() error
	// TokenRef returns the token the event is about, or nil.
	TokenRef() *int64
}

var payloadFactories = map[EventType]func() Payload{
	EventTokenDrafted:       func() Payload { return &TokenDrafted{} },
	EventPublishRequested:   func() Payload { return &PublishRequested{} },
	EventTokenPublished:     func() Payload { return &TokenPublished{} },
	EventPublishFailed:      func() Payload { return &PublishFailed{} },
	EventPublishAborted:     func() Payload { return &PublishAborted{} },
	EventPublishExpired:     func() Payload { return &PublishExpired{} },
	EventTokenReset:         func() Payload { return &TokenReset{} },
	EventCreditsIssued:      func() Payload { return &CreditsIssued{} },
	EventPermissionsChanged: func() Payload { return &PermissionsChanged{} },
}

// EventTypes returns the registered event types sorted by name.
func EventTypes() []EventType {
	types := make([]EventType, 0, len(payloadFactories))
	for t := range payloadFactories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsKnownEventType reports whether t belongs to the closed set.
func IsKnownEventType(t EventType) bool {
	_, ok := payloadFactories[t]
	return ok
}

// NewEvent validates p and builds an unsaved event for it.
func NewEvent(actorID int64, p Payload) (*Event, error) {
	if p == nil {
		return nil, &ValidationError{Field: "payload", Message: "event payload is required"}
	}
	if !IsKnownEventType(p.EventType()) {
		return nil, &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", p.EventType())}
	}
	if actorID <= 0 {
		return nil, &ValidationError{Field: "actor_id", Message: "actor is required"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	return &Event{
		Type:    p.EventType(),
		ActorID: actorID,
		TokenID: clonePtr(p.TokenRef()),
		Payload: raw,
	}, nil
}

// DecodePayload unmarshals the event payload into its variant struct.
func DecodePayload(e *Event) (Payload, error) {
	factory, ok := payloadFactories[e.Type]
	if !ok {
		return nil, fmt.Errorf("decode event %d: unknown type %q", e.EventID, e.Type)
	}
	p := factory()
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("decode event %d: %w", e.EventID, err)
	}
	return p, nil
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	c.TokenID = clonePtr(e.TokenID)
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}
