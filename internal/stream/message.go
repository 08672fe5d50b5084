package stream

import (
	"encoding/json"
	"time"

	"token-ledger/internal/domain"
)

// Message is the JSON form of an event sent to clients.
type Message struct {
	EventID   int64            `json:"event_id"`
	EventType domain.EventType `json:"event_type"`
	ActorID   int64            `json:"actor_id"`
	TokenID   *int64           `json:"token_id,omitempty"`
	Payload   json.RawMessage  `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewMessage converts an event.
func NewMessage(e *domain.Event) Message {
	return Message{
		EventID:   e.EventID,
		EventType: e.Type,
		ActorID:   e.ActorID,
		TokenID:   e.TokenID,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}
