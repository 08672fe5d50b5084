// Package stream fans committed events out to WebSocket clients.
package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// Hub keeps the connected clients. Publish never blocks: a client whose
// buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type client struct {
	send  chan Message
	types map[domain.EventType]bool // empty: all types
}

// NewHub creates a Hub. A nil logger uses slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With("component", "stream"),
	}
}

// Publish queues e for every client subscribed to its type.
func (h *Hub) Publish(e *domain.Event) {
	msg := NewMessage(e)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if len(c.types) > 0 && !c.types[e.Type] {
			continue
		}
		select {
		case c.send <- msg:
		default:
			observability.RecordStreamDropped()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams events of the given types (all
// when empty) until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, types []domain.EventType) {
	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{send: make(chan Message, sendBuffer), types: make(map[domain.EventType]bool, len(types))}
	for _, t := range types {
		c.types[t] = true
	}
	h.add(c)
	defer h.remove(c)

	done := make(chan struct{})
	go h.write(wc, c, done)
	read(wc)
	close(done)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// read discards client messages; it returns when the connection closes.
func read(wc *websocket.Conn) {
	wc.SetReadLimit(512)
	for {
		if _, _, err := wc.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) write(wc *websocket.Conn, c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer wc.Close()

	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
