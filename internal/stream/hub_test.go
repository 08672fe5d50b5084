package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/domain"
)

func dial(t *testing.T, h *Hub, types ...domain.EventType) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, types)
	}))
	t.Cleanup(srv.Close)

	wc, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { wc.Close() })

	require.Eventually(t, func() bool { return h.Clients() > 0 }, time.Second, 5*time.Millisecond)
	return wc
}

func event(id int64, typ domain.EventType) *domain.Event {
	tokenID := int64(3)
	return &domain.Event{EventID: id, Type: typ, ActorID: 7, TokenID: &tokenID, Payload: []byte(`{"token_id":3}`)}
}

func TestHub_StreamsEvents(t *testing.T) {
	h := NewHub(nil)
	wc := dial(t, h)

	h.Publish(event(1, domain.EventTokenDrafted))

	require.NoError(t, wc.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, wc.ReadJSON(&msg))
	assert.Equal(t, int64(1), msg.EventID)
	assert.Equal(t, domain.EventTokenDrafted, msg.EventType)
	require.NotNil(t, msg.TokenID)
	assert.Equal(t, int64(3), *msg.TokenID)
	assert.JSONEq(t, `{"token_id":3}`, string(msg.Payload))
}

func TestHub_FiltersByType(t *testing.T) {
	h := NewHub(nil)
	wc := dial(t, h, domain.EventTokenPublished)

	h.Publish(event(1, domain.EventTokenDrafted))
	h.Publish(event(2, domain.EventTokenPublished))

	require.NoError(t, wc.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, wc.ReadJSON(&msg))
	assert.Equal(t, int64(2), msg.EventID)
}

func TestHub_PublishDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	c := &client{send: make(chan Message, 1)}
	h.add(c)

	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 10; i++ {
			h.Publish(event(i, domain.EventTokenDrafted))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client")
	}
	assert.Len(t, c.send, 1)
	assert.Equal(t, int64(1), (<-c.send).EventID)
}

func TestHub_RemovesClosedClients(t *testing.T) {
	h := NewHub(nil)
	wc := dial(t, h)
	require.NoError(t, wc.Close())

	assert.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 5*time.Millisecond)
}
