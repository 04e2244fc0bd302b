package statusapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleWebSocketRegistersSubscriber(t *testing.T) {
	h := NewHub()
	srv := newTestServer(t, h)
	dial(t, srv)

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPublishDeliversEventToSubscriber(t *testing.T) {
	h := NewHub()
	srv := newTestServer(t, h)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Publish(Event{Kind: "audit", SessionID: "sess-1", Payload: map[string]string{"op": "lock_acquired"}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "lock_acquired")
	assert.Contains(t, string(data), "sess-1")
}

func TestSubscriberRemovedOnDisconnect(t *testing.T) {
	h := NewHub()
	srv := newTestServer(t, h)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPublishToNoSubscribersIsNoop(t *testing.T) {
	h := NewHub()
	assert.NotPanics(t, func() {
		h.Publish(Event{Kind: "progress", SessionID: "sess-1"})
	})
}
