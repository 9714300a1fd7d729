package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irjudson/lumina/internal/events"
)

func (h *wsHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func dialWS(t *testing.T, f *fixture) (*websocket.Conn, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.srv.hub.start(ctx))

	ts := httptest.NewServer(f.srv.Router())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	// The handler registers the client just after the handshake; wait
	// for it before publishing.
	require.Eventually(t, func() bool {
		return f.srv.hub.clientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	return conn, func() {
		conn.Close()
		f.srv.hub.stop()
		ts.Close()
		cancel()
	}
}

func TestWebSocketStreamsBusEvents(t *testing.T) {
	f := newFixture(t)
	conn, done := dialWS(t, f)
	defer done()

	sent := events.NewChannelEvent(events.EventWatcherChange, "catalog-1", "watcher", map[string]interface{}{
		"path": "/photos/new.jpg",
	})
	require.NoError(t, f.bus.PublishAsync(sent))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.EventWatcherChange, got.Type)
	assert.Equal(t, "catalog-1", got.Channel)
	assert.Equal(t, "watcher", got.Source)
	assert.Equal(t, "/photos/new.jpg", got.Data["path"])
}

func TestWebSocketClientRemovedOnDisconnect(t *testing.T) {
	f := newFixture(t)
	conn, done := dialWS(t, f)
	defer done()

	conn.Close()
	require.Eventually(t, func() bool {
		return f.srv.hub.clientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastDropsSlowClients(t *testing.T) {
	hub := newWSHub(nil)
	client := &wsClient{send: make(chan events.Event, 1)}
	hub.clients[client] = struct{}{}

	require.NoError(t, hub.broadcast(events.NewChannelEvent(events.EventInfo, "", "test", nil)))
	require.Equal(t, 1, hub.clientCount())

	// Second event finds the buffer full; the client is dropped and
	// its queue closed behind the buffered event.
	require.NoError(t, hub.broadcast(events.NewChannelEvent(events.EventInfo, "", "test", nil)))
	require.Equal(t, 0, hub.clientCount())

	_, open := <-client.send
	assert.True(t, open)
	_, open = <-client.send
	assert.False(t, open)
}
