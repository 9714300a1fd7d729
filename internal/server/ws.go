package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/logger"
)

const (
	// wsSendBuffer is the per-client event backlog. A client that falls
	// this far behind is disconnected instead of stalling the bus.
	wsSendBuffer = 64

	wsWriteWait = 10 * time.Second
)

// wsClient is one websocket connection with its buffered send queue.
type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
}

// writeLoop serializes queued events onto the connection. It exits when
// the send channel closes or a write fails, closing the connection so
// the reader unblocks.
func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// wsHub fans bus events out to websocket clients. One bus subscription
// feeds every connection; each connection gets its own writer goroutine
// so one slow peer cannot block the others.
type wsHub struct {
	bus      events.EventBus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	subID   string
}

func newWSHub(bus events.EventBus) *wsHub {
	return &wsHub{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// start subscribes the hub to the full event stream.
func (h *wsHub) start(ctx context.Context) error {
	sub, err := h.bus.Subscribe(ctx, events.EventFilter{}, h.broadcast)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.subID = sub.ID
	h.mu.Unlock()
	return nil
}

// stop unsubscribes from the bus and disconnects every client.
func (h *wsHub) stop() {
	h.mu.Lock()
	subID := h.subID
	h.subID = ""
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if subID != "" {
		if err := h.bus.Unsubscribe(subID); err != nil {
			logger.Warn("unsubscribe websocket hub: %v", err)
		}
	}
}

// broadcast queues an event for every connected client. Clients whose
// buffer is full are dropped; their writer goroutine sees the closed
// channel and tears the connection down.
func (h *wsHub) broadcast(event events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			logger.Warn("dropping slow websocket client (%d events behind)", wsSendBuffer)
			close(c.send)
			delete(h.clients, c)
		}
	}
	return nil
}

// handle upgrades the request and serves the connection until the peer
// disconnects. Reads are discarded; the read loop only exists to notice
// the connection going away.
func (h *wsHub) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan events.Event, wsSendBuffer),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	logger.Debug("websocket client connected (%d active)", count)

	go client.writeLoop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
	conn.Close()
}

// remove detaches a client if it is still registered and closes its
// send queue so the writer exits.
func (h *wsHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
}
