// Package livefeed pushes readings to websocket clients and consumes such a
// feed on the other end.
package livefeed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	sendBuffer   = 8
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Hub broadcasts every stored reading to the connected websocket clients.
// It implements ingest.Sink.
type Hub struct {
	upgrader websocket.Upgrader
	latest   func() (types.MeterReading, bool)
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub. latest, when not nil, supplies the reading sent to a
// client right after it connects.
func NewHub(latest func() (types.MeterReading, bool)) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		latest:  latest,
		log:     logrus.WithField("component", "livefeed"),
		clients: make(map[*client]struct{}),
	}
}

// Store queues reading for every client. Clients that fall behind are
// disconnected rather than slowing down the caller.
func (h *Hub) Store(_ context.Context, reading types.MeterReading) error {
	msg := reading.ToJsonBytes()

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithField("remote", c.conn.RemoteAddr().String()).Warn("WebSocket client too slow, disconnecting")
		h.remove(c)
	}
	return nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	// Send current reading immediately if available
	if h.latest != nil {
		if reading, ok := h.latest(); ok {
			c.send <- reading.ToJsonBytes()
		}
	}
	h.add(c)
	go h.writePump(c)

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.WithField("remote", c.conn.RemoteAddr().String()).Debug("WebSocket client connected")
}

// remove unregisters c and closes its send channel, which ends writePump.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
