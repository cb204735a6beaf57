package mockserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rehearsal/internal/fixtures"
	"rehearsal/internal/protocol"
	"rehearsal/internal/transcript"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound queue depth per connection.
	sendQueue = 256
)

// hub tracks live connections so the server can count them, broadcast to
// them, and shut them down together.
type hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*client]bool),
	}
}

func (h *hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	return true
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues data on every live connection. Connections too slow
// to drain their queue are dropped rather than allowed to stall the rest.
func (h *hub) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.queue(data) {
			h.logger.Warn("dropping slow connection", zap.String("remote", c.conn.RemoteAddr().String()))
			h.remove(c)
			c.conn.Close()
		}
	}
}

// closeAll disconnects every client and refuses new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.conn.Close()
	}
}

// client is one WebSocket connection. All writes go through the send
// channel so a single goroutine owns the wire.
type client struct {
	hub    *hub
	conn   *websocket.Conn
	send   chan []byte
	claims *fixtures.Claims
	record *transcript.Transcript
}

func newClient(h *hub, conn *websocket.Conn, claims *fixtures.Claims, record *transcript.Transcript) *client {
	return &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendQueue),
		claims: claims,
		record: record,
	}
}

// queue places data on the outbound channel without blocking. A full
// queue returns false; the caller decides the connection's fate.
func (c *client) queue(data []byte) bool {
	defer func() {
		// The hub may have closed the channel between the liveness check
		// and the send.
		recover()
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings. One writePump runs per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// emitter returns the Emitter scripts use to answer this client. Every
// emitted envelope is validated, recorded, and counted before it is
// queued.
func (c *client) emitter(s *Server) Emitter {
	return func(env protocol.Envelope) error {
		if err := protocol.Validate(env); err != nil {
			return err
		}
		data, err := protocol.Encode(env)
		if err != nil {
			return err
		}
		c.record.Append(transcript.Sent, time.Now().UTC(), env)
		s.metrics.Envelopes.WithLabelValues(string(env.EnvelopeType()), "sent").Inc()
		if !c.queue(data) {
			return errSendQueueFull
		}
		return nil
	}
}
