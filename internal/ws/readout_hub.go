package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"roadvision/internal/pipeline"
)

// sendQueueSize bounds the readouts waiting for a slow client; newer ones are
// dropped while it is full
const sendQueueSize = 16

// client is a connection with its own send queue. Only its writePump writes to
// conn; gorilla allows one concurrent writer.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadoutHub manages WebSocket connections for live readouts
type ReadoutHub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
}

// NewReadoutHub creates a new readout hub
func NewReadoutHub() *ReadoutHub {
	return &ReadoutHub{
		clients: make(map[*websocket.Conn]*client),
	}
}

// Register adds a connection and starts writing readouts to it
func (h *ReadoutHub) Register(conn *websocket.Conn) {
	c := newClient(conn)

	h.mu.Lock()
	h.clients[conn] = c
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[WS] Client registered (total: %d)", total)
	go h.writePump(c)
}

// Unregister removes a connection and stops its writer
func (h *ReadoutHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		c.close()
		log.Printf("[WS] Client unregistered (total: %d)", len(h.clients))
	}
}

// writePump drains the client's queue and keeps the connection alive with pings
func (h *ReadoutHub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	write := func(messageType int, data []byte) bool {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(messageType, data); err != nil {
			log.Warnf("[WS] Error sending to client: %v", err)
			h.Unregister(c.conn)
			c.conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if !write(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients
func (h *ReadoutHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every client without waiting on the network.
// A client whose queue is full misses this message.
func (h *ReadoutHub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- message:
		default:
			log.Debugf("[WS] Client %s is behind, dropping readout", c.conn.RemoteAddr())
		}
	}
}

// OnFrameResult implements pipeline.ResultHandler
func (h *ReadoutHub) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil || h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(NewReadoutMessage(result))
	if err != nil {
		log.Warnf("[WS] Error marshaling readout message: %v", err)
		return
	}
	h.Broadcast(data)
}

var _ pipeline.ResultHandler = (*ReadoutHub)(nil)
