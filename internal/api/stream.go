package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	// clientBufferFrames bounds each client's pending frames. A client
	// that falls behind loses its oldest frames and is told how many,
	// the same lossy contract the engine's broadcaster gives in-process
	// subscribers. It is never disconnected for being slow.
	clientBufferFrames = 256
)

// Hub tracks connected WebSocket clients and fans market-data frames out
// to them. Each frame is marshalled once and enqueued per client; slow
// clients shed load individually and never block the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "ws-hub"),
	}
}

// BroadcastFrame sends an event frame to all connected clients.
func (h *Hub) BroadcastFrame(frame EventFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal event frame", "error", err)
		return
	}

	h.mu.RLock()
	for client := range h.clients {
		client.enqueue(data)
	}
	h.mu.RUnlock()
}

// ClientCount reports the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "client_id", c.id, "count", count)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.mu.Lock()
		shed := c.droppedTotal
		c.mu.Unlock()
		h.logger.Info("client disconnected", "client_id", c.id, "frames_shed", shed, "count", count)
	}
}

// Client is one WebSocket subscriber with a bounded drop-oldest frame
// buffer between the hub and the connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	mu           sync.Mutex
	queue        [][]byte
	dropped      uint64 // frames lost since the last drain
	droppedTotal uint64
	closed       bool

	notify chan struct{}
	done   chan struct{}
}

// NewClient attaches a connection to the hub and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	client := &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	hub.add(client)
	go client.writePump()
	go client.readPump()
	return client
}

// enqueue buffers one marshalled frame, dropping the client's oldest
// frame when the buffer is full. Never blocks the hub.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= clientBufferFrames {
		copy(c.queue, c.queue[1:])
		c.queue = c.queue[:len(c.queue)-1]
		c.dropped++
		c.droppedTotal++
	}
	c.queue = append(c.queue, data)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// drain takes every buffered frame plus the count of frames lost since
// the previous drain.
func (c *Client) drain() (frames [][]byte, dropped uint64) {
	c.mu.Lock()
	frames = c.queue
	c.queue = nil
	dropped = c.dropped
	c.dropped = 0
	c.mu.Unlock()
	return frames, dropped
}

// close detaches the client from the hub and tears the connection down.
// Safe to call from either pump.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.hub.remove(c)
	close(c.done)
	c.conn.Close()
}

// writePump drains the client's buffer onto the connection. When frames
// were shed since the last drain, a stream_lagged frame precedes the
// survivors so the subscriber knows it has a gap and can resync (for
// example by fetching depth).
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case <-c.notify:
			frames, dropped := c.drain()
			if dropped > 0 {
				gap, err := json.Marshal(EventFrame{Type: "stream_lagged", Dropped: dropped})
				if err == nil {
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, gap); err != nil {
						return
					}
				}
			}
			for _, frame := range frames {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump watches the connection for close and keeps the pong deadline
// fresh. The stream is one-way; client messages are discarded.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}
