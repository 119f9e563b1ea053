package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campusattend/internal/metrics"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// client is one websocket subscriber. Writes are serialized through send.
type client struct {
	conn      *websocket.Conn
	room      string
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop discards inbound frames and detects disconnects.
func (c *client) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Hub fans events out to websocket subscribers grouped by room. It implements
// Publisher for in-process delivery.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(log *zap.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: checkOrigin},
		log:      log,
		rooms:    map[string]map[*client]struct{}{},
	}
}

// Serve upgrades the request and subscribes the connection to room until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, room string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, room: room, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.add(c)
	go c.writeLoop()
	c.readLoop()
	h.remove(c)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		members = map[*client]struct{}{}
		h.rooms[c.room] = members
	}
	members[c] = struct{}{}
	metrics.RealtimeSubscribers.Inc()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[c.room]; ok {
		if _, ok := members[c]; ok {
			delete(members, c)
			metrics.RealtimeSubscribers.Dec()
		}
		if len(members) == 0 {
			delete(h.rooms, c.room)
		}
	}
}

// Subscribers reports how many connections follow room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish delivers an event to local subscribers of room.
func (h *Hub) Publish(_ context.Context, room, event string, data any) error {
	env, err := newEnvelope(room, event, data)
	if err != nil {
		return err
	}
	h.Deliver(env)
	return nil
}

// Deliver sends an already encoded envelope. Slow subscribers are dropped
// rather than allowed to block the room.
func (h *Hub) Deliver(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("encode realtime event", zap.Error(err))
		return
	}
	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[env.Room]))
	for c := range h.rooms[env.Room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping slow websocket subscriber", zap.String("room", env.Room))
			c.close()
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, members := range h.rooms {
		for c := range members {
			c.close()
		}
	}
}
