package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
)

const (
	hubBuffer    = 256
	writeTimeout = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // feed carries no credentials
	},
}

// Hub fans limiter events out to WebSocket clients. It implements
// limiter.Observer; events are queued and written by Run so a slow client
// never stalls a check. Events are dropped when the queue is full.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	events  chan limiter.Event
	dropped atomic.Uint64
	log     *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan limiter.Event, hubBuffer),
		log:     log,
	}
}

// Observe queues e for broadcast without blocking.
func (h *Hub) Observe(e limiter.Event) {
	select {
	case h.events <- e:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Run broadcasts queued events until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-h.events:
			h.Broadcast(e)
		}
	}
}

// HandleWebSocket upgrades the HTTP connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// The read loop only detects disconnects.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast writes e to every connected client. Only Run and tests call it,
// so writes to a connection never race.
func (h *Hub) Broadcast(e limiter.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error("websocket marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("websocket write failed", zap.Error(err))
			// The read goroutine removes the client once the close lands.
			_ = conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}
