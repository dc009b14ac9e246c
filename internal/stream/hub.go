// Package stream pushes scored transactions and fraud alerts to dashboard
// clients over WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gyaneshwarpardhi/kavach/internal/alert"
	"github.com/gyaneshwarpardhi/kavach/internal/metrics"
)

// MaxClients caps concurrent dashboard connections.
const MaxClients = 1000

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard is served from a separate dev server
	CheckOrigin: func(*http.Request) bool { return true },
}

// Subscription narrows what a client receives. The zero value receives
// everything.
type Subscription struct {
	Types   []alert.Kind `json:"types"`
	MinRisk float64      `json:"min_risk"`
	City    string       `json:"city"`
}

func (s Subscription) matches(ev *alert.Event) bool {
	if len(s.Types) > 0 {
		ok := false
		for _, t := range s.Types {
			if t == ev.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if ev.RiskScore < s.MinRisk {
		return false
	}
	if s.City != "" && !strings.EqualFold(s.City, ev.Transaction.City) {
		return false
	}
	return true
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func (c *client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Hub owns the client set. All membership changes go through Run.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *alert.Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{}
	maxClients int

	totalEvents  atomic.Int64
	dropped      atomic.Int64
	totalClients atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *alert.Event, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.StreamClients.Set(0)
			h.logger.Info("stream hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			metrics.StreamClients.Set(float64(n))
			h.logger.Debug("dashboard connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.StreamClients.Set(float64(n))
			h.logger.Debug("dashboard disconnected", "clients", n)

		case ev := <-h.broadcast:
			h.totalEvents.Add(1)
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("stream event not serialisable", "err", err)
				continue
			}
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				if !c.subscription().matches(ev) {
					continue
				}
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			// evict clients that cannot keep up
			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if h.clients[c] {
						close(c.send)
						delete(h.clients, c)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				metrics.StreamClients.Set(float64(n))
			}
		}
	}
}

func (h *Hub) Name() string { return "stream" }

// Notify queues ev for broadcast. It never blocks; a full queue drops the
// event.
func (h *Hub) Notify(_ context.Context, ev alert.Event) error {
	select {
	case h.broadcast <- &ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn("stream broadcast queue full, dropping event", "type", ev.Type, "txn_id", ev.Transaction.ID)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats reports hub counters.
func (h *Hub) Stats() map[string]int64 {
	return map[string]int64{
		"connected_clients": int64(h.Clients()),
		"total_clients":     h.totalClients.Load(),
		"total_events":      h.totalEvents.Load(),
		"dropped_events":    h.dropped.Load(),
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Clients() >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	if t := r.URL.Query().Get("type"); t != "" {
		c.sub.Types = []alert.Kind{alert.Kind(t)}
	}
	if city := r.URL.Query().Get("city"); city != "" {
		c.sub.City = city
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump accepts subscription updates and keeps the read deadline fresh.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "err", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(msg, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write error", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
