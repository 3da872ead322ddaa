// Package realtime streams alerts and pattern findings to WebSocket
// clients as they are emitted, so operators do not have to poll the
// query endpoints.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected
// disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType for streamed events.
type EventType string

const (
	EventAlert   EventType = "alert"
	EventFinding EventType = "finding"
)

// Event is the frame pushed to connected clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Filter restricts which events a client receives. The zero value
// passes everything.
type Filter struct {
	EventTypes []EventType `json:"eventTypes,omitempty"`

	// Addresses limits events to ones involving any of these
	// addresses (sender, recipient, or finding subject).
	Addresses []string `json:"addresses,omitempty"`

	// MinSeverity drops events below this severity rank.
	MinSeverity domain.Severity `json:"minSeverity,omitempty"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	flt  Filter
}

// MaxClients bounds concurrent WebSocket connections.
const MaxClients = 1000

// Hub fans bus events out to WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	totalEvents atomic.Int64
	peakClients atomic.Int64
}

// NewHub creates a Hub. Call Run before accepting connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Attach subscribes the hub to the alert and finding topics. The
// returned subscriptions are owned by the caller and should be closed
// on shutdown.
func (h *Hub) Attach(ctx context.Context, bus domain.EventBus) ([]domain.Subscription, error) {
	var subs []domain.Subscription

	alertSub, err := bus.Subscribe(ctx, domain.TopicAlert, func(_ context.Context, msg *domain.Message) error {
		var alert domain.Alert
		if err := json.Unmarshal(msg.Payload, &alert); err != nil {
			return err
		}
		h.Broadcast(&Event{Type: EventAlert, Timestamp: time.Now().UTC(), Data: &alert})
		return nil
	})
	if err != nil {
		return nil, err
	}
	subs = append(subs, alertSub)

	findingSub, err := bus.Subscribe(ctx, domain.TopicFinding, func(_ context.Context, msg *domain.Message) error {
		var finding domain.PatternFinding
		if err := json.Unmarshal(msg.Payload, &finding); err != nil {
			return err
		}
		h.Broadcast(&Event{Type: EventFinding, Timestamp: time.Now().UTC(), Data: &finding})
		return nil
	})
	if err != nil {
		_ = alertSub.Unsubscribe()
		return nil, err
	}
	subs = append(subs, findingSub)

	return subs, nil
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			slog.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("websocket client connected", "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("websocket client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			frame, err := json.Marshal(event)
			if err != nil {
				slog.Warn("realtime event marshal failed", "error", err)
				continue
			}
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				if !c.wants(event) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			// Slow clients are dropped rather than allowed to
			// back-pressure the broadcast loop.
			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						close(c.send)
						delete(h.clients, c)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast queues an event for delivery, dropping it when the queue
// is full.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("realtime broadcast queue full, dropping event")
	}
}

// Stats returns hub counters.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(event *Event) bool {
	c.mu.RLock()
	flt := c.flt
	c.mu.RUnlock()

	if len(flt.EventTypes) > 0 {
		matched := false
		for _, t := range flt.EventTypes {
			if t == event.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if flt.MinSeverity != "" {
		if sev, ok := eventSeverity(event); ok && sev.Rank() < flt.MinSeverity.Rank() {
			return false
		}
	}

	if len(flt.Addresses) > 0 {
		matched := false
		for _, addr := range flt.Addresses {
			if eventInvolves(event, domain.NormalizeAddress(addr)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

func eventSeverity(event *Event) (domain.Severity, bool) {
	switch data := event.Data.(type) {
	case *domain.Alert:
		return data.Severity, true
	case *domain.PatternFinding:
		return data.Severity, true
	}
	return "", false
}

func eventInvolves(event *Event, address string) bool {
	switch data := event.Data.(type) {
	case *domain.Alert:
		return data.Sender == address || data.Recipient == address
	case *domain.PatternFinding:
		return data.Address == address
	}
	return false
}

// readPump consumes filter updates and pongs from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				slog.Warn("websocket read error", "error", err)
			}
			break
		}

		var flt Filter
		if err := json.Unmarshal(message, &flt); err == nil {
			c.mu.Lock()
			c.flt = flt
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
