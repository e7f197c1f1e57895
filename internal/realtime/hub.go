package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"table-bidding/internal/models"
	"table-bidding/utils"

	"github.com/gorilla/websocket"
)

// HubConfig holds configuration for push connections
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultHubConfig returns default push channel configuration
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		BroadcastBuffer: 1000,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// AllowOrigins accepts upgrades from the listed origins and from clients that
// send no Origin header. An empty list accepts every origin.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Hub fans change events out to connected WebSocket viewers
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
	upgrader    websocket.Upgrader
	config      HubConfig
	broadcastCh chan models.ChangeEvent
}

type connection struct {
	id          string
	identity    models.Identity
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{} // closed on unregister; send is never closed
	hub         *Hub
	connectedAt time.Time
	closeOnce   sync.Once
}

// NewHub creates a hub; Start must run for events to be delivered
func NewHub(config HubConfig) *Hub {
	if config.PingInterval <= 0 || config.ReadTimeout <= 0 || config.WriteTimeout <= 0 {
		def := DefaultHubConfig()
		config.PingInterval, config.ReadTimeout, config.WriteTimeout = def.PingInterval, def.ReadTimeout, def.WriteTimeout
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 64
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = 1000
	}
	return &Hub{
		connections: make(map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan models.ChangeEvent, config.BroadcastBuffer),
	}
}

// Start processes broadcasts until ctx is done, then closes every connection
func (h *Hub) Start(ctx context.Context) {
	utils.Info("push hub started", nil)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			utils.Info("push hub shutting down", nil)
			return
		case event := <-h.broadcastCh:
			h.broadcast(event)
		}
	}
}

// Publish queues an event for broadcast. A full queue drops the event; clients
// recover through polling.
func (h *Hub) Publish(_ context.Context, event models.ChangeEvent) error {
	select {
	case h.broadcastCh <- event:
		return nil
	default:
		utils.Warn("broadcast channel full, dropping event", map[string]any{"type": event.Type})
		return fmt.Errorf("hub: broadcast channel full")
	}
}

// ServeWS upgrades the request and registers the viewer
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identity models.Identity) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("hub: failed to upgrade connection: %w", err)
	}

	c := &connection{
		id:          utils.GenerateID(),
		identity:    identity,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBuffer),
		done:        make(chan struct{}),
		hub:         h,
		connectedAt: time.Now(),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()

	utils.Info("push connection established", map[string]any{
		"connection_id": c.id,
		"role":          identity.Role,
		"username":      identity.Username,
	})
	return nil
}

// Stats reports connection counts per role
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roles := make(map[string]int)
	for c := range h.connections {
		roles[string(c.identity.Role)]++
	}
	return map[string]any{
		"total_connections": len(h.connections),
		"by_role":           roles,
	}
}

// ConnectionCount returns the number of registered viewers
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	_, ok := h.connections[c]
	if ok {
		delete(h.connections, c)
	}
	h.mu.Unlock()

	if ok {
		c.closeOnce.Do(func() { close(c.done) })
		utils.Debug("push connection unregistered", map[string]any{
			"connection_id": c.id,
			"connected_for": time.Since(c.connectedAt).String(),
		})
	}
}

func (h *Hub) broadcast(event models.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		utils.Error("failed to marshal change event", map[string]any{"error": err.Error()})
		return
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.connections))
	for c := range h.connections {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		case <-c.done:
		default:
			utils.Warn("connection send buffer full, closing connection", map[string]any{"connection_id": c.id})
			h.unregister(c)
			c.conn.Close()
		}
	}

	utils.Debug("change event broadcast", map[string]any{
		"type":        event.Type,
		"connections": len(targets),
	})
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	targets := make([]*connection, 0, len(h.connections))
	for c := range h.connections {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.unregister(c)
	}
}

// writePump sends queued events and keepalive pings
func (c *connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				utils.Warn("failed to write push message", map[string]any{"connection_id": c.id, "error": err.Error()})
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames; viewers never send commands
func (c *connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	if c.hub.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("push connection closed unexpectedly", map[string]any{"connection_id": c.id, "error": err.Error()})
			}
			return
		}
	}
}
