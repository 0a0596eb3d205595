// Package clients tracks the application pages connected to the edge worker
// and carries protocol messages between them and the worker.
package clients

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anonchat/edgeworker/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultSendBuffer = 64

// Client is one connected page.
type Client struct {
	ID          string
	Origin      string
	SessionID   string
	ConnectedAt time.Time

	hub     *Hub
	conn    *websocket.Conn
	focused atomic.Bool

	// mu guards send against a post racing with close.
	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

// Focused reports whether the page was last focused by the worker.
func (c *Client) Focused() bool {
	return c.focused.Load()
}

// Post queues data for the page. It returns false when the page's buffer is
// full and the message was dropped.
func (c *Client) Post(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Config configures a Hub.
type Config struct {
	// SendBuffer is the per-page outbound queue length.
	SendBuffer int
	// AllowedOrigins limits websocket upgrades. Empty or "*" allows any.
	AllowedOrigins []string
}

// Hub is the registry of connected pages.
type Hub struct {
	config Config

	mu       sync.RWMutex
	clients  map[string]*Client
	version  string
	onOnline func(bool)

	upgrader websocket.Upgrader
	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	h := &Hub{
		config:  cfg,
		clients: make(map[string]*Client),
		done:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// OnOnlineStatus sets the callback for ONLINE_STATUS_CHANGED messages.
func (h *Hub) OnOnlineStatus(fn func(isOnline bool)) {
	h.mu.Lock()
	h.onOnline = fn
	h.mu.Unlock()
}

func (h *Hub) newClient(conn *websocket.Conn, origin, sessionID string) *Client {
	return &Client{
		ID:          uuid.NewString(),
		Origin:      normalizeOrigin(origin),
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, h.config.SendBuffer),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	clientsConnected.Set(float64(n))
	slog.Info("page connected", "client_id", c.ID, "origin", c.Origin, "session_id", c.SessionID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	clientsConnected.Set(float64(n))
	slog.Info("page disconnected", "client_id", c.ID)
}

// Broadcast posts msg to every connected page and returns how many accepted
// it.
func (h *Hub) Broadcast(msg protocol.Message) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("failed to encode broadcast", "type", msg.MessageType(), "error", err)
		return 0
	}

	delivered := 0
	for _, c := range h.MatchAll("") {
		if c.Post(data) {
			delivered++
		} else {
			messagesDropped.Inc()
			slog.Warn("page buffer full, message dropped", "client_id", c.ID, "type", msg.MessageType())
		}
	}
	messagesSent.WithLabelValues(string(msg.MessageType())).Add(float64(delivered))
	return delivered
}

// MatchAll returns the connected pages of origin in connection order. An
// empty origin matches every page.
func (h *Hub) MatchAll(origin string) []*Client {
	origin = normalizeOrigin(origin)

	h.mu.RLock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if origin == "" || c.Origin == origin {
			out = append(out, c)
		}
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Focus marks c as the focused page and posts msg to it.
func (h *Hub) Focus(c *Client, msg protocol.Message) bool {
	h.mu.RLock()
	for _, other := range h.clients {
		other.focused.Store(other == c)
	}
	h.mu.RUnlock()

	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("failed to encode message", "type", msg.MessageType(), "error", err)
		return false
	}
	if !c.Post(data) {
		messagesDropped.Inc()
		return false
	}
	messagesSent.WithLabelValues(string(msg.MessageType())).Inc()
	return true
}

// Claim makes version the controller of every open page and tells them so.
func (h *Hub) Claim(version string) int {
	h.mu.Lock()
	h.version = version
	h.mu.Unlock()
	return h.Broadcast(protocol.ControllerChanged{Version: version})
}

// Version returns the last claimed version.
func (h *Hub) Version() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Len returns the number of connected pages.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dispatch handles one inbound page message.
func (h *Hub) Dispatch(data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.OnlineStatusChanged:
		slog.Info("page reported connectivity change", "is_online", m.IsOnline)
		h.mu.RLock()
		fn := h.onOnline
		h.mu.RUnlock()
		if fn != nil {
			fn(m.IsOnline)
		}
	}
	return nil
}

// Close disconnects every page.
func (h *Hub) Close() {
	h.doneOnce.Do(func() { close(h.done) })
	for _, c := range h.MatchAll("") {
		h.unregister(c)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := normalizeOrigin(r.Header.Get("Origin"))
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || normalizeOrigin(allowed) == origin {
			return true
		}
	}
	return false
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.TrimSpace(origin), "/")
}
