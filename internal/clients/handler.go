package clients

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anonchat/edgeworker/internal/pkg/ctxlog"
	"github.com/anonchat/edgeworker/internal/pkg/httputil"
	"github.com/anonchat/edgeworker/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// ServeWS upgrades GET /sw/clients?origin=&sessionId= to a websocket and
// registers the page. The pumps run on their own goroutines, detached from
// the request context.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		origin = r.Header.Get("Origin")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ctxlog.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	c := h.newClient(conn, origin, r.URL.Query().Get("sessionId"))
	h.register(c)

	if v := h.Version(); v != "" {
		if data, err := protocol.Encode(protocol.ControllerChanged{Version: v}); err == nil {
			c.Post(data)
		}
	}

	go h.writePump(c)
	go h.readPump(c)
}

// HandleMessage is the plain HTTP variant of the page channel:
// POST /sw/messages with one protocol envelope.
func (h *Hub) HandleMessage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Dispatch(data); err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid message")
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "client_id", c.ID, "error", err)
			}
			return
		}
		if err := h.Dispatch(data); err != nil {
			slog.Debug("ignoring page message", "client_id", c.ID, "error", err)
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "worker shutting down"))
			return
		}
	}
}
