// Package websocket carries the per-client duplex stream: session
// events downstream, instructor control frames upstream.
package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"livesync/internal/bus"
	"livesync/internal/config"
	"livesync/internal/coordinator"
	"livesync/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking belongs to the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Frame actions accepted from an instructor connection.
const (
	actionControl = "control"
	actionSync    = "sync"
	actionEnd     = "end"
)

// controlFrame is an inbound message from the instructor client.
type controlFrame struct {
	Action  string         `json:"action"`
	Type    string         `json:"type,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Enabled bool           `json:"enabled,omitempty"`
}

// notice is an out-of-band message to a client, distinct from session
// events.
type notice struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Handler upgrades HTTP requests into session subscriptions.
type Handler struct {
	coordinator *coordinator.Coordinator
	cfg         *config.WebSocketConfig
	logger      *slog.Logger
}

func NewHandler(c *coordinator.Coordinator, cfg *config.WebSocketConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{coordinator: c, cfg: cfg, logger: logger}
}

// HandleWebSocket joins the session named in the query string and pumps
// its event stream to the client. GET /ws?code=ABC-123&role=student
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionCode := r.URL.Query().Get("code")
	role := r.URL.Query().Get("role")

	if sessionCode == "" || role == "" {
		http.Error(w, "missing required query parameters: code, role", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "role must be 'instructor' or 'student'", http.StatusBadRequest)
		return
	}

	sub, err := h.coordinator.JoinSession(sessionCode, role)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidCodeFormat):
			http.Error(w, "invalid session code format", http.StatusBadRequest)
		case errors.Is(err, types.ErrSessionEnded):
			http.Error(w, "session has ended", http.StatusGone)
		default:
			http.Error(w, "failed to join session", http.StatusInternalServerError)
		}
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		sub.Close()
		return
	}

	conn := NewConnection(wsConn, h.cfg.SendBuffer, h.cfg.WriteTimeout, h.cfg.PingInterval)
	h.logger.Info("client connected", "session", sub.SessionCode(), "role", role, "subscription", sub.ID())

	go h.writePump(conn, sub)
	go h.readPump(conn, sub, role)
}

// writePump copies the subscription's event stream onto the socket.
// Exits when the stream closes (unsubscribe or session end) or the
// client can no longer keep up.
func (h *Handler) writePump(conn *Connection, sub *bus.Subscription) {
	for ev := range sub.Events() {
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("dropping client, write failed",
				"session", sub.SessionCode(), "subscription", sub.ID(), "error", err)
			conn.Close()
			return
		}
	}

	// Stream closed: tell the client the session is over before the
	// socket goes away.
	_ = conn.WriteJSON(notice{Type: "session_closed"})
	_ = conn.CloseAfterDrain()
}

// readPump consumes inbound frames. Student frames carry nothing this
// core acts on; instructor frames drive playback controls, the sync
// gate, and session end. A read error means the client disconnected,
// which promptly unsubscribes so the presence count converges.
func (h *Handler) readPump(conn *Connection, sub *bus.Subscription, role string) {
	defer func() {
		sub.Close()
		conn.Close()
		h.logger.Info("client disconnected", "session", sub.SessionCode(), "subscription", sub.ID())
	}()

	pongWait := 2 * h.cfg.PingInterval
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame controlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if role != types.RoleInstructor {
			continue
		}
		if done := h.handleFrame(conn, sub.SessionCode(), frame); done {
			return
		}
	}
}

// handleFrame dispatches one instructor frame. Returns true when the
// connection should stop reading.
func (h *Handler) handleFrame(conn *Connection, sessionCode string, frame controlFrame) bool {
	switch frame.Action {
	case actionControl:
		err := h.coordinator.SendControl(sessionCode, frame.Type, frame.Payload)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrSyncDisabled):
			// Recognized no-op, reported but not fatal.
			_ = conn.WriteJSON(notice{Type: "sync_disabled", Message: "control not delivered, sync is off"})
		case errors.Is(err, types.ErrSessionEnded):
			return true
		default:
			_ = conn.WriteJSON(notice{Type: "control_rejected", Message: err.Error()})
		}

	case actionSync:
		if err := h.coordinator.SetSyncEnabled(sessionCode, frame.Enabled); err != nil {
			return errors.Is(err, types.ErrSessionEnded)
		}

	case actionEnd:
		if err := h.coordinator.EndSession(sessionCode); err != nil && !errors.Is(err, types.ErrSessionEnded) {
			h.logger.Warn("end session failed", "session", sessionCode, "error", err)
		}
		return true

	default:
		_ = conn.WriteJSON(notice{Type: "unknown_action", Message: frame.Action})
	}
	return false
}
