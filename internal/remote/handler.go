package remote

import (
	"encoding/base64"
	"errors"

	"github.com/ferrovax/deskrelay/internal/capture"
	"github.com/ferrovax/deskrelay/internal/input"
	"github.com/ferrovax/deskrelay/internal/session"
	"github.com/ferrovax/deskrelay/internal/websocket"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Conn is the slice of a hub client the handler needs. *websocket.Client
// implements it; tests substitute a fake.
type Conn interface {
	ID() string
	BindSession(sessionID, role string)
	Binding() (sessionID, role string)
	SendMessage(message *websocket.Message) bool
}

// Broadcaster fans a message out to the clients bound to a session
type Broadcaster interface {
	BroadcastToSession(sessionID string, message *websocket.Message)
}

// Handler wires the session registry, the frame producer and the input
// controller to the WebSocket transport. Every capability is granted per
// connection at join time and withdrawn on disconnect; the transport itself
// performs no authentication at upgrade time.
type Handler struct {
	registry    *session.Registry
	producer    *capture.Producer
	controller  *input.Controller
	broadcaster Broadcaster
	logger      *logger.Logger
}

// NewHandler creates a remote-session message handler
func NewHandler(
	registry *session.Registry,
	producer *capture.Producer,
	controller *input.Controller,
	broadcaster Broadcaster,
	log *logger.Logger,
) *Handler {
	return &Handler{
		registry:    registry,
		producer:    producer,
		controller:  controller,
		broadcaster: broadcaster,
		logger:      log.Named("remote"),
	}
}

// HandleMessage implements websocket.MessageHandler
func (h *Handler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	return h.handle(client, messageType, data)
}

// HandleDisconnect implements websocket.DisconnectHandler
func (h *Handler) HandleDisconnect(client *websocket.Client) {
	h.disconnect(client)
}

func (h *Handler) handle(conn Conn, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeJoinSession:
		h.handleJoin(conn, data)
	case websocket.MessageTypeRequestFrame:
		h.handleFrameRequest(conn)
	case websocket.MessageTypeMouseMove:
		h.handleMouseMove(conn, data)
	case websocket.MessageTypeMouseClick:
		h.handleMouseClick(conn, data)
	case websocket.MessageTypeMouseScroll:
		h.handleMouseScroll(conn, data)
	case websocket.MessageTypeKeyPress:
		h.handleKeyPress(conn, data)
	case websocket.MessageTypeKeyCombination:
		h.handleKeyCombination(conn, data)
	case websocket.MessageTypeTextInput:
		h.handleTextInput(conn, data)
	default:
		h.logger.Debug("Ignoring unknown message type", logger.String("type", messageType))
	}
	return nil
}

// handleJoin authenticates a connection into a session under a role. The
// operator side additionally gains frame reading and input injection; the
// session goes active once both parties are connected.
func (h *Handler) handleJoin(conn Conn, data map[string]any) {
	sessionID, _ := data["session_id"].(string)
	token, _ := data["token"].(string)
	role, _ := data["role"].(string)

	if _, ok := h.registry.Get(sessionID); !ok {
		h.sendError(conn, "Session not found")
		return
	}

	switch role {
	case string(session.RoleUser):
		if !h.registry.AuthenticateUser(sessionID, token) {
			h.rejectJoin(conn, sessionID, role)
			return
		}
		conn.BindSession(sessionID, role)
		h.confirmJoin(conn, sessionID, role)
		h.broadcaster.BroadcastToSession(sessionID, &websocket.Message{
			Type: websocket.MessageTypeUserConnected,
			Data: map[string]any{"session_id": sessionID},
		})

	case string(session.RoleOperator):
		if !h.registry.AuthenticateOperator(sessionID, token) {
			h.rejectJoin(conn, sessionID, role)
			return
		}
		conn.BindSession(sessionID, role)
		h.confirmJoin(conn, sessionID, role)
		h.broadcaster.BroadcastToSession(sessionID, &websocket.Message{
			Type: websocket.MessageTypeOperatorConnected,
			Data: map[string]any{"session_id": sessionID},
		})

		// The authenticated operator gets the live-view and input
		// capabilities for this connection
		h.controller.Authorize(conn.ID())
		h.producer.AddReader(conn.ID())

	default:
		h.rejectJoin(conn, sessionID, role)
		return
	}

	h.activateIfReady(sessionID)
}

func (h *Handler) rejectJoin(conn Conn, sessionID, role string) {
	h.logger.Warn("Session join rejected",
		logger.String("session_id", sessionID),
		logger.String("role", role),
		logger.String("conn_id", conn.ID()),
	)
	h.sendError(conn, "Authentication failed")
}

func (h *Handler) confirmJoin(conn Conn, sessionID, role string) {
	snap, _ := h.registry.Get(sessionID)
	conn.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeSessionJoined,
		Data: map[string]any{"role": role, "session": snap},
	})
	h.logger.Info("Connection joined session",
		logger.String("session_id", sessionID),
		logger.String("role", role),
		logger.String("conn_id", conn.ID()),
	)
}

// activateIfReady promotes the session once both sides are connected
func (h *Handler) activateIfReady(sessionID string) {
	snap, ok := h.registry.Get(sessionID)
	if !ok || !snap.UserConnected || !snap.OperatorConnected {
		return
	}
	if h.registry.Activate(sessionID) {
		h.broadcaster.BroadcastToSession(sessionID, &websocket.Message{
			Type: websocket.MessageTypeSessionActivated,
			Data: map[string]any{"session_id": sessionID},
		})
	}
}

// handleFrameRequest serves the newest frame to a registered reader
func (h *Handler) handleFrameRequest(conn Conn) {
	if !h.producer.HasReader(conn.ID()) {
		h.sendError(conn, "Not authorized")
		return
	}
	frame, ok := h.producer.Latest()
	if !ok {
		h.sendError(conn, "No frame available")
		return
	}
	conn.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeScreenFrame,
		Data: map[string]any{
			"image":       base64.StdEncoding.EncodeToString(frame.Data),
			"width":       frame.Width,
			"height":      frame.Height,
			"captured_at": frame.CapturedAt,
		},
	})
}

func (h *Handler) handleMouseMove(conn Conn, data map[string]any) {
	x, okX := floatField(data, "x")
	y, okY := floatField(data, "y")
	srcW, okW := intField(data, "screen_width")
	srcH, okH := intField(data, "screen_height")
	if !okX || !okY || !okW || !okH {
		h.sendError(conn, "Malformed mouse_move event")
		return
	}
	if err := h.controller.PointerMove(conn.ID(), x, y, srcW, srcH); err != nil {
		h.rejectInput(conn, "mouse_move", err)
		return
	}
	h.recordActivity(conn)
}

func (h *Handler) handleMouseClick(conn Conn, data map[string]any) {
	x, okX := floatField(data, "x")
	y, okY := floatField(data, "y")
	srcW, okW := intField(data, "screen_width")
	srcH, okH := intField(data, "screen_height")
	if !okX || !okY || !okW || !okH {
		h.sendError(conn, "Malformed mouse_click event")
		return
	}
	button := stringField(data, "button", "left")
	kind := stringField(data, "click_type", "single")
	if err := h.controller.PointerButton(conn.ID(), x, y, srcW, srcH, button, kind); err != nil {
		h.rejectInput(conn, "mouse_click", err)
		return
	}
	h.recordActivity(conn)
}

func (h *Handler) handleMouseScroll(conn Conn, data map[string]any) {
	x, okX := floatField(data, "x")
	y, okY := floatField(data, "y")
	srcW, okW := intField(data, "screen_width")
	srcH, okH := intField(data, "screen_height")
	delta, okD := intField(data, "delta")
	if !okX || !okY || !okW || !okH || !okD {
		h.sendError(conn, "Malformed mouse_scroll event")
		return
	}
	if err := h.controller.PointerScroll(conn.ID(), x, y, srcW, srcH, delta); err != nil {
		h.rejectInput(conn, "mouse_scroll", err)
		return
	}
	h.recordActivity(conn)
}

func (h *Handler) handleKeyPress(conn Conn, data map[string]any) {
	key, ok := data["key"].(string)
	if !ok || key == "" {
		h.sendError(conn, "Malformed key_press event")
		return
	}
	action := stringField(data, "action", "press")
	if err := h.controller.KeyAction(conn.ID(), key, action); err != nil {
		h.rejectInput(conn, "key_press", err)
		return
	}
	h.recordActivity(conn)
}

func (h *Handler) handleKeyCombination(conn Conn, data map[string]any) {
	keys := stringsField(data, "keys")
	if len(keys) == 0 {
		h.sendError(conn, "Malformed key_combination event")
		return
	}
	if err := h.controller.KeyCombination(conn.ID(), keys); err != nil {
		h.rejectInput(conn, "key_combination", err)
		return
	}
	h.recordActivity(conn)
}

func (h *Handler) handleTextInput(conn Conn, data map[string]any) {
	text, ok := data["text"].(string)
	if !ok {
		h.sendError(conn, "Malformed text_input event")
		return
	}
	if err := h.controller.TextInput(conn.ID(), text); err != nil {
		h.rejectInput(conn, "text_input", err)
		return
	}
	h.recordActivity(conn)
}

// disconnect withdraws every capability the connection held. Reader
// registration and input authorization go first, then the session's
// connected flag, which demotes an active session back to pending.
func (h *Handler) disconnect(conn Conn) {
	connID := conn.ID()
	h.producer.RemoveReader(connID)
	h.controller.Revoke(connID)

	sessionID, role := conn.Binding()
	if sessionID == "" {
		return
	}
	switch role {
	case string(session.RoleUser):
		h.registry.DisconnectUser(sessionID)
	case string(session.RoleOperator):
		h.registry.DisconnectOperator(sessionID)
	}
	h.logger.Info("Session participant disconnected",
		logger.String("session_id", sessionID),
		logger.String("role", role),
		logger.String("conn_id", connID),
	)
}

// recordActivity refreshes the bound session after a successfully applied
// input action. The session is taken from the connection's own binding, not
// from the event payload.
func (h *Handler) recordActivity(conn Conn) {
	if sessionID, _ := conn.Binding(); sessionID != "" {
		h.registry.RecordActivity(sessionID)
	}
}

func (h *Handler) rejectInput(conn Conn, event string, err error) {
	if errors.Is(err, input.ErrNotAuthorized) {
		h.logger.Warn("Unauthorized input event",
			logger.String("event", event),
			logger.String("conn_id", conn.ID()),
		)
		h.sendError(conn, "Not authorized for input")
		return
	}
	h.sendError(conn, event+" failed")
}

func (h *Handler) sendError(conn Conn, message string) {
	conn.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeError,
		Data: map[string]any{"message": message},
	})
}

func floatField(data map[string]any, key string) (float64, bool) {
	v, ok := data[key].(float64)
	return v, ok
}

func intField(data map[string]any, key string) (int, bool) {
	v, ok := data[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func stringField(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func stringsField(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}
