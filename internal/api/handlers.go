package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ferrovax/deskrelay/internal/auth"
	"github.com/ferrovax/deskrelay/internal/capture"
	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/internal/input"
	"github.com/ferrovax/deskrelay/internal/session"
	"github.com/ferrovax/deskrelay/internal/ticket"
	"github.com/ferrovax/deskrelay/internal/websocket"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	ticketService *ticket.Service
	authService   *auth.Service
	registry      *session.Registry
	producer      *capture.Producer
	controller    *input.Controller
	wsServer      *websocket.Server
	config        *config.Config
	logger        *logger.Logger
	startedAt     time.Time
}

// NewHandler creates a new API handler
func NewHandler(
	ticketService *ticket.Service,
	authService *auth.Service,
	registry *session.Registry,
	producer *capture.Producer,
	controller *input.Controller,
	wsServer *websocket.Server,
	cfg *config.Config,
	log *logger.Logger,
) *Handler {
	return &Handler{
		ticketService: ticketService,
		authService:   authService,
		registry:      registry,
		producer:      producer,
		controller:    controller,
		wsServer:      wsServer,
		config:        cfg,
		logger:        log.Named("api-handler"),
		startedAt:     time.Now(),
	}
}

// GetHealth returns liveness plus a snapshot of the session and capture state
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	captureStats := h.producer.Stats()

	response := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"sessions":       h.registry.Stats(),
		"capture_active": captureStats.Running,
	}

	WriteJSON(w, http.StatusOK, response)
}

// Login authenticates a staff member and returns a bearer token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	result, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}
		h.logger.Error("Login failed", logger.Error(err))
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// GetSession returns a live session snapshot. Join tokens are never echoed.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snap, ok := h.registry.Get(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, snap)
}

// CloseSession closes a live session
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.registry.Close(sessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.logger.Info("Session closed via API", logger.String("session_id", sessionID))

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"session_id": sessionID,
	})
}

// GetSessionStats returns session counts by status
func (h *Handler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.registry.Stats())
}

// GetCaptureStats returns the frame producer state
func (h *Handler) GetCaptureStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.producer.Stats())
}

// GetInputStats returns input authorization and pointer state
func (h *Handler) GetInputStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.controller.Stats())
}

// HandleWebSocket upgrades the connection and hands it to the hub
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
