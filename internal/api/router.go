package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ferrovax/deskrelay/internal/auth"
	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Router assembles the HTTP surface: the public endpoints, the staff-guarded
// API, and the WebSocket upgrade path
type Router struct {
	handler     *Handler
	authService *auth.Service
	config      *config.Config
	logger      *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(handler *Handler, authService *auth.Service, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler:     handler,
		authService: authService,
		config:      cfg,
		logger:      log.Named("api-router"),
	}
}

// Routes returns the assembled handler tree
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(rt.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public surface
		r.Get("/health", rt.handler.GetHealth)
		r.Post("/auth/login", rt.handler.Login)
		r.Post("/tickets", rt.handler.SubmitTicket)

		// Staff surface, guarded by the bearer token middleware
		r.Group(func(r chi.Router) {
			r.Use(rt.authService.Middleware)

			r.Get("/tickets", rt.handler.ListTickets)
			r.Get("/tickets/{ticketID}", rt.handler.GetTicket)
			r.Patch("/tickets/{ticketID}", rt.handler.UpdateTicket)
			r.Post("/tickets/{ticketID}/remote-session", rt.handler.StartRemoteSession)
			r.Delete("/tickets/{ticketID}/remote-session", rt.handler.EndRemoteSession)

			r.Get("/sessions/stats", rt.handler.GetSessionStats)
			r.Get("/sessions/{sessionID}", rt.handler.GetSession)
			r.Delete("/sessions/{sessionID}", rt.handler.CloseSession)

			r.Get("/capture/stats", rt.handler.GetCaptureStats)
			r.Get("/input/stats", rt.handler.GetInputStats)
		})
	})

	// Session participants connect here; authentication happens per-join
	// inside the session protocol, not at upgrade time
	r.Get("/ws", rt.handler.HandleWebSocket)

	return r
}

// corsMiddleware applies the configured CORS policy to every response
func (rt *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := rt.allowedOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rt *Router) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range rt.config.Server.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}
