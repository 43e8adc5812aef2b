package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/beacon-ops/beacon/internal/auth"
	"github.com/beacon-ops/beacon/internal/broadcast"
	"github.com/beacon-ops/beacon/internal/ctxutil"
	"github.com/beacon-ops/beacon/internal/incident"
	"github.com/beacon-ops/beacon/internal/ratelimit"
)

const wsPath = "/v1/ws"

// Server is the Beacon HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional (nil-safe): Limiter, Auditor, WS.
type ServerConfig struct {
	// Required dependencies.
	Engine   *incident.Engine
	Store    Store
	JWTMgr   *auth.JWTManager
	Sessions SessionCounter
	Logger   *slog.Logger

	// Optional dependencies.
	Limiter ratelimit.Limiter
	Auditor Auditor
	WS      *broadcast.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	InvitationTTL       time.Duration
	InMemory            bool // storage is the in-memory store
	Development         bool // expose internal error detail
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		Store:               cfg.Store,
		JWTMgr:              cfg.JWTMgr,
		Sessions:            cfg.Sessions,
		Auditor:             cfg.Auditor,
		WS:                  cfg.WS,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		InvitationTTL:       cfg.InvitationTTL,
		InMemory:            cfg.InMemory,
		Development:         cfg.Development,
	})

	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}
	// Login and the citizen-facing endpoints are limited per client IP.
	ipRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	mux.Handle("POST /auth/token", ipRL(http.HandlerFunc(h.HandleAuthToken)))
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /v1/incidents", h.HandleCreateIncident)
	mux.HandleFunc("GET /v1/incidents", h.HandleListIncidents)
	mux.HandleFunc("GET /v1/incidents/{id}", h.HandleGetIncident)
	mux.HandleFunc("POST /v1/incidents/{id}/assign", h.HandleAssignIncident)
	mux.HandleFunc("POST /v1/incidents/{id}/status", h.HandleChangeStatus)
	mux.HandleFunc("POST /v1/incidents/{id}/escalate", h.HandleEscalateIncident)
	mux.HandleFunc("POST /v1/incidents/{id}/resolve", h.HandleResolveIncident)
	mux.HandleFunc("POST /v1/incidents/{id}/reopen", h.HandleReopenIncident)
	mux.Handle("POST /v1/incidents/{id}/follow-ups", ipRL(http.HandlerFunc(h.HandleRegisterFollowUp)))
	mux.Handle("POST /v1/incidents/{id}/upvote", ipRL(http.HandlerFunc(h.HandleUpvoteIncident)))

	mux.HandleFunc("GET /v1/notifications", h.HandleListNotifications)
	mux.HandleFunc("POST /v1/invitations", h.HandleCreateInvitation)

	// Long-lived connection, not rate limited.
	mux.HandleFunc("GET "+wsPath, h.HandleWebSocket)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for access to SeedAdmin.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server. Hijacked WebSocket
// connections are not tracked by net/http; close them through the
// broadcaster.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
