package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fundline/outreach/internal/auth"
	"github.com/fundline/outreach/internal/config"
)

// Server represents the API server
type Server struct {
	config      config.ServerConfig
	handler     http.Handler
	handlers    *Handlers
	server      *http.Server
	authManager *auth.AuthManager
	router      *chi.Mux
	apiRouter   chi.Router // sub-router for /api (carries auth middleware)
}

// NewServer creates a new API server without authentication. Attach all
// optional handler collaborators before calling this; routes are wired
// once here.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	router, apiRouter := SetupRoutes(handlers, nil, cfg.DevMode)

	return &Server{
		config:    cfg,
		handler:   router,
		handlers:  handlers,
		router:    router,
		apiRouter: apiRouter,
	}
}

// NewServerWithAuth creates a new API server with Google OAuth
// protecting the /api routes.
func NewServerWithAuth(cfg config.ServerConfig, handlers *Handlers, authManager *auth.AuthManager) *Server {
	handlers.SetAuthManager(authManager)
	router, apiRouter := SetupRoutes(handlers, authManager, cfg.DevMode)

	return &Server{
		config:      cfg,
		handler:     router,
		handlers:    handlers,
		authManager: authManager,
		router:      router,
		apiRouter:   apiRouter,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Report generation walks every campaign item, so writes get
		// more room than reads.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
