// Package server exposes the relay's admin HTTP API: account management,
// relay control and status.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/server/handler"
	"github.com/alanyoungcy/copyrelay/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Accounts *handler.AccountsHandler
	Control  *handler.ControlHandler
}

// Server is the headless admin API for the copy-trading relay.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (CORS, logging, auth) applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (exempt from auth, see middleware.Auth).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Relay control.
	mux.HandleFunc("GET /api/status", handlers.Control.Status)
	mux.HandleFunc("POST /api/start", handlers.Control.Start)
	mux.HandleFunc("POST /api/pause", handlers.Control.Pause)
	mux.HandleFunc("POST /api/stop", handlers.Control.Stop)
	mux.HandleFunc("POST /api/close", handlers.Control.Close)

	// Account management.
	mux.HandleFunc("GET /api/accounts", handlers.Accounts.List)
	mux.HandleFunc("POST /api/accounts/{id}/activate", handlers.Accounts.Activate)
	mux.HandleFunc("POST /api/accounts/{id}/deactivate", handlers.Accounts.Deactivate)
	mux.HandleFunc("PUT /api/accounts/{id}/config", handlers.Accounts.UpdateConfig)
	mux.HandleFunc("PUT /api/accounts/{id}/credentials", handlers.Accounts.UpdateCredentials)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
