package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ternarybob/foresight/internal/app"
)

// Server serves the ops endpoints and the forecast trigger API
type Server struct {
	app    *app.App
	router *mux.Router
	server *http.Server
}

// New builds the server for the given app. Nothing listens until Start.
func New(application *app.App) *Server {
	s := &Server{app: application}
	s.router = s.setupRoutes()

	cfg := application.Config.Server
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.withMiddleware(s.router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	return s
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler returns the routed handler with middleware, for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks serving requests. A graceful Shutdown returns nil.
func (s *Server) Start() error {
	s.app.Logger.Info().Str("address", s.server.Addr).Msg("Listening")

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
