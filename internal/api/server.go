// Package api serves the local dashboard: a JSON snapshot endpoint plus a
// WebSocket stream of bus events. The projection folds the same events the
// stream forwards, so a client can bootstrap from /api/snapshot and stay
// current over /ws.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
)

// Server runs the HTTP/WebSocket API for the dashboard.
type Server struct {
	cfg      config.DashboardConfig
	state    *State
	events   *bus.Bus
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the dashboard server. It does not listen until Start.
func NewServer(cfg config.DashboardConfig, events *bus.Bus, logger *slog.Logger) *Server {
	state := NewState()
	hub := NewHub(logger)
	handlers := NewHandlers(state, hub, cfg.AllowedOrigins, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		state:    state,
		events:   events,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// State exposes the projection, mainly for tests.
func (s *Server) State() *State { return s.state }

// Start runs the hub, the bus consumer, and the HTTP listener. Blocks
// until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()
	go s.consume(ctx)

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP listener.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// consume drains the event bus, folding each event into the projection and
// forwarding it to connected WebSocket clients.
func (s *Server) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.events.Events():
			s.state.Apply(evt)
			s.hub.BroadcastEvent(evt)
		}
	}
}
