// Package api exposes the engine over HTTP and WebSocket.
//
// It is a thin adapter: requests are validated, converted into processor
// commands, and the command replies classified back into wire responses.
// Engine events are consumed from the broadcaster and fanned out to
// WebSocket clients as JSON frames.
//
//	POST   /v1/orders  — place a limit order
//	DELETE /v1/orders  — cancel an order
//	GET    /v1/depth   — aggregated top-of-book levels
//	GET    /ws         — live market-data stream
//	GET    /health     — liveness probe
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"velocity/internal/broadcast"
	"velocity/internal/config"
	"velocity/internal/processor"
)

// Server runs the HTTP/WebSocket API for the engine.
type Server struct {
	cfg      config.ServerConfig
	events   *broadcast.Broadcaster
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, proc *processor.Processor, events *broadcast.Broadcaster, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(proc, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/v1/orders", handlers.HandleOrders)
	mux.HandleFunc("/v1/depth", handlers.HandleDepth)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		events:   events,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server and the market-data pumps. It blocks until
// the server stops.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.pumpEvents(ctx)

	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// pumpEvents subscribes to the engine's event stream and forwards every
// event to the hub. The subscription is lossy by design: if this pump
// ever lags the engine, the gap is logged and the stream continues from
// the newest events.
func (s *Server) pumpEvents(ctx context.Context) {
	sub := s.events.Subscribe()
	defer sub.Close()

	for {
		event, dropped, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if dropped > 0 {
			s.logger.Warn("market-data pump lagged, events dropped", "dropped", dropped)
		}
		s.hub.BroadcastFrame(NewEventFrame(event))
	}
}
