// Velocity — a single-symbol limit order matching engine with a durable
// write-ahead log and a WebSocket market-data stream.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts processor + API, waits for SIGINT/SIGTERM
//	book/book.go            — price-time-priority order book and matching algorithm
//	book/slab.go            — slot-allocated order store with free-list reuse
//	wal/wal.go              — append-only binary log of place/cancel intents, replayed at startup
//	processor/processor.go  — serialization actor: WAL → book → broadcast → reply, one command at a time
//	broadcast/broadcast.go  — lossy fan-out of engine events to market-data subscribers
//	api/…                   — HTTP/JSON command adapter and WebSocket stream
//
// How it stays correct:
//
//	Every mutation flows through one goroutine that owns the book, so there
//	is no shared-mutable state to lock. Intents hit the WAL before memory,
//	so a crash replays back to the committed state (minus any buffered
//	tail). Market data is best-effort: a slow subscriber drops events but
//	never slows matching.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"velocity/internal/api"
	"velocity/internal/broadcast"
	"velocity/internal/config"
	"velocity/internal/processor"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("VELOCITY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Recover state and create the engine
	events := broadcast.New(cfg.Engine.BroadcastCapacity)
	proc, err := processor.New(cfg.Engine, cfg.WAL, events, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	procDone := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(procDone)
	}()

	apiServer := api.NewServer(cfg.Server, proc, events, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	logger.Info("velocity engine started",
		"port", cfg.Server.Port,
		"wal", cfg.WAL.Path,
		"queue_capacity", cfg.Engine.CommandQueueCapacity,
		"strict_wal", cfg.WAL.Strict,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop accepting requests first, then the engine (flushes the WAL)
	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	cancel()
	<-procDone
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
