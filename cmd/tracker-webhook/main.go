// Package main provides the HTTP trigger surface for the specification
// pipeline.
//
// The server receives signed webhook events from the issue tracker and
// exposes a small REST API for starting, inspecting, and cancelling
// pipeline runs. Both paths start workflows on the Temporal cluster the
// pipeline workers poll.
//
// Endpoints:
//
//	POST   /api/v1/runs        start a run
//	GET    /api/v1/runs/:id    query a run's status snapshot
//	DELETE /api/v1/runs/:id    request cancellation
//	POST   /webhook/tracker    HMAC-verified tracker events
//	GET    /health             liveness probe
//	GET    /metrics            Prometheus metrics
//
// Usage:
//
//	TEMPORAL_HOST_PORT=localhost:7233 \
//	SERVER_WEBHOOK_SECRET=your_secret \
//	SERVER_HTTP_PORT=3000 \
//	./tracker-webhook
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/pipeline"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (default ~/.config/specd/config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("specd tracker-webhook %s (%s)\n", version, gitCommit)
		return nil
	}

	// Create root context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize logging
	logCfg := logging.NewDefaultConfig()
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Load configuration
	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger.Info(ctx, "tracker webhook server starting",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("temporal_host", cfg.Temporal.HostPort),
	)

	// Validate configuration
	if !cfg.Server.WebhookSecret.IsSet() {
		return fmt.Errorf("SERVER_WEBHOOK_SECRET not set")
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.HostPort))

	starter := pipeline.NewStarter(c, cfg.Temporal.TaskQueue, logger.Underlying().Named("starter"))

	server, err := newServer(starter, cfg.Server.WebhookSecret, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info(ctx, "HTTP server listening", zap.String("addr", addr))
		serverErrors <- server.Start(addr)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(ctx, "server stopped gracefully")
	return nil
}
