// Package main runs the Temporal worker that hosts the specification
// pipeline.
//
// The worker registers SpecificationPipelineWorkflow and its activities:
// tracker sync, phase document IO, AI generation, usage metering, and run
// event publishing. Configuration is loaded from the specd config file
// with environment variable overrides.
//
// Usage:
//
//	TEMPORAL_HOST_PORT=localhost:7233 \
//	TRACKER_BASE_URL=https://tracker.example.com/api \
//	TRACKER_TOKEN=trk_xxx \
//	DOCSTORE_BASE_URL=https://docs.example.com \
//	DOCSTORE_TOKEN=doc_xxx \
//	LLM_ANTHROPIC_API_KEY=sk-ant-xxx \
//	./pipeline-worker
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/events"
	"github.com/fyrsmithlabs/specd/internal/llm"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/metering"
	"github.com/fyrsmithlabs/specd/internal/pipeline"
	"github.com/fyrsmithlabs/specd/internal/telemetry"
	"github.com/fyrsmithlabs/specd/internal/tracker"
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
		fmt.Printf("specd pipeline-worker %s (%s)\n", version, gitCommit)
		return nil
	}

	// Create root context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Initialize telemetry before logging so the logger can export
	// through the OTEL bridge.
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	if cfg.Observability.ServiceName != "" {
		telCfg.ServiceName = cfg.Observability.ServiceName
	}
	telCfg.ServiceVersion = version

	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	// Initialize logging
	logCfg := logging.NewDefaultConfig()
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "pipeline worker starting",
		zap.String("version", version),
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	// Initialize infrastructure dependencies
	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.String("tracker", cfg.Tracker.BaseURL),
		zap.String("docstore", cfg.DocStore.BaseURL),
		zap.Strings("ai_providers", deps.models.Providers()),
		zap.Bool("events_enabled", cfg.Events.Enabled),
	)

	acts := pipeline.NewActivities(
		deps.tracker,
		deps.docs,
		deps.models,
		deps.meter,
		deps.events,
		logger.Underlying().Named("activities"),
	)

	// Create worker
	w := worker.New(deps.temporal, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(pipeline.SpecificationPipelineWorkflow)
	w.RegisterActivity(acts)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	// Wait for shutdown signal or worker error
	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	logger.Info(ctx, "worker stopped gracefully")
	return nil
}

// dependencies holds all infrastructure clients the activities execute
// against.
type dependencies struct {
	temporal client.Client
	tracker  tracker.Client
	docs     docstore.Client
	models   *llm.Registry
	meter    metering.Service
	events   events.Publisher

	logger *logging.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.events != nil {
		d.events.Close()
	}
	if d.meter != nil {
		if err := d.meter.Close(); err != nil && d.logger != nil {
			d.logger.Warn(context.Background(), "metering close failed", zap.Error(err))
		}
	}
	if d.temporal != nil {
		d.temporal.Close()
	}
}

// initDependencies connects to Temporal and constructs the tracker,
// document store, AI provider, metering, and event clients.
//
// Credentials are validated by the client constructors, so a missing
// token fails here rather than on the first activity.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}

	logger.Info(ctx, "temporal client connected",
		zap.String("host", cfg.Temporal.HostPort),
		zap.String("namespace", cfg.Temporal.Namespace),
	)

	trackerClient, err := tracker.NewClient(ctx, tracker.Config{
		BaseURL:   cfg.Tracker.BaseURL,
		Token:     cfg.Tracker.Token.Value(),
		Timeout:   cfg.Tracker.Timeout.Duration(),
		RateLimit: cfg.Tracker.RateLimit,
		Burst:     cfg.Tracker.Burst,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("creating tracker client: %w", err)
	}

	docsClient, err := docstore.NewClient(docstore.Config{
		BaseURL: cfg.DocStore.BaseURL,
		Token:   cfg.DocStore.Token.Value(),
		Timeout: cfg.DocStore.Timeout.Duration(),
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("creating docstore client: %w", err)
	}

	models, err := initModelRegistry(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	zlog := logger.Underlying()

	meter, err := metering.NewService(metering.Config{Path: cfg.Metering.Path}, zlog.Named("metering"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("opening metering ledger: %w", err)
	}

	pub := events.NewNopPublisher()
	if cfg.Events.Enabled {
		pub, err = events.NewPublisher(cfg.Events.URL, zlog.Named("events"))
		if err != nil {
			// Events are advisory. A worker without a broker still
			// processes runs.
			logger.Warn(ctx, "event publisher unavailable, continuing without run events",
				zap.String("url", cfg.Events.URL),
				zap.Error(err),
			)
			pub = events.NewNopPublisher()
		}
	}

	return &dependencies{
		temporal: c,
		tracker:  trackerClient,
		docs:     docsClient,
		models:   models,
		meter:    meter,
		events:   pub,
		logger:   logger,
	}, nil
}

// initModelRegistry registers one provider client per configured API key.
func initModelRegistry(cfg *config.Config) (*llm.Registry, error) {
	models := llm.NewRegistry()

	providerCfg := llm.Config{
		Timeout:    cfg.LLM.Timeout.Duration(),
		MaxRetries: cfg.LLM.MaxRetries,
		RateLimit:  cfg.LLM.RateLimit,
		Burst:      cfg.LLM.Burst,
	}

	if cfg.LLM.AnthropicAPIKey.IsSet() {
		anthropicCfg := providerCfg
		anthropicCfg.APIKey = cfg.LLM.AnthropicAPIKey.Value()
		anthropic, err := llm.NewAnthropicClient(anthropicCfg)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic client: %w", err)
		}
		models.Register(anthropic)
	}

	if cfg.LLM.OpenAIAPIKey.IsSet() {
		openaiCfg := providerCfg
		openaiCfg.APIKey = cfg.LLM.OpenAIAPIKey.Value()
		openai, err := llm.NewOpenAIClient(openaiCfg)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		models.Register(openai)
	}

	if len(models.Providers()) == 0 {
		return nil, fmt.Errorf("no AI provider configured: set LLM_ANTHROPIC_API_KEY or LLM_OPENAI_API_KEY")
	}

	return models, nil
}
