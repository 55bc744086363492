package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshretail/freshcast/internal/bootstrap"
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/forecaststore"
	"github.com/freshretail/freshcast/internal/handlers"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"github.com/freshretail/freshcast/internal/queue"
	"github.com/freshretail/freshcast/internal/router"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/freshretail/freshcast/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("API service starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", "error", err)
	}

	// Sales warehouse
	warehouse, err := bootstrap.OpenWarehouse(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open warehouse", "error", err)
	}
	defer warehouse.Close()

	// Precomputed forecast store
	store, err := forecaststore.New(cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to open forecast store", "error", err)
	}
	defer func() { _ = store.Close() }()

	// Connect to Queue (configurable backend)
	logger.Info("Connecting to Queue", "type", cfg.Queue.Type, "url", cfg.Queue.URL)
	queueClient, err := queue.NewQueue(cfg.Queue, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Queue", "error", err)
	}
	defer func() { _ = queueClient.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	p := bootstrap.NewPipeline(cfg, warehouse, logger, m)
	today := cfg.Server.Today

	precompute := services.NewPrecomputeService(logger, warehouse, p.Batch, store, queueClient, cfg.Queue.Subject, cfg.Forecast, m, today)
	if cfg.Queue.Type == "" || cfg.Queue.Type == "memory" {
		// Nothing outside this process can consume an in-memory queue.
		if err := queueClient.Subscribe(cfg.Queue.Subject, precompute.HandleMessage); err != nil {
			logger.Fatal("Failed to subscribe to job queue", "error", err)
		}
		logger.Info("Processing forecast jobs in-process", "subject", cfg.Queue.Subject)
	}

	h := handlers.New(logger,
		services.NewForecastService(logger, p.Orchestrator, p.Batch, store, cfg.Forecast, today),
		precompute,
		services.NewPromotionService(logger, warehouse, warehouse, cfg.Forecast, today),
		services.NewAnalyticsService(logger, warehouse, today),
	)

	// Log authentication status
	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}

	app := router.New(logger, h, reg, *cfg)

	// Start server in goroutine
	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with 10 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", "error", err)
	}

	logger.Info("Server exited")
}
