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
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"github.com/freshretail/freshcast/internal/queue"
	"github.com/freshretail/freshcast/internal/scheduler"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/freshretail/freshcast/internal/tracing"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9100", "Listen address for /metrics and /health (empty disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Forecast worker starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", "error", err)
	}

	warehouse, err := bootstrap.OpenWarehouse(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open warehouse", "error", err)
	}
	defer warehouse.Close()

	store, err := forecaststore.New(cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to open forecast store", "error", err)
	}
	defer func() { _ = store.Close() }()

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

	precompute := services.NewPrecomputeService(logger, warehouse, p.Batch, store, queueClient, cfg.Queue.Subject, cfg.Forecast, m, cfg.Server.Today)
	if err := queueClient.Subscribe(cfg.Queue.Subject, precompute.HandleMessage); err != nil {
		logger.Fatal("Failed to subscribe to job queue", "error", err, "subject", cfg.Queue.Subject)
	}
	logger.Info("Subscribed to job queue", "subject", cfg.Queue.Subject)

	// Nightly precompute schedule
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler, precompute, cfg.Server.GetBusinessTimezone(), logger)
		if err != nil {
			logger.Fatal("Failed to create scheduler", "error", err)
		}
		if err := sched.Start(); err != nil {
			logger.Fatal("Failed to start scheduler", "error", err)
		}
		logger.Info("Scheduler started", "spec", cfg.Scheduler.Spec, "next", sched.Next())
	}

	var ops *fiber.App
	if *metricsAddr != "" {
		ops = fiber.New(fiber.Config{DisableStartupMessage: true})
		ops.Get("/health", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "healthy", "version": Version})
		})
		ops.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
		go func() {
			logger.Info("Metrics listening", "address", *metricsAddr)
			if err := ops.Listen(*metricsAddr); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := queueClient.Unsubscribe(cfg.Queue.Subject); err != nil {
		logger.Warn("Failed to unsubscribe", "error", err)
	}
	if ops != nil {
		_ = ops.ShutdownWithContext(shutdownCtx)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", "error", err)
	}

	logger.Info("Worker exited")
}
