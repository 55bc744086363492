// Package bootstrap builds the components shared by the API, the worker
// and the CLI from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/freshretail/freshcast/internal/cache"
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"github.com/freshretail/freshcast/internal/pipeline"
)

// OpenWarehouse connects to Postgres, wrapping it in the query limiter when
// a rate is configured. An empty database URL yields an in-memory warehouse.
func OpenWarehouse(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (datasource.Warehouse, error) {
	if cfg.URL == "" {
		logger.Warn("No database URL configured, using an empty in-memory warehouse")
		return datasource.NewMemory(), nil
	}

	pg, err := datasource.NewPostgres(ctx, cfg.URL, cfg.MaxConns, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	logger.Info("Warehouse connected", "max_conns", cfg.MaxConns)

	if cfg.QueryRate > 0 {
		logger.Info("Warehouse queries throttled", "rate", cfg.QueryRate, "burst", cfg.QueryBurst)
		return datasource.NewThrottled(pg, cfg.QueryRate, cfg.QueryBurst), nil
	}
	return pg, nil
}

// Pipeline is the orchestrator and batch runner pair.
type Pipeline struct {
	Orchestrator *pipeline.Orchestrator
	Batch        *pipeline.BatchRunner
	Cache        *cache.ModelCache
}

// NewPipeline builds the forecasting pipeline over source.
func NewPipeline(cfg *config.Config, source datasource.Source, logger *logging.Logger, m *metrics.Metrics) *Pipeline {
	opts := []pipeline.Option{pipeline.WithMetrics(m)}

	var modelCache *cache.ModelCache
	if cfg.Cache.Enabled {
		modelCache = cache.NewModelCache(cfg.Cache.Size, cfg.Cache.TTL)
		opts = append(opts, pipeline.WithCache(modelCache))
		logger.Info("Model cache enabled", "size", cfg.Cache.Size, "ttl", cfg.Cache.TTL)
	}

	orch := pipeline.NewOrchestrator(source, cfg.Forecast, logger, opts...)
	return &Pipeline{
		Orchestrator: orch,
		Batch:        pipeline.NewBatchRunner(orch, cfg.Forecast.BatchWorkers, logger, m),
		Cache:        modelCache,
	}
}
