package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// BatchResult maps each entity key to its result or its error. Every
// requested entity appears in exactly one of the two maps.
type BatchResult struct {
	Results map[string]*Result `json:"results"`
	Errors  map[string]error   `json:"-"`
}

// Succeeded returns the number of entities that produced a forecast.
func (b *BatchResult) Succeeded() int { return len(b.Results) }

// Failed returns the number of entities that failed.
func (b *BatchResult) Failed() int { return len(b.Errors) }

// BatchRunner runs independent pipelines for many entities with bounded
// concurrency. One entity failing never cancels the others.
type BatchRunner struct {
	runner  Runner
	workers int
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewBatchRunner creates a batch runner. workers below one runs serially.
func NewBatchRunner(runner Runner, workers int, logger *logging.Logger, m *metrics.Metrics) *BatchRunner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &BatchRunner{runner: runner, workers: workers, logger: logger, metrics: m}
}

// Run executes every request. Requests sharing an entity key run once; the
// first occurrence wins.
func (b *BatchRunner) Run(ctx context.Context, reqs []Request) *BatchResult {
	out := &BatchResult{
		Results: make(map[string]*Result, len(reqs)),
		Errors:  make(map[string]error),
	}

	seen := make(map[string]struct{}, len(reqs))
	unique := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		key := r.Filter.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, r)
	}
	if b.metrics != nil {
		b.metrics.BatchSize.Observe(float64(len(unique)))
	}

	start := time.Now()
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(b.workers)
	for _, req := range unique {
		req := req
		g.Go(func() error {
			res, err := b.runner.Run(ctx, req)
			key := req.Filter.Key()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors[key] = err
			} else {
				out.Results[key] = res
			}
			return nil
		})
	}
	_ = g.Wait()

	b.logger.Info("Batch forecast completed",
		"entities", len(unique),
		"succeeded", out.Succeeded(),
		"failed", out.Failed(),
		"duration_ms", time.Since(start).Milliseconds())
	return out
}
