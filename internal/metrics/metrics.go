// Package metrics exposes Prometheus instruments for the forecasting service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument. Instances are registered on the registerer
// given to New, so tests can use private registries.
type Metrics struct {
	PipelineRuns     *prometheus.CounterVec   // by outcome kind
	StageDuration    *prometheus.HistogramVec // by stage
	PipelineDuration prometheus.Histogram
	HistoryRows      prometheus.Histogram
	BatchSize        prometheus.Histogram
	CacheLookups     *prometheus.CounterVec // hit or miss
	EvaluatorErrors  prometheus.Counter
	StoreWrites      *prometheus.CounterVec // ok or error
	JobsProcessed    *prometheus.CounterVec // ok or error
}

// New creates and registers all metrics. A nil registerer uses a fresh
// private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freshcast_pipeline_runs_total",
			Help: "Forecast pipeline runs by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freshcast_pipeline_stage_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "freshcast_pipeline_seconds",
			Help:    "End-to-end duration of a forecast run",
			Buckets: prometheus.ExponentialBuckets(0.005, 3, 8),
		}),
		HistoryRows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "freshcast_history_rows",
			Help:    "Rows in the assembled history table",
			Buckets: []float64{0, 10, 30, 90, 180, 365, 730, 1460},
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "freshcast_batch_entities",
			Help:    "Entities per batch forecast request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freshcast_model_cache_lookups_total",
			Help: "Warm-start model cache lookups",
		}, []string{"result"}),
		EvaluatorErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "freshcast_evaluator_errors_total",
			Help: "Accuracy evaluations that fell back to zero metrics",
		}),
		StoreWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freshcast_forecast_store_writes_total",
			Help: "Precomputed forecast writes",
		}, []string{"result"}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freshcast_jobs_processed_total",
			Help: "Queued forecast jobs handled by the worker",
		}, []string{"result"}),
	}
}

// Result label helper.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
