// Package pipeline runs the per-entity forecast: assemble history, validate,
// fit, extrapolate regressors, predict and package.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/analytics/regressor"
	"github.com/freshretail/freshcast/internal/cache"
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"github.com/freshretail/freshcast/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Stage is a state of a single pipeline run.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageDataAssembled Stage = "data_assembled"
	StageValidated     Stage = "validated"
	StageFitted        Stage = "fitted"
	StageExtrapolated  Stage = "extrapolated"
	StagePredicted     Stage = "predicted"
	StagePackaged      Stage = "packaged"
	StageFailed        Stage = "failed"
)

// ErrInvalidRequest marks requests rejected before any stage runs.
var ErrInvalidRequest = errors.New("invalid forecast request")

// FrequencyDaily is the only supported series frequency.
const FrequencyDaily = "D"

// Request describes one entity forecast.
type Request struct {
	Filter    datasource.EntityFilter
	Start     time.Time // first history day, inclusive
	End       time.Time // last history day, inclusive
	Horizon   int
	Frequency string
	Toggles   Toggles
	Schedule  regressor.Schedule // explicit future values; override source schedules
	MinRows   int                // zero uses the configured floor
}

// ForecastPoint is one packaged prediction.
type ForecastPoint struct {
	Date           string  `json:"date"`
	PredictedValue float64 `json:"predicted_value"`
	LowerBound     float64 `json:"lower_bound"`
	UpperBound     float64 `json:"upper_bound"`
}

// ModelInfo describes the fit behind a result.
type ModelInfo struct {
	Rows        int                    `json:"rows"`
	DroppedRows int                    `json:"dropped_rows"`
	LastDate    string                 `json:"last_date"`
	DataVersion string                 `json:"data_version"`
	Cached      bool                   `json:"cached"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Result is the packaged output of a successful run.
type Result struct {
	Entity            string             `json:"entity"`
	Forecast          []ForecastPoint    `json:"forecast"`
	Metrics           forecast.Metrics   `json:"metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	Model             ModelInfo          `json:"model"`
	Stages            []Stage            `json:"-"`
}

// Runner executes a single request.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Orchestrator sequences the pipeline stages for one entity at a time. It
// holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	assembler *Assembler
	evaluator *Evaluator
	opts      forecast.Options
	timeout   time.Duration
	cache     *cache.ModelCache
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables warm-start reuse of fitted models.
func WithCache(c *cache.ModelCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithMetrics records run outcomes and stage latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// OptionsFromConfig maps forecast configuration onto model options.
func OptionsFromConfig(cfg config.ForecastConfig) forecast.Options {
	return forecast.Options{
		Mode:                  forecast.Mode(cfg.SeasonalityMode),
		WeeklySeasonality:     cfg.WeeklySeasonality,
		YearlySeasonality:     cfg.YearlySeasonality,
		FourierOrderWeekly:    cfg.FourierOrderWeekly,
		FourierOrderYearly:    cfg.FourierOrderYearly,
		NumChangePoints:       cfg.NumChangePoints,
		ChangePointRange:      cfg.ChangePointRange,
		ChangePointPriorScale: cfg.ChangePointPriorScale,
		Regularization:        cfg.Regularization,
		IntervalWidth:         cfg.IntervalWidth,
		MinRows:               cfg.MinRows,
	}
}

// NewOrchestrator creates an orchestrator reading from source.
func NewOrchestrator(source datasource.Source, cfg config.ForecastConfig, logger *logging.Logger, options ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.Global()
	}
	o := &Orchestrator{
		assembler: NewAssembler(source, logger),
		opts:      OptionsFromConfig(cfg),
		timeout:   cfg.Timeout,
		logger:    logger,
	}
	for _, opt := range options {
		opt(o)
	}
	o.evaluator = NewEvaluator(cfg.HoldoutDays, logger, o.metrics)
	return o
}

// Run executes the pipeline under the configured time budget. When the
// budget is exceeded the run is abandoned and Timeout is returned; no
// partial result escapes.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	entity := req.Filter.Key()
	if logging.FromContext(ctx) == logging.Global() {
		ctx = logging.WithLogger(ctx, o.logger)
	}
	ctx = logging.WithEntity(ctx, entity)
	ctx, span := tracing.StartSpan(ctx, "pipeline.run",
		attribute.String("entity", entity),
		attribute.Int("horizon", req.Horizon),
	)
	if id := tracing.TraceID(ctx); id != "" {
		ctx = logging.WithTraceID(ctx, id)
	}

	start := time.Now()
	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.run(ctx, req)
		done <- outcome{res, err}
	}()

	var res *Result
	var err error
	select {
	case out := <-done:
		res, err = out.result, out.err
	case <-ctx.Done():
		err = forecast.WrapError(forecast.Timeout, ctx.Err(), "pipeline abandoned after %s", time.Since(start).Round(time.Millisecond))
	}

	o.record(ctx, entity, time.Since(start), err)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func validateRequest(req Request) error {
	if req.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %d", ErrInvalidRequest, req.Horizon)
	}
	if req.Frequency != "" && req.Frequency != FrequencyDaily {
		return fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRequest, req.Frequency)
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		return fmt.Errorf("%w: end date precedes start date", ErrInvalidRequest)
	}
	return nil
}

// runState tracks the linear stage progression of one run.
type runState struct {
	o      *Orchestrator
	ctx    context.Context
	stages []Stage
	mark   time.Time
}

func (s *runState) advance(stage Stage) {
	elapsed := time.Since(s.mark)
	s.stages = append(s.stages, stage)
	s.mark = time.Now()
	if s.o.metrics != nil {
		s.o.metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	}
	logging.FromContext(s.ctx).WithContext(s.ctx).Debug("Pipeline stage reached", "stage", string(stage), "elapsed_ms", elapsed.Milliseconds())
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*Result, error) {
	state := &runState{o: o, ctx: ctx, stages: []Stage{StageIdle}, mark: time.Now()}
	entity := req.Filter.Key()

	// Idle -> DataAssembled
	spanCtx, span := tracing.StartSpan(ctx, "pipeline.assemble")
	history, err := o.assembler.Assemble(spanCtx, req.Filter, req.Start, req.End, req.Toggles)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	state.advance(StageDataAssembled)
	if o.metrics != nil {
		o.metrics.HistoryRows.Observe(float64(len(history)))
	}

	// DataAssembled -> Validated
	minRows := req.MinRows
	if minRows <= 0 {
		minRows = o.opts.MinRows
	}
	if len(history) < minRows {
		return nil, forecast.NewInsufficientData(len(history), minRows)
	}
	state.advance(StageValidated)

	// Validated -> Fitted
	opts := o.opts
	opts.MinRows = minRows
	model := forecast.NewModel(opts)
	for _, name := range req.Toggles.Regressors() {
		model.AddRegressor(name)
	}

	key := cache.Key{Entity: entity, Toggles: req.Toggles.String(), Version: cache.DataVersion(history)}
	fitted, cached := o.lookup(key)
	if !cached {
		_, span = tracing.StartSpan(ctx, "pipeline.fit", attribute.Int("rows", len(history)))
		fitted, err = model.Fit(history)
		tracing.End(span, err)
		if err != nil {
			if kind := forecast.KindOf(err); kind != forecast.InsufficientData && kind != forecast.ModelFitError {
				err = forecast.WrapError(forecast.ModelFitError, err, "fit rejected the data")
			}
			return nil, err
		}
		if o.cache != nil {
			o.cache.Put(key, fitted)
		}
	}
	state.advance(StageFitted)

	// Fitted -> Extrapolated
	dates := forecast.FutureDates(fitted.LastDate(), req.Horizon)
	schedule := o.assembler.FutureSchedule(ctx, req.Filter, dates, req.Toggles)
	for name, byDay := range req.Schedule {
		for d, v := range byDay {
			schedule.Set(name, d, v)
		}
	}
	frame, err := regressor.Extrapolate(fitted, dates, schedule)
	if err != nil {
		return nil, err
	}
	state.advance(StageExtrapolated)

	// Extrapolated -> Predicted
	points, err := fitted.Predict(frame)
	if err != nil {
		return nil, err
	}
	if len(points) != req.Horizon {
		return nil, forecast.NewError(forecast.SchemaMismatch, "predicted %d points for horizon %d", len(points), req.Horizon)
	}
	state.advance(StagePredicted)

	// Predicted -> Packaged
	result := &Result{
		Entity:            entity,
		Forecast:          make([]ForecastPoint, len(points)),
		Metrics:           o.evaluator.Evaluate(model, fitted, history),
		FeatureImportance: fitted.FeatureImportance(),
		Model: ModelInfo{
			Rows:        fitted.Rows(),
			DroppedRows: fitted.Dropped(),
			LastDate:    fitted.LastDate().Format(forecast.DateLayout),
			DataVersion: key.Version,
			Cached:      cached,
			Parameters:  fitted.Parameters(),
		},
	}
	for i, p := range points {
		result.Forecast[i] = ForecastPoint{
			Date:           p.Date.Format(forecast.DateLayout),
			PredictedValue: p.Value,
			LowerBound:     p.Lower,
			UpperBound:     p.Upper,
		}
	}
	state.advance(StagePackaged)
	result.Stages = state.stages

	return result, nil
}

func (o *Orchestrator) lookup(key cache.Key) (*forecast.FittedModel, bool) {
	if o.cache == nil {
		return nil, false
	}
	fitted, ok := o.cache.Get(key)
	if o.metrics != nil {
		label := "miss"
		if ok {
			label = "hit"
		}
		o.metrics.CacheLookups.WithLabelValues(label).Inc()
	}
	return fitted, ok
}

// record logs the outcome at a severity matching its kind and updates counters.
func (o *Orchestrator) record(ctx context.Context, entity string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = forecast.KindOf(err).String()
	}
	if o.metrics != nil {
		o.metrics.PipelineRuns.WithLabelValues(outcome).Inc()
		o.metrics.PipelineDuration.Observe(elapsed.Seconds())
	}

	logger := logging.FromContext(ctx).WithContext(ctx)
	fields := []interface{}{"entity", entity, "duration_ms", elapsed.Milliseconds(), "outcome", outcome}
	if err != nil {
		fields = append(fields, "error", err)
	}
	if fe, ok := forecast.AsError(err); ok && fe.Kind == forecast.InsufficientData {
		fields = append(fields, "row_count", fe.RowCount, "min_rows", fe.MinRows)
	}

	switch forecast.KindOf(err) {
	case forecast.KindUnknown:
		if err == nil {
			logger.Info("Forecast pipeline completed", fields...)
		} else {
			logger.Error("Forecast pipeline failed", fields...)
		}
	case forecast.InsufficientData, forecast.ModelFitError:
		logger.Warn("Forecast pipeline rejected input", fields...)
	case forecast.SchemaMismatch:
		logger.Error("Forecast pipeline schema mismatch", fields...)
	default:
		logger.Error("Forecast pipeline failed", fields...)
	}
}
