package services

import (
	"context"
	"sort"
	"time"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/forecaststore"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/pipeline"
)

// ForecastService handles forecasting business logic
type ForecastService struct {
	logger *logging.Logger
	runner pipeline.Runner
	batch  *pipeline.BatchRunner
	store  forecaststore.Store
	cfg    config.ForecastConfig
	today  func() time.Time
}

// NewForecastService creates a new ForecastService. store may be nil when
// precomputed forecasts are not served.
func NewForecastService(
	logger *logging.Logger,
	runner pipeline.Runner,
	batch *pipeline.BatchRunner,
	store forecaststore.Store,
	cfg config.ForecastConfig,
	today func() time.Time,
) *ForecastService {
	return &ForecastService{
		logger: logger,
		runner: runner,
		batch:  batch,
		store:  store,
		cfg:    cfg,
		today:  today,
	}
}

// ForecastResponse is the single-entity forecast body.
type ForecastResponse struct {
	*pipeline.Result
	HistoryStart string `json:"history_start"`
	HistoryEnd   string `json:"history_end"`
}

// BatchError is the failure of one entity in a batch.
type BatchError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// BatchResponse maps entity keys to forecasts or errors.
type BatchResponse struct {
	Results   map[string]*pipeline.Result `json:"results"`
	Errors    map[string]BatchError       `json:"errors"`
	Succeeded int                         `json:"succeeded"`
	Failed    int                         `json:"failed"`
}

// Toggles converts the request's include flags.
func Toggles(req *models.ForecastRequest) pipeline.Toggles {
	return pipeline.Toggles{Weather: req.Weather(), Holidays: req.Holidays(), Promotions: req.Promotions()}
}

// PipelineRequest converts a validated API request.
func PipelineRequest(req *models.ForecastRequest) pipeline.Request {
	return pipeline.Request{
		Filter:    req.Filter(),
		Start:     req.StartParsed,
		End:       req.EndParsed,
		Horizon:   req.Periods,
		Frequency: req.Freq,
		Toggles:   Toggles(req),
	}
}

// Forecast runs the pipeline for one entity.
func (s *ForecastService) Forecast(ctx context.Context, req *models.ForecastRequest) (*ForecastResponse, error) {
	if err := req.Validate(s.today(), s.cfg.HistoryDays); err != nil {
		return nil, FromError(err)
	}

	res, err := s.runner.Run(ctx, PipelineRequest(req))
	if err != nil {
		return nil, FromError(err)
	}
	return &ForecastResponse{
		Result:       res,
		HistoryStart: req.StartParsed.Format(models.DateLayout),
		HistoryEnd:   req.EndParsed.Format(models.DateLayout),
	}, nil
}

// Batch forecasts many entities. Entity failures are reported per key and
// never fail the batch.
func (s *ForecastService) Batch(ctx context.Context, body *models.BatchForecastRequest) (*BatchResponse, error) {
	reqs, err := body.Requests(s.today(), s.cfg.HistoryDays)
	if err != nil {
		return nil, FromError(err)
	}

	pipelineReqs := make([]pipeline.Request, len(reqs))
	for i, r := range reqs {
		pipelineReqs[i] = PipelineRequest(r)
	}

	start := time.Now()
	out := s.batch.Run(ctx, pipelineReqs)

	resp := &BatchResponse{
		Results:   out.Results,
		Errors:    make(map[string]BatchError, len(out.Errors)),
		Succeeded: out.Succeeded(),
		Failed:    out.Failed(),
	}
	for key, e := range out.Errors {
		se := FromError(e)
		resp.Errors[key] = BatchError{Code: se.Code, Message: se.Message, Details: se.Details}
	}

	if resp.Failed > 0 {
		keys := make([]string, 0, len(resp.Errors))
		for k := range resp.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s.logger.Warn("Batch forecast had failures",
			"failed", resp.Failed,
			"succeeded", resp.Succeeded,
			"failed_entities", keys,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return resp, nil
}

// Precomputed returns a stored forecast.
func (s *ForecastService) Precomputed(ctx context.Context, q *models.PrecomputedQuery) (*forecaststore.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, FromError(err)
	}
	if s.store == nil {
		return nil, NewServiceError(CodeNotFound, "precomputed forecasts are not enabled")
	}
	entry, err := s.store.Get(ctx, forecaststore.Key{CityID: q.CityID, StoreID: q.StoreID, ProductID: q.ProductID, Horizon: q.Horizon})
	if err != nil {
		return nil, FromError(err)
	}
	return entry, nil
}
