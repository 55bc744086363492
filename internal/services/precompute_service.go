package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/forecaststore"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/pipeline"
	"github.com/freshretail/freshcast/internal/queue"
)

// PrecomputeService enqueues and executes jobs that forecast every
// city/store/product combination and write the results to the store.
type PrecomputeService struct {
	logger    *logging.Logger
	facts     datasource.FactSource
	batch     *pipeline.BatchRunner
	store     forecaststore.Store
	publisher queue.Publisher
	subject   string
	cfg       config.ForecastConfig
	metrics   *metrics.Metrics
	today     func() time.Time
}

// NewPrecomputeService creates a PrecomputeService. publisher may be nil for
// processes that only execute jobs.
func NewPrecomputeService(
	logger *logging.Logger,
	facts datasource.FactSource,
	batch *pipeline.BatchRunner,
	store forecaststore.Store,
	publisher queue.Publisher,
	subject string,
	cfg config.ForecastConfig,
	m *metrics.Metrics,
	today func() time.Time,
) *PrecomputeService {
	return &PrecomputeService{
		logger:    logger,
		facts:     facts,
		batch:     batch,
		store:     store,
		publisher: publisher,
		subject:   subject,
		cfg:       cfg,
		metrics:   m,
		today:     today,
	}
}

// Combination is one city/store/product series.
type Combination struct {
	CityID    int64 `json:"city_id"`
	StoreID   int64 `json:"store_id"`
	ProductID int64 `json:"product_id"`
	Rows      int   `json:"rows"`
}

// JobReport summarises a processed job.
type JobReport struct {
	JobID        string        `json:"job_id"`
	Combinations int           `json:"combinations"`
	Skipped      int           `json:"skipped"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Stored       int           `json:"stored"`
	Duration     time.Duration `json:"duration"`
}

// Enqueue publishes a new job.
func (s *PrecomputeService) Enqueue(ctx context.Context, source string, req models.JobRequest) (*models.ForecastJob, error) {
	if s.publisher == nil {
		return nil, NewServiceError(CodeQueueUnavailable, "job queue is not configured")
	}
	if req.HorizonDays < 0 || req.HistoryDays < 0 {
		return nil, NewServiceError(CodeInvalidRequest, "horizon_days and history_days must not be negative")
	}

	job := models.NewForecastJob(source, req, time.Now())
	data, err := job.Encode()
	if err != nil {
		return nil, NewServiceError(CodeInternal, err.Error())
	}
	if err := s.publisher.Publish(ctx, s.subject, data); err != nil {
		return nil, NewServiceErrorWithDetails(CodeQueueUnavailable, "failed to publish job", map[string]interface{}{"error": err.Error()})
	}

	s.logger.Info("Forecast job enqueued", "job_id", job.ID, "source", source, "subject", s.subject)
	return job, nil
}

// HandleMessage is the queue handler for job messages. Malformed messages
// are dropped; processing failures are returned so the queue redelivers.
func (s *PrecomputeService) HandleMessage(ctx context.Context, data []byte) error {
	job, err := models.DecodeForecastJob(data)
	if err != nil {
		s.logger.Error("Dropping malformed job message", "error", err, "size", len(data))
		s.countJob(err)
		return nil
	}

	report, err := s.Process(ctx, job)
	s.countJob(err)
	if err != nil {
		return fmt.Errorf("process job %s: %w", job.ID, err)
	}
	s.logger.Info("Forecast job processed",
		"job_id", report.JobID,
		"combinations", report.Combinations,
		"skipped", report.Skipped,
		"stored", report.Stored,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds())
	return nil
}

// Process runs a job to completion.
func (s *PrecomputeService) Process(ctx context.Context, job *models.ForecastJob) (*JobReport, error) {
	start := time.Now()
	horizon := job.HorizonDays
	if horizon == 0 {
		horizon = s.cfg.DefaultHorizon
	}
	historyDays := job.HistoryDays
	if historyDays == 0 {
		historyDays = s.cfg.HistoryDays
	}
	end := s.today().AddDate(0, 0, -1)
	if job.EndDate != "" {
		d, err := models.ParseDate(job.EndDate)
		if err != nil {
			return nil, fmt.Errorf("job end date: %w", err)
		}
		end = d
	}
	from := end.AddDate(0, 0, -historyDays)

	log := s.logger.With("job_id", job.ID)
	combos, skipped, err := s.Discover(ctx, job, from, end)
	if err != nil {
		return nil, err
	}
	log.Info("Forecast job started", "combinations", len(combos), "skipped", skipped, "horizon", horizon)

	reqs := make([]pipeline.Request, len(combos))
	byKey := make(map[string]Combination, len(combos))
	for i, c := range combos {
		f := datasource.EntityFilter{
			CityID:    datasource.ID(c.CityID),
			StoreID:   datasource.ID(c.StoreID),
			ProductID: datasource.ID(c.ProductID),
		}
		reqs[i] = pipeline.Request{
			Filter:    f,
			Start:     from,
			End:       end,
			Horizon:   horizon,
			Frequency: pipeline.FrequencyDaily,
			Toggles:   pipeline.Toggles{Weather: true, Holidays: true, Promotions: true},
		}
		byKey[f.Key()] = c
	}

	out := s.batch.Run(ctx, reqs)
	report := &JobReport{
		JobID:        job.ID,
		Combinations: len(combos),
		Skipped:      skipped,
		Succeeded:    out.Succeeded(),
		Failed:       out.Failed(),
	}

	generated := time.Now().UTC()
	for key, res := range out.Results {
		c := byKey[key]
		err := s.store.Put(ctx, forecaststore.Entry{
			CityID:      c.CityID,
			StoreID:     c.StoreID,
			ProductID:   c.ProductID,
			Horizon:     horizon,
			GeneratedAt: generated,
			JobID:       job.ID,
			Result:      res,
		})
		if s.metrics != nil {
			s.metrics.StoreWrites.WithLabelValues(metrics.Result(err)).Inc()
		}
		if err != nil {
			log.Error("Failed to store forecast", "entity", key, "error", err)
			continue
		}
		report.Stored++
	}
	for key, e := range out.Errors {
		log.Warn("Combination forecast failed", "entity", key, "error", e)
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Discover lists the combinations in [from, end] matching the job's id
// lists. Combinations with fewer dated rows than the fit floor are skipped.
func (s *PrecomputeService) Discover(ctx context.Context, job *models.ForecastJob, from, end time.Time) ([]Combination, int, error) {
	filters := []datasource.EntityFilter{{}}
	if len(job.StoreIDs) > 0 {
		filters = filters[:0]
		for _, id := range job.StoreIDs {
			filters = append(filters, datasource.EntityFilter{StoreID: datasource.ID(id)})
		}
	}

	cities, products := idSet(job.CityIDs), idSet(job.ProductIDs)
	days := make(map[Combination]map[time.Time]struct{})
	for _, f := range filters {
		facts, err := s.facts.QueryFacts(ctx, f, from, end)
		if err != nil {
			return nil, 0, dataUnavailable(err, "sales fact query")
		}
		for _, fact := range facts {
			if !cities.has(fact.CityID) || !products.has(fact.ProductID) {
				continue
			}
			c := Combination{CityID: fact.CityID, StoreID: fact.StoreID, ProductID: fact.ProductID}
			if days[c] == nil {
				days[c] = make(map[time.Time]struct{})
			}
			days[c][forecast.Day(fact.Date)] = struct{}{}
		}
	}

	var combos []Combination
	skipped := 0
	for c, d := range days {
		c.Rows = len(d)
		if c.Rows < s.cfg.MinRows {
			skipped++
			continue
		}
		combos = append(combos, c)
	}
	sort.Slice(combos, func(i, j int) bool {
		a, b := combos[i], combos[j]
		if a.CityID != b.CityID {
			return a.CityID < b.CityID
		}
		if a.StoreID != b.StoreID {
			return a.StoreID < b.StoreID
		}
		return a.ProductID < b.ProductID
	})
	return combos, skipped, nil
}

func (s *PrecomputeService) countJob(err error) {
	if s.metrics != nil {
		s.metrics.JobsProcessed.WithLabelValues(metrics.Result(err)).Inc()
	}
}

type ids map[int64]struct{}

func idSet(list []int64) ids {
	if len(list) == 0 {
		return nil
	}
	out := make(ids, len(list))
	for _, id := range list {
		out[id] = struct{}{}
	}
	return out
}

// has reports membership; a nil set matches everything.
func (s ids) has(id int64) bool {
	if s == nil {
		return true
	}
	_, ok := s[id]
	return ok
}

// Subject returns the queue subject jobs are published to.
func (s *PrecomputeService) Subject() string {
	return s.subject
}
