// Package scheduler enqueues recurring precompute jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/robfig/cron/v3"
)

// Enqueuer accepts precompute jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, source string, req models.JobRequest) (*models.ForecastJob, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec is a valid five-field cron expression
// or descriptor such as @daily.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler fires a job per cron tick.
type Scheduler struct {
	cfg      config.SchedulerConfig
	enqueuer Enqueuer
	logger   *logging.Logger
	cron     *cron.Cron
	timeout  time.Duration

	mu      sync.Mutex
	entry   cron.EntryID
	started bool
}

// New creates a scheduler. Ticks are evaluated in loc.
func New(cfg config.SchedulerConfig, enqueuer Enqueuer, loc *time.Location, logger *logging.Logger) (*Scheduler, error) {
	if err := ValidateSpec(cfg.Spec); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Scheduler{
		cfg:      cfg,
		enqueuer: enqueuer,
		logger:   logger,
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		timeout:  30 * time.Second,
	}, nil
}

// Start begins ticking. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	id, err := s.cron.AddFunc(s.cfg.Spec, s.tick)
	if err != nil {
		return fmt.Errorf("schedule precompute job: %w", err)
	}
	s.entry = id
	s.cron.Start()
	s.started = true

	s.logger.Info("Precompute scheduler started", "spec", s.cfg.Spec, "next", s.Next())
	return nil
}

// Stop halts ticking and waits for a running tick to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with a tick in flight")
	}
}

// Next returns the next scheduled run, or zero when not started.
func (s *Scheduler) Next() time.Time {
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// TriggerNow enqueues a job immediately.
func (s *Scheduler) TriggerNow(ctx context.Context) (*models.ForecastJob, error) {
	return s.enqueuer.Enqueue(ctx, models.JobSourceScheduler, s.request())
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	job, err := s.TriggerNow(ctx)
	if err != nil {
		s.logger.Error("Scheduled precompute enqueue failed", "error", err)
		return
	}
	s.logger.Info("Scheduled precompute enqueued", "job_id", job.ID, "next", s.Next())
}

func (s *Scheduler) request() models.JobRequest {
	return models.JobRequest{
		CityIDs:     s.cfg.CityIDs,
		StoreIDs:    s.cfg.StoreIDs,
		ProductIDs:  s.cfg.ProductIDs,
		HorizonDays: s.cfg.HorizonDays,
		HistoryDays: s.cfg.HistoryDays,
	}
}
