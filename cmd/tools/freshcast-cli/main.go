package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/baseline"
	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/bootstrap"
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/forecaststore"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/pipeline"
	"github.com/freshretail/freshcast/internal/queue"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	verbose    bool

	// Entity selection
	cityIDs    []int64
	storeIDs   []int64
	productIDs []int64

	// Windows
	horizonDays int
	historyDays int
	endDate     string
	holdoutDays int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "freshcast-cli",
		Short: "Offline forecasting tools for the freshcast service",
		Long: `Runs forecast precomputation and backtests directly against the sales
warehouse, or enqueues precompute jobs for the worker.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log at debug level to stderr")

	rootCmd.AddCommand(offlineCmd())
	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(enqueueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addEntityFlags(cmd *cobra.Command) {
	cmd.Flags().Int64SliceVar(&cityIDs, "city", nil, "City ids (repeatable or comma separated)")
	cmd.Flags().Int64SliceVar(&storeIDs, "store", nil, "Store ids")
	cmd.Flags().Int64SliceVar(&productIDs, "product", nil, "Product ids")
	cmd.Flags().IntVar(&historyDays, "history", 0, "History window in days (0 uses forecast.history_days)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "Last history day, YYYY-MM-DD (default yesterday)")
}

// setup loads configuration and a logger writing to stderr so stdout stays
// machine readable.
func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Logging.OutputPath = "stderr"
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)
	return cfg, logger, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jobRequest() models.JobRequest {
	return models.JobRequest{
		CityIDs:     cityIDs,
		StoreIDs:    storeIDs,
		ProductIDs:  productIDs,
		HorizonDays: horizonDays,
		HistoryDays: historyDays,
	}
}

// offlineCmd precomputes forecasts in-process
func offlineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Precompute forecasts and write them to the forecast store",
		Long: `Discovers every city/store/product combination matching the id filters,
forecasts each one and writes the results to the configured forecast store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			warehouse, err := bootstrap.OpenWarehouse(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer warehouse.Close()

			store, err := forecaststore.New(cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("failed to open forecast store: %w", err)
			}
			defer func() { _ = store.Close() }()

			m := metrics.New(nil)
			p := bootstrap.NewPipeline(cfg, warehouse, logger, m)
			svc := services.NewPrecomputeService(logger, warehouse, p.Batch, store, nil, cfg.Queue.Subject, cfg.Forecast, m, cfg.Server.Today)

			job := models.NewForecastJob(models.JobSourceCLI, jobRequest(), time.Now())
			job.EndDate = endDate
			report, err := svc.Process(ctx, job)
			if err != nil {
				return fmt.Errorf("offline precompute failed: %w", err)
			}
			return printJSON(report)
		},
	}
	addEntityFlags(cmd)
	cmd.Flags().IntVar(&horizonDays, "horizon", 0, "Forecast horizon in days (0 uses forecast.default_horizon)")
	return cmd
}

// BacktestReport is the output of the backtest command.
type BacktestReport struct {
	Entity      string             `json:"entity"`
	HoldoutDays int                `json:"holdout_days"`
	HistoryFrom string             `json:"history_from"`
	HistoryTo   string             `json:"history_to"`
	Metrics     forecast.Metrics   `json:"metrics"`
	Model       pipeline.ModelInfo `json:"model"`
	Importance  map[string]float64 `json:"feature_importance"`
	Baselines   []baseline.Score   `json:"baselines,omitempty"`
}

// backtestCmd scores a holdout refit for one entity
func backtestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Evaluate forecast accuracy on a holdout window for one entity",
		Long: `Refits the model without the final holdout days of history and reports
MAE, RMSE and MAPE of its predictions for those days, next to simple
baselines (seasonal naive, moving average, exponential smoothing and
Holt-Winters) scored on the same window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(storeIDs) != 1 || len(cityIDs) != 1 {
				return fmt.Errorf("backtest needs exactly one --city and one --store")
			}
			if len(productIDs) > 1 {
				return fmt.Errorf("backtest accepts at most one --product")
			}
			if holdoutDays <= 0 {
				return fmt.Errorf("--holdout must be positive")
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			cfg.Forecast.HoldoutDays = holdoutDays
			ctx := cmd.Context()

			warehouse, err := bootstrap.OpenWarehouse(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer warehouse.Close()

			end := cfg.Server.Today().AddDate(0, 0, -1)
			if endDate != "" {
				if end, err = models.ParseDate(endDate); err != nil {
					return fmt.Errorf("invalid --end-date: %w", err)
				}
			}
			days := historyDays
			if days == 0 {
				days = cfg.Forecast.HistoryDays
			}
			start := end.AddDate(0, 0, -days)

			filter := datasource.EntityFilter{CityID: &cityIDs[0], StoreID: &storeIDs[0]}
			if len(productIDs) == 1 {
				filter.ProductID = &productIDs[0]
			}

			p := bootstrap.NewPipeline(cfg, warehouse, logger, metrics.New(nil))
			res, err := p.Orchestrator.Run(ctx, pipeline.Request{
				Filter:    filter,
				Start:     start,
				End:       end,
				Horizon:   1,
				Frequency: pipeline.FrequencyDaily,
				Toggles:   pipeline.Toggles{Weather: true, Holidays: true, Promotions: true},
			})
			if err != nil {
				se := services.FromError(err)
				return fmt.Errorf("%s: %s", se.Code, se.Message)
			}

			history, err := pipeline.NewAssembler(warehouse, logger).Assemble(ctx, filter, start, end, pipeline.Toggles{})
			if err != nil {
				return fmt.Errorf("failed to assemble history for baselines: %w", err)
			}
			train, test := history.Split(holdoutDays)

			return printJSON(BacktestReport{
				Baselines:   baseline.Compare(train.Targets(), test.Targets()),
				Entity:      res.Entity,
				HoldoutDays: holdoutDays,
				HistoryFrom: start.Format(models.DateLayout),
				HistoryTo:   end.Format(models.DateLayout),
				Metrics:     res.Metrics,
				Model:       res.Model,
				Importance:  res.FeatureImportance,
			})
		},
	}
	addEntityFlags(cmd)
	cmd.Flags().IntVar(&holdoutDays, "holdout", 14, "Days held out from the end of history")
	return cmd
}

// enqueueCmd publishes a precompute job for the worker
func enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a precompute job to the configured queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Queue.Type == "" || cfg.Queue.Type == "memory" {
				return fmt.Errorf("queue type %q cannot reach a worker; configure nats, redis or kafka", cfg.Queue.Type)
			}

			q, err := queue.NewQueue(cfg.Queue, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to queue: %w", err)
			}
			defer func() { _ = q.Close() }()

			svc := services.NewPrecomputeService(logger, nil, nil, nil, q, cfg.Queue.Subject, cfg.Forecast, nil, cfg.Server.Today)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			job, err := svc.Enqueue(ctx, models.JobSourceCLI, jobRequest())
			if err != nil {
				return err
			}
			return printJSON(models.JobAccepted{JobID: job.ID, Subject: cfg.Queue.Subject, Status: "queued"})
		},
	}
	addEntityFlags(cmd)
	cmd.Flags().IntVar(&horizonDays, "horizon", 0, "Forecast horizon in days (0 uses forecast.default_horizon)")
	return cmd
}
