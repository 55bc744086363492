package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/analytics/regressor"
	"github.com/freshretail/freshcast/internal/cache"
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func entity(store, product int64) datasource.EntityFilter {
	return datasource.EntityFilter{
		CityID:    datasource.ID(1),
		StoreID:   datasource.ID(store),
		ProductID: datasource.ID(product),
	}
}

// seed writes n days of a weekly-seasonal series with a gentle upward trend.
func seed(m *datasource.Memory, store, product int64, n int) {
	facts := make([]datasource.SalesFact, n)
	for i := range facts {
		facts[i] = datasource.SalesFact{
			Date:       day0.AddDate(0, 0, i),
			CityID:     1,
			StoreID:    store,
			ProductID:  product,
			CategoryID: 9,
			SaleAmount: 100 + 0.05*float64(i) + 10*math.Sin(2*math.Pi*float64(i)/7),
		}
	}
	m.AddFacts(facts...)
}

func forecastConfig() config.ForecastConfig {
	return config.DefaultConfig().Forecast
}

func lastDay(n int) time.Time { return day0.AddDate(0, 0, n-1) }

func TestAssembleMergesPromotions(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 10)
	_, err := m.CreatePromotion(context.Background(), datasource.Promotion{
		StoreID:            datasource.ID(1),
		ProductID:          datasource.ID(1),
		StartDate:          day0.AddDate(0, 0, 2),
		EndDate:            day0.AddDate(0, 0, 4),
		PromotionType:      "discount",
		DiscountPercentage: 0.2,
	})
	require.NoError(t, err)

	a := NewAssembler(m, logging.NewNop())
	h, err := a.Assemble(context.Background(), entity(1, 1), day0, lastDay(10), Toggles{Promotions: true})
	require.NoError(t, err)
	require.Len(t, h, 10)

	for i, r := range h {
		discount, ok := r.Regressor(regressor.DiscountFraction)
		require.True(t, ok)
		active, _ := r.Regressor(regressor.ActivityFlag)
		if i >= 2 && i <= 4 {
			assert.Equal(t, 0.2, discount, "day %d", i)
			assert.Equal(t, 1.0, active, "day %d", i)
		} else {
			assert.Zero(t, discount, "day %d", i)
			assert.Zero(t, active, "day %d", i)
		}
	}
}

func TestAssembleSumsSharedDates(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 5)
	seed(m, 1, 2, 5)

	a := NewAssembler(m, logging.NewNop())
	storeOnly := datasource.EntityFilter{StoreID: datasource.ID(1)}
	h, err := a.Assemble(context.Background(), storeOnly, day0, lastDay(5), Toggles{})
	require.NoError(t, err)
	require.Len(t, h, 5)
	for i := 1; i < len(h); i++ {
		assert.True(t, h[i-1].Date.Before(h[i].Date))
	}
	assert.InDelta(t, 200, h[0].Target, 1e-9)
}

func TestAssembleOptionalSourceFailures(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 10)
	m.WeatherErr = errors.New("weather api down")
	m.HolidayErr = errors.New("calendar missing")
	m.PromotionErr = errors.New("promotions table locked")

	a := NewAssembler(m, logging.NewNop())
	all := Toggles{Weather: true, Holidays: true, Promotions: true}
	h, err := a.Assemble(context.Background(), entity(1, 1), day0, lastDay(10), all)
	require.NoError(t, err)
	require.Len(t, h, 10)
	for _, r := range h {
		for _, name := range all.Regressors() {
			v, ok := r.Regressor(name)
			assert.True(t, ok, name)
			assert.Zero(t, v, name)
		}
	}
}

func TestAssembleWeather(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 3)
	m.AddWeather(1,
		datasource.WeatherRow{Date: day0, AvgTemperature: 20, AvgHumidity: 60, Precipitation: 1},
		datasource.WeatherRow{Date: day0.AddDate(0, 0, 1), AvgTemperature: 22, AvgHumidity: 55},
	)

	a := NewAssembler(m, logging.NewNop())
	h, err := a.Assemble(context.Background(), entity(1, 1), day0, lastDay(3), Toggles{Weather: true})
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, 20.0, h[0].Regressors[regressor.AvgTemperature])
	assert.Equal(t, 55.0, h[1].Regressors[regressor.AvgHumidity])

	// The uncovered day takes the mean of the covered days, not zero.
	assert.InDelta(t, 21.0, h[2].Regressors[regressor.AvgTemperature], 1e-9)
	assert.InDelta(t, 57.5, h[2].Regressors[regressor.AvgHumidity], 1e-9)
	assert.InDelta(t, 0.5, h[2].Regressors[regressor.Precipitation], 1e-9)
}

func TestAssembleWeatherPartialCoverageKeepsTrainingMean(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 30)
	for i := 0; i < 10; i++ {
		m.AddWeather(1, datasource.WeatherRow{Date: day0.AddDate(0, 0, i), AvgTemperature: 25, AvgHumidity: 70})
	}

	a := NewAssembler(m, logging.NewNop())
	h, err := a.Assemble(context.Background(), entity(1, 1), day0, lastDay(30), Toggles{Weather: true})
	require.NoError(t, err)
	require.Len(t, h, 30)

	var sum float64
	for _, r := range h {
		sum += r.Regressors[regressor.AvgTemperature]
	}
	assert.InDelta(t, 25.0, sum/30, 1e-9)
}

func TestAssembleSalesFailure(t *testing.T) {
	m := datasource.NewMemory()
	m.SalesErr = errors.New("connection refused")

	a := NewAssembler(m, logging.NewNop())
	_, err := a.Assemble(context.Background(), entity(1, 1), day0, lastDay(10), Toggles{})
	require.Error(t, err)
	assert.Equal(t, forecast.DataUnavailable, forecast.KindOf(err))
}

func TestFutureDiscountDefaultsToZero(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 60)
	_, err := m.CreatePromotion(context.Background(), datasource.Promotion{
		StartDate:          day0.AddDate(0, 0, 20),
		EndDate:            day0.AddDate(0, 0, 30),
		DiscountPercentage: 0.3,
	})
	require.NoError(t, err)

	toggles := Toggles{Promotions: true}
	a := NewAssembler(m, logging.NewNop())
	h, err := a.Assemble(context.Background(), entity(1, 1), day0, lastDay(60), toggles)
	require.NoError(t, err)

	model := forecast.NewModel(OptionsFromConfig(forecastConfig()))
	for _, name := range toggles.Regressors() {
		model.AddRegressor(name)
	}
	fitted, err := model.Fit(h)
	require.NoError(t, err)

	dates := forecast.FutureDates(fitted.LastDate(), 14)
	frame, err := regressor.Extrapolate(fitted, dates, a.FutureSchedule(context.Background(), entity(1, 1), dates, toggles))
	require.NoError(t, err)
	require.Len(t, frame, 14)
	for _, row := range frame {
		assert.Zero(t, row.Regressors[regressor.DiscountFraction])
		assert.Zero(t, row.Regressors[regressor.ActivityFlag])
	}
}

func TestRunEndToEnd(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 400)

	o := NewOrchestrator(m, forecastConfig(), logging.NewNop())
	res, err := o.Run(context.Background(), Request{
		Filter:    entity(1, 1),
		Start:     day0,
		End:       lastDay(400),
		Horizon:   30,
		Frequency: FrequencyDaily,
		Toggles:   Toggles{Weather: true, Holidays: true, Promotions: true},
	})
	require.NoError(t, err)

	require.Len(t, res.Forecast, 30)
	want := lastDay(400)
	for _, p := range res.Forecast {
		want = want.AddDate(0, 0, 1)
		assert.Equal(t, want.Format(forecast.DateLayout), p.Date)
		assert.LessOrEqual(t, p.LowerBound, p.PredictedValue)
		assert.LessOrEqual(t, p.PredictedValue, p.UpperBound)
	}

	assert.Equal(t, "city=1/store=1/product=1", res.Entity)
	assert.Equal(t, 400, res.Model.Rows)
	assert.Equal(t, 400, res.Metrics.N)
	assert.Contains(t, res.FeatureImportance, regressor.DiscountFraction)
	assert.Equal(t, []Stage{
		StageIdle, StageDataAssembled, StageValidated, StageFitted,
		StageExtrapolated, StagePredicted, StagePackaged,
	}, res.Stages)
}

func TestRunWeatherSourceDown(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 365)
	m.WeatherErr = errors.New("weather api down")

	o := NewOrchestrator(m, forecastConfig(), logging.NewNop())
	res, err := o.Run(context.Background(), Request{
		Filter:    entity(1, 1),
		Start:     day0,
		End:       lastDay(365),
		Horizon:   14,
		Frequency: FrequencyDaily,
		Toggles:   Toggles{Weather: true},
	})
	require.NoError(t, err)

	require.Len(t, res.Forecast, 14)
	assert.Equal(t, 365, res.Model.Rows)
	want := lastDay(365)
	for _, p := range res.Forecast {
		want = want.AddDate(0, 0, 1)
		assert.Equal(t, want.Format(forecast.DateLayout), p.Date)
		assert.LessOrEqual(t, p.LowerBound, p.PredictedValue)
		assert.LessOrEqual(t, p.PredictedValue, p.UpperBound)
	}
}

func TestRunInsufficientData(t *testing.T) {
	o := NewOrchestrator(datasource.NewMemory(), forecastConfig(), logging.NewNop())
	_, err := o.Run(context.Background(), Request{Filter: entity(1, 1), Start: day0, End: lastDay(30), Horizon: 7})
	require.Error(t, err)

	fe, ok := forecast.AsError(err)
	require.True(t, ok)
	assert.Equal(t, forecast.InsufficientData, fe.Kind)
	assert.Equal(t, 0, fe.RowCount)
	assert.Equal(t, 10, fe.MinRows)
}

func TestRunRequestMinRows(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 20)

	o := NewOrchestrator(m, forecastConfig(), logging.NewNop())
	_, err := o.Run(context.Background(), Request{Filter: entity(1, 1), Start: day0, End: lastDay(20), Horizon: 7, MinRows: 30})
	fe, ok := forecast.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 20, fe.RowCount)
	assert.Equal(t, 30, fe.MinRows)
}

func TestRunInvalidRequest(t *testing.T) {
	o := NewOrchestrator(datasource.NewMemory(), forecastConfig(), logging.NewNop())

	_, err := o.Run(context.Background(), Request{Filter: entity(1, 1), Horizon: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Run(context.Background(), Request{Filter: entity(1, 1), Horizon: 7, Frequency: "W"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Run(context.Background(), Request{Filter: entity(1, 1), Horizon: 7, Start: lastDay(10), End: day0})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunIsIdempotent(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 120)
	req := Request{Filter: entity(1, 1), Start: day0, End: lastDay(120), Horizon: 14, Toggles: Toggles{Promotions: true}}

	o := NewOrchestrator(m, forecastConfig(), logging.NewNop())
	first, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Forecast, second.Forecast)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestRunUsesCache(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 90)
	req := Request{Filter: entity(1, 1), Start: day0, End: lastDay(90), Horizon: 7}

	mt := metrics.New(nil)
	o := NewOrchestrator(m, forecastConfig(), logging.NewNop(),
		WithCache(cache.NewModelCache(8, time.Minute)),
		WithMetrics(mt),
	)

	cold, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, cold.Model.Cached)

	warm, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, warm.Model.Cached)
	assert.Equal(t, cold.Forecast, warm.Forecast)

	assert.Equal(t, 1.0, testutil.ToFloat64(mt.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.PipelineRuns.WithLabelValues("ok")))

	// New data must not reuse the old fit.
	m.AddFacts(datasource.SalesFact{Date: day0.AddDate(0, 0, 90), CityID: 1, StoreID: 1, ProductID: 1, SaleAmount: 130})
	req.End = lastDay(91)
	fresh, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, fresh.Model.Cached)
}

// slowSource ignores cancellation so only the orchestrator's budget can stop a run.
type slowSource struct {
	*datasource.Memory
	delay time.Duration
}

func (s slowSource) QueryHistory(ctx context.Context, f datasource.EntityFilter, start, end time.Time) ([]datasource.SalesRow, error) {
	time.Sleep(s.delay)
	return s.Memory.QueryHistory(ctx, f, start, end)
}

func TestRunTimeout(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 30)

	cfg := forecastConfig()
	cfg.Timeout = 20 * time.Millisecond
	o := NewOrchestrator(slowSource{Memory: m, delay: 300 * time.Millisecond}, cfg, logging.NewNop())

	start := time.Now()
	res, err := o.Run(context.Background(), Request{Filter: entity(1, 1), Start: day0, End: lastDay(30), Horizon: 7})
	assert.Nil(t, res)
	assert.Equal(t, forecast.Timeout, forecast.KindOf(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestBatchRunner(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 60)
	seed(m, 2, 1, 60)

	mt := metrics.New(nil)
	o := NewOrchestrator(m, forecastConfig(), logging.NewNop(), WithMetrics(mt))
	b := NewBatchRunner(o, 2, logging.NewNop(), mt)

	reqs := []Request{
		{Filter: entity(1, 1), Start: day0, End: lastDay(60), Horizon: 7},
		{Filter: entity(2, 1), Start: day0, End: lastDay(60), Horizon: 7},
		{Filter: entity(3, 1), Start: day0, End: lastDay(60), Horizon: 7},
		{Filter: entity(1, 1), Start: day0, End: lastDay(60), Horizon: 7},
	}
	out := b.Run(context.Background(), reqs)

	assert.Equal(t, 2, out.Succeeded())
	assert.Equal(t, 1, out.Failed())
	require.Contains(t, out.Results, "city=1/store=1/product=1")
	require.Contains(t, out.Results, "city=1/store=2/product=1")
	assert.Len(t, out.Results["city=1/store=2/product=1"].Forecast, 7)
	assert.Equal(t, forecast.InsufficientData, forecast.KindOf(out.Errors["city=1/store=3/product=1"]))
	assert.Equal(t, 1, testutil.CollectAndCount(mt.BatchSize))
}

func TestEvaluatorHoldout(t *testing.T) {
	m := datasource.NewMemory()
	seed(m, 1, 1, 90)
	a := NewAssembler(m, logging.NewNop())
	h, err := a.Assemble(context.Background(), entity(1, 1), day0, lastDay(90), Toggles{})
	require.NoError(t, err)

	model := forecast.NewModel(OptionsFromConfig(forecastConfig()))
	fitted, err := model.Fit(h)
	require.NoError(t, err)

	mt := metrics.New(nil)
	got := NewEvaluator(7, logging.NewNop(), mt).Evaluate(model, fitted, h)
	assert.Equal(t, 7, got.N)
	assert.Less(t, got.MAPE, 20.0)

	// A holdout longer than the history falls back to zero metrics.
	got = NewEvaluator(500, logging.NewNop(), mt).Evaluate(model, fitted, h)
	assert.Equal(t, forecast.Metrics{}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.EvaluatorErrors))
}
