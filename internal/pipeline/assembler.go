package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/analytics/regressor"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/logging"
)

// Toggles selects which optional sources feed the model.
type Toggles struct {
	Weather    bool `json:"include_weather"`
	Holidays   bool `json:"include_holidays"`
	Promotions bool `json:"include_promotions"`
}

func (t Toggles) String() string {
	flag := func(b bool) byte {
		if b {
			return '1'
		}
		return '0'
	}
	return string([]byte{'w', flag(t.Weather), 'h', flag(t.Holidays), 'p', flag(t.Promotions)})
}

// Regressors lists the regressor names enabled by the toggles, in policy table order.
func (t Toggles) Regressors() []string {
	var names []string
	if t.Weather {
		names = append(names, regressor.BySource(regressor.SourceWeather)...)
	}
	if t.Promotions {
		names = append(names, regressor.BySource(regressor.SourcePromotion)...)
	}
	if t.Holidays {
		names = append(names, regressor.BySource(regressor.SourceHoliday)...)
	}
	return names
}

// Assembler builds the per-entity history table by left-joining optional
// feature sources onto the sales series.
type Assembler struct {
	source datasource.Source
	logger *logging.Logger
}

// NewAssembler creates an assembler over source.
func NewAssembler(source datasource.Source, logger *logging.Logger) *Assembler {
	return &Assembler{source: source, logger: logger}
}

// Assemble returns one record per sales date in [start, end], sorted
// ascending. Rows sharing a date are summed. Optional sources that fail or
// return nothing contribute default values.
func (a *Assembler) Assemble(ctx context.Context, filter datasource.EntityFilter, start, end time.Time, toggles Toggles) (forecast.History, error) {
	rows, err := a.source.QueryHistory(ctx, filter, start, end)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, forecast.WrapError(forecast.Timeout, err, "sales query abandoned")
		}
		return nil, forecast.WrapError(forecast.DataUnavailable, err, "sales source unreachable")
	}

	totals := make(map[time.Time]float64, len(rows))
	for _, r := range rows {
		totals[forecast.Day(r.Date)] += r.SaleAmount
	}
	days := make([]time.Time, 0, len(totals))
	for d := range totals {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	history := make(forecast.History, len(days))
	for i, d := range days {
		history[i] = forecast.Record{Date: d, Target: totals[d], Regressors: make(map[string]float64)}
	}
	if len(history) == 0 {
		return history, nil
	}

	enabled := toggles.Regressors()
	for i := range history {
		for _, name := range enabled {
			history[i].Regressors[name] = 0
		}
	}

	if toggles.Weather {
		a.mergeWeather(ctx, filter, history, start, end)
	}
	if toggles.Promotions || toggles.Holidays {
		schedule := a.schedule(ctx, filter, days[0], days[len(days)-1], toggles)
		for i := range history {
			for name, byDay := range schedule {
				if v, ok := byDay[history[i].Date]; ok {
					history[i].Regressors[name] = v
				}
			}
		}
	}

	return history, nil
}

// FutureSchedule collects planned promotions and known holidays for the
// forecast dates. Source failures leave the schedule empty.
func (a *Assembler) FutureSchedule(ctx context.Context, filter datasource.EntityFilter, dates []time.Time, toggles Toggles) regressor.Schedule {
	if len(dates) == 0 || !(toggles.Promotions || toggles.Holidays) {
		return regressor.Schedule{}
	}
	return a.schedule(ctx, filter, dates[0], dates[len(dates)-1], toggles)
}

func (a *Assembler) mergeWeather(ctx context.Context, filter datasource.EntityFilter, history forecast.History, start, end time.Time) {
	if filter.CityID == nil {
		a.logger.Debug("Weather requested without city, using defaults", "entity", filter.Key())
		return
	}

	rows, err := a.source.QueryWeather(ctx, *filter.CityID, start, end)
	if err != nil {
		a.logger.Warn("Weather source unavailable, using defaults", "entity", filter.Key(), "error", err)
		return
	}

	type acc struct {
		temp, humidity, precip float64
		n                      int
	}
	byDay := make(map[time.Time]*acc, len(rows))
	for _, w := range rows {
		d := forecast.Day(w.Date)
		e := byDay[d]
		if e == nil {
			e = &acc{}
			byDay[d] = e
		}
		e.temp += w.AvgTemperature
		e.humidity += w.AvgHumidity
		e.precip += w.Precipitation
		e.n++
	}

	// Days without a reading take the mean of the covered days, so partial
	// coverage does not drag the columns toward zero.
	var covered acc
	var missing []int
	for i := range history {
		e, ok := byDay[history[i].Date]
		if !ok {
			missing = append(missing, i)
			continue
		}
		n := float64(e.n)
		history[i].Regressors[regressor.AvgTemperature] = e.temp / n
		history[i].Regressors[regressor.AvgHumidity] = e.humidity / n
		history[i].Regressors[regressor.Precipitation] = e.precip / n
		covered.temp += e.temp / n
		covered.humidity += e.humidity / n
		covered.precip += e.precip / n
		covered.n++
	}
	if covered.n == 0 || len(missing) == 0 {
		return
	}

	n := float64(covered.n)
	for _, i := range missing {
		history[i].Regressors[regressor.AvgTemperature] = covered.temp / n
		history[i].Regressors[regressor.AvgHumidity] = covered.humidity / n
		history[i].Regressors[regressor.Precipitation] = covered.precip / n
	}
	a.logger.Debug("Filled days without weather with covered-day means",
		"entity", filter.Key(), "covered", covered.n, "filled", len(missing))
}

// schedule expands promotion ranges and holiday flags into per-day values over [from, to].
func (a *Assembler) schedule(ctx context.Context, filter datasource.EntityFilter, from, to time.Time, toggles Toggles) regressor.Schedule {
	schedule := regressor.Schedule{}

	if toggles.Promotions {
		promos, err := a.source.QueryPromotions(ctx, filter.StoreID, filter.ProductID, from, to)
		if err != nil {
			a.logger.Warn("Promotion source unavailable, using defaults", "entity", filter.Key(), "error", err)
		}
		for _, p := range promos {
			first, last := forecast.Day(p.StartDate), forecast.Day(p.EndDate)
			if first.Before(from) {
				first = from
			}
			if last.After(to) {
				last = to
			}
			for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
				if cur, ok := schedule[regressor.DiscountFraction][d]; !ok || p.DiscountFraction > cur {
					schedule.Set(regressor.DiscountFraction, d, p.DiscountFraction)
				}
				schedule.Set(regressor.ActivityFlag, d, 1)
			}
		}
	}

	if toggles.Holidays {
		holidays, err := a.source.QueryHolidays(ctx, from, to)
		if err != nil {
			a.logger.Warn("Holiday source unavailable, using defaults", "error", err)
		}
		for _, h := range holidays {
			if h.HolidayFlag {
				schedule.Set(regressor.HolidayFlag, h.Date, 1)
			}
		}
	}

	return schedule
}
