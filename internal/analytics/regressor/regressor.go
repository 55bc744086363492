// Package regressor declares the exogenous inputs of the demand model and the
// single policy table used to project them past the end of history.
package regressor

import (
	"fmt"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
)

// Regressor names as they appear in assembled history.
const (
	AvgTemperature   = "avg_temperature"
	AvgHumidity      = "avg_humidity"
	Precipitation    = "precipitation"
	DiscountFraction = "discount_fraction"
	ActivityFlag     = "activity_flag"
	HolidayFlag      = "holiday_flag"
)

// Source identifies the table a regressor is read from.
type Source string

const (
	SourceWeather   Source = "weather"
	SourcePromotion Source = "promotion"
	SourceHoliday   Source = "holiday"
)

// Policy decides how a regressor is valued on dates past the training window.
type Policy int

const (
	// HoldMean uses the mean observed during training.
	HoldMean Policy = iota
	// HoldLast uses the final training value.
	HoldLast
	// Constant uses Spec.Value.
	Constant
	// Scheduled uses an explicit future value when one exists for the date,
	// otherwise Spec.Value.
	Scheduled
)

func (p Policy) String() string {
	switch p {
	case HoldMean:
		return "hold_mean"
	case HoldLast:
		return "hold_last"
	case Constant:
		return "constant"
	case Scheduled:
		return "scheduled"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Spec declares one regressor.
type Spec struct {
	Name   string
	Source Source
	Policy Policy
	Value  float64 // constant, or default for unscheduled dates
}

// defaultSpecs is the only place extrapolation rules are defined.
// Weather has no future signal; promotions and holidays are planned and
// default to inactive unless scheduled.
var defaultSpecs = []Spec{
	{Name: AvgTemperature, Source: SourceWeather, Policy: HoldMean},
	{Name: AvgHumidity, Source: SourceWeather, Policy: HoldMean},
	{Name: Precipitation, Source: SourceWeather, Policy: HoldMean},
	{Name: DiscountFraction, Source: SourcePromotion, Policy: Scheduled, Value: 0},
	{Name: ActivityFlag, Source: SourcePromotion, Policy: Scheduled, Value: 0},
	{Name: HolidayFlag, Source: SourceHoliday, Policy: Scheduled, Value: 0},
}

// Defaults returns a copy of the built-in policy table.
func Defaults() []Spec {
	return append([]Spec(nil), defaultSpecs...)
}

// Lookup returns the built-in spec for name.
func Lookup(name string) (Spec, bool) {
	for _, s := range defaultSpecs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// BySource returns the built-in regressors read from source, in table order.
func BySource(source Source) []string {
	var names []string
	for _, s := range defaultSpecs {
		if s.Source == source {
			names = append(names, s.Name)
		}
	}
	return names
}

// Schedule carries known future values: regressor name to calendar day to value.
type Schedule map[string]map[time.Time]float64

// Set records a scheduled value for name on the given day.
func (s Schedule) Set(name string, day time.Time, value float64) {
	if s[name] == nil {
		s[name] = make(map[time.Time]float64)
	}
	s[name][forecast.Day(day)] = value
}

func (s Schedule) lookup(name string, day time.Time) (float64, bool) {
	byDay, ok := s[name]
	if !ok {
		return 0, false
	}
	v, ok := byDay[forecast.Day(day)]
	return v, ok
}

// Trained is the view of a fitted model the extrapolator needs.
type Trained interface {
	Regressors() []string
	RegressorMean(name string) float64
	RegressorLast(name string) float64
}

// Resolve binds every trained regressor to a policy. Overrides replace the
// built-in spec by name. A regressor without any policy is a SchemaMismatch.
func Resolve(names []string, overrides ...Spec) ([]Spec, error) {
	custom := make(map[string]Spec, len(overrides))
	for _, o := range overrides {
		custom[o.Name] = o
	}

	specs := make([]Spec, len(names))
	for i, name := range names {
		if s, ok := custom[name]; ok {
			specs[i] = s
			continue
		}
		s, ok := Lookup(name)
		if !ok {
			return nil, forecast.NewError(forecast.SchemaMismatch, "no extrapolation policy for regressor %q", name)
		}
		specs[i] = s
	}
	return specs, nil
}

// Extrapolate builds the out-of-sample frame: one row per date with a value
// for every regressor the model was trained with.
func Extrapolate(model Trained, dates []time.Time, schedule Schedule, overrides ...Spec) (forecast.Frame, error) {
	specs, err := Resolve(model.Regressors(), overrides...)
	if err != nil {
		return nil, err
	}

	// Resolve non-scheduled values once so every date uses the same rule.
	fixed := make(map[string]float64, len(specs))
	for _, s := range specs {
		switch s.Policy {
		case HoldMean:
			fixed[s.Name] = model.RegressorMean(s.Name)
		case HoldLast:
			fixed[s.Name] = model.RegressorLast(s.Name)
		case Constant, Scheduled:
			fixed[s.Name] = s.Value
		default:
			return nil, forecast.NewError(forecast.SchemaMismatch, "unknown policy %s for regressor %q", s.Policy, s.Name)
		}
	}

	frame := make(forecast.Frame, len(dates))
	for i, d := range dates {
		values := make(map[string]float64, len(specs))
		for _, s := range specs {
			values[s.Name] = fixed[s.Name]
			if s.Policy == Scheduled {
				if v, ok := schedule.lookup(s.Name, d); ok {
					values[s.Name] = v
				}
			}
		}
		frame[i] = forecast.FutureRow{Date: forecast.Day(d), Regressors: values}
	}
	return frame, nil
}
