// Package baseline holds simple reference forecasters. Backtests score the
// main model against them on the same holdout window.
package baseline

import (
	"fmt"
	"sort"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
)

// WeeklyPeriod is the seasonal period of daily retail sales.
const WeeklyPeriod = 7

// Forecaster predicts horizon values following a daily series.
type Forecaster interface {
	Name() string
	Forecast(values []float64, horizon int) ([]float64, error)
}

var registry = map[string]Forecaster{}

func register(f Forecaster) {
	registry[f.Name()] = f
}

// Get returns a registered forecaster.
func Get(name string) (Forecaster, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown baseline: %s", name)
	}
	return f, nil
}

// Names lists registered baselines, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Score is one baseline's accuracy on a holdout.
type Score struct {
	Name    string           `json:"name"`
	Metrics forecast.Metrics `json:"metrics"`
	Error   string           `json:"error,omitempty"`
}

// Compare fits every baseline on train and scores it on test.
func Compare(train, test []float64) []Score {
	scores := make([]Score, 0, len(registry))
	for _, name := range Names() {
		s := Score{Name: name}
		pred, err := registry[name].Forecast(train, len(test))
		if err != nil {
			s.Error = err.Error()
		} else {
			s.Metrics = forecast.Evaluate(test, pred)
		}
		scores = append(scores, s)
	}
	return scores
}

func checkInput(values []float64, horizon, minLen int) error {
	if horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if len(values) < minLen {
		return fmt.Errorf("insufficient data points: need %d, have %d", minLen, len(values))
	}
	return nil
}

func constant(v float64, horizon int) []float64 {
	out := make([]float64, horizon)
	for i := range out {
		out[i] = v
	}
	return out
}
