package baseline

import "gonum.org/v1/gonum/stat"

// MovingAverage repeats the mean of the last Window days.
type MovingAverage struct {
	Window int
}

func init() {
	register(MovingAverage{Window: 7})
}

func (f MovingAverage) Name() string { return "moving_average" }

func (f MovingAverage) Forecast(values []float64, horizon int) ([]float64, error) {
	if err := checkInput(values, horizon, 1); err != nil {
		return nil, err
	}
	window := f.Window
	if window <= 0 || window > len(values) {
		window = len(values)
	}
	return constant(stat.Mean(values[len(values)-window:], nil), horizon), nil
}

// SeasonalNaive repeats the last observed week.
type SeasonalNaive struct{}

func init() {
	register(SeasonalNaive{})
}

func (SeasonalNaive) Name() string { return "seasonal_naive" }

func (SeasonalNaive) Forecast(values []float64, horizon int) ([]float64, error) {
	if err := checkInput(values, horizon, WeeklyPeriod); err != nil {
		return nil, err
	}
	last := values[len(values)-WeeklyPeriod:]
	out := make([]float64, horizon)
	for i := range out {
		out[i] = last[i%WeeklyPeriod]
	}
	return out, nil
}
