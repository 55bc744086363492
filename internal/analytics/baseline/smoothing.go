package baseline

// Exponential is simple exponential smoothing; the forecast is flat.
type Exponential struct {
	Alpha float64
}

func init() {
	register(Exponential{Alpha: 0.3})
}

func (f Exponential) Name() string { return "exponential" }

func (f Exponential) Forecast(values []float64, horizon int) ([]float64, error) {
	if err := checkInput(values, horizon, 1); err != nil {
		return nil, err
	}
	alpha := f.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}

	level := values[0]
	for _, v := range values[1:] {
		level = alpha*v + (1-alpha)*level
	}
	return constant(level, horizon), nil
}

// HoltWinters is multiplicative triple exponential smoothing with a weekly
// season. Series shorter than two seasons fall back to Exponential.
type HoltWinters struct {
	Alpha, Beta, Gamma float64
}

func init() {
	register(HoltWinters{Alpha: 0.3, Beta: 0.1, Gamma: 0.1})
}

func (f HoltWinters) Name() string { return "holt_winters" }

func (f HoltWinters) Forecast(values []float64, horizon int) ([]float64, error) {
	if err := checkInput(values, horizon, 1); err != nil {
		return nil, err
	}
	const period = WeeklyPeriod
	if len(values) < 2*period {
		return Exponential{Alpha: f.Alpha}.Forecast(values, horizon)
	}
	alpha, beta, gamma := unit(f.Alpha, 0.3), unit(f.Beta, 0.1), unit(f.Gamma, 0.1)

	mean := 0.0
	for _, v := range values[:period] {
		mean += v
	}
	level := mean / period
	trend := (values[period] - values[0]) / period

	seasonal := make([]float64, period)
	for i := range seasonal {
		seasonal[i] = 1
		if level != 0 {
			seasonal[i] = values[i] / level
		}
	}

	for i := 1; i < len(values); i++ {
		s := seasonal[i%period]
		if s == 0 {
			s = 1
		}
		prevLevel := level
		level = alpha*(values[i]/s) + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
		if level != 0 {
			seasonal[i%period] = gamma*(values[i]/level) + (1-gamma)*s
		}
	}

	n := len(values)
	out := make([]float64, horizon)
	for h := range out {
		s := seasonal[(n+h)%period]
		if s == 0 {
			s = 1
		}
		out[h] = (level + float64(h+1)*trend) * s
	}
	return out, nil
}

func unit(v, def float64) float64 {
	if v <= 0 || v > 1 {
		return def
	}
	return v
}
