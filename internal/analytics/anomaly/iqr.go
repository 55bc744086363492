package anomaly

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// IQRDetector flags points outside [Q1 - k*IQR, Q3 + k*IQR]. It is robust
// to the promotion spikes that inflate a plain standard deviation.
type IQRDetector struct{}

func (IQRDetector) Name() string { return "iqr" }

func (IQRDetector) Detect(values []float64, cfg Config) []Result {
	if len(values) < cfg.MinPoints || len(values) == 0 {
		return nil
	}

	q1, q3 := Quartiles(values)
	iqr := q3 - q1
	if iqr == 0 {
		return nil
	}

	// Thresholds written for z-scores are too loose here.
	k := cfg.Threshold
	if k <= 0 || k >= 3 {
		k = 1.5
	}
	expected := &Range{Min: q1 - k*iqr, Max: q3 + k*iqr}

	var results []Result
	for i, v := range values {
		switch {
		case v < expected.Min:
			results = append(results, Result{Index: i, Score: (expected.Min - v) / iqr, Type: TypeDrop, Expected: expected})
		case v > expected.Max:
			results = append(results, Result{Index: i, Score: (v - expected.Max) / iqr, Type: TypeSpike, Expected: expected})
		}
	}
	return results
}

// Quartiles returns the first and third quartiles of values.
func Quartiles(values []float64) (q1, q3 float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.25, stat.LinInterp, sorted, nil), stat.Quantile(0.75, stat.LinInterp, sorted, nil)
}
