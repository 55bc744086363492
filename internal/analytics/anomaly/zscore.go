package anomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ZScoreDetector flags points more than Threshold population standard
// deviations from the series mean.
type ZScoreDetector struct{}

func (ZScoreDetector) Name() string { return "zscore" }

func (ZScoreDetector) Detect(values []float64, cfg Config) []Result {
	if len(values) < cfg.MinPoints || len(values) == 0 {
		return nil
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 {
		return flatline(values)
	}

	expected := &Range{Min: mean - cfg.Threshold*std, Max: mean + cfg.Threshold*std}
	var results []Result
	for i, v := range values {
		z := (v - mean) / std
		if math.Abs(z) > cfg.Threshold {
			results = append(results, Result{Index: i, Score: math.Abs(z), Type: direction(v, mean), Expected: expected})
		}
	}
	return results
}

// flatline marks every point of a series with no variation.
func flatline(values []float64) []Result {
	results := make([]Result, len(values))
	for i := range values {
		results[i] = Result{Index: i, Score: 1, Type: TypeFlatline}
	}
	return results
}
