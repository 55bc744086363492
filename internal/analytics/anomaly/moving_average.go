package anomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MovingAverageDetector compares each day with its centred neighbourhood,
// which tolerates trend and slow seasonal drift.
type MovingAverageDetector struct{}

func (MovingAverageDetector) Name() string { return "moving_avg" }

func (MovingAverageDetector) Detect(values []float64, cfg Config) []Result {
	if len(values) < cfg.MinPoints || len(values) == 0 {
		return nil
	}

	window := cfg.WindowSize
	if window > len(values)/2 {
		window = len(values) / 2
	}
	if window < 3 {
		window = 3
	}

	var results []Result
	neighbours := make([]float64, 0, window+1)
	for i, v := range values {
		neighbours = neighbours[:0]
		for j := max(0, i-window/2); j <= min(len(values)-1, i+window/2); j++ {
			if j != i {
				neighbours = append(neighbours, values[j])
			}
		}
		if len(neighbours) == 0 {
			continue
		}

		mean, std := stat.PopMeanStdDev(neighbours, nil)
		var score float64
		switch {
		case std > 0:
			score = math.Abs(v-mean) / std
		case v != mean:
			score = cfg.Threshold + 1
		}
		if score > cfg.Threshold {
			results = append(results, Result{
				Index:    i,
				Score:    score,
				Type:     direction(v, mean),
				Expected: &Range{Min: mean - cfg.Threshold*std, Max: mean + cfg.Threshold*std},
			})
		}
	}
	return results
}
