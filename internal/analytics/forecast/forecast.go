package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Metrics holds accuracy figures comparing observed and fitted values.
type Metrics struct {
	MAE  float64 `json:"mean_absolute_error"`
	MSE  float64 `json:"mean_squared_error"`
	RMSE float64 `json:"root_mean_squared_error"`
	MAPE float64 `json:"mean_absolute_percentage_error"`
	N    int     `json:"evaluated_points"`
}

// Evaluate computes every metric in one pass. Mismatched or empty inputs yield zero metrics.
func Evaluate(actual, predicted []float64) Metrics {
	if len(actual) != len(predicted) || len(actual) == 0 {
		return Metrics{}
	}
	mse := CalculateMSE(actual, predicted)
	return Metrics{
		MAE:  CalculateMAE(actual, predicted),
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		MAPE: CalculateMAPE(actual, predicted),
		N:    len(actual),
	}
}

// CalculateMAPE calculates Mean Absolute Percentage Error, skipping zero actuals
func CalculateMAPE(actual, predicted []float64) float64 {
	if len(actual) != len(predicted) || len(actual) == 0 {
		return 0
	}

	sum := 0.0
	count := 0
	for i := range actual {
		if actual[i] != 0 {
			sum += math.Abs((actual[i] - predicted[i]) / actual[i])
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return (sum / float64(count)) * 100
}

// CalculateMAE calculates Mean Absolute Error
func CalculateMAE(actual, predicted []float64) float64 {
	if len(actual) != len(predicted) || len(actual) == 0 {
		return 0
	}

	sum := 0.0
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

// CalculateMSE calculates Mean Squared Error
func CalculateMSE(actual, predicted []float64) float64 {
	if len(actual) != len(predicted) || len(actual) == 0 {
		return 0
	}

	sum := 0.0
	for i := range actual {
		diff := actual[i] - predicted[i]
		sum += diff * diff
	}
	return sum / float64(len(actual))
}

// zScore returns the two-sided standard normal quantile for the given coverage.
func zScore(width float64) float64 {
	if width <= 0 || width >= 1 {
		width = 0.80
	}
	return distuv.UnitNormal.Quantile(0.5 + width/2)
}

// predictionInterval widens the residual spread by sqrt(steps) for steps ahead of the training window.
func predictionInterval(value, sigma float64, steps int, width float64) (lower, upper float64) {
	if steps < 1 {
		steps = 1
	}
	margin := zScore(width) * sigma * math.Sqrt(float64(steps))
	return value - margin, value + margin
}
