package pipeline

import (
	"fmt"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/metrics"
)

// Evaluator reports accuracy for a fitted model. It never fails a run:
// any error yields zero metrics and a log entry.
type Evaluator struct {
	holdoutDays int
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// NewEvaluator creates an evaluator. holdoutDays of zero scores the
// in-sample fit; a positive value refits without the final days and scores
// predictions for them.
func NewEvaluator(holdoutDays int, logger *logging.Logger, m *metrics.Metrics) *Evaluator {
	return &Evaluator{holdoutDays: holdoutDays, logger: logger, metrics: m}
}

// Evaluate returns accuracy metrics for fitted, trained from model on history.
func (e *Evaluator) Evaluate(model *forecast.Model, fitted *forecast.FittedModel, history forecast.History) (result forecast.Metrics) {
	defer func() {
		if r := recover(); r != nil {
			result = e.fallback(fmt.Errorf("panic during evaluation: %v", r))
		}
	}()

	var err error
	if e.holdoutDays > 0 {
		result, err = e.holdout(model, history)
	} else {
		result, err = e.inSample(fitted)
	}
	if err != nil {
		return e.fallback(err)
	}
	return result
}

func (e *Evaluator) inSample(fitted *forecast.FittedModel) (forecast.Metrics, error) {
	if fitted == nil {
		return forecast.Metrics{}, fmt.Errorf("no fitted model")
	}
	_, actual, predicted := fitted.InSample()
	if len(actual) == 0 {
		return forecast.Metrics{}, fmt.Errorf("fitted model has no in-sample values")
	}
	return forecast.Evaluate(actual, predicted), nil
}

func (e *Evaluator) holdout(model *forecast.Model, history forecast.History) (forecast.Metrics, error) {
	train, test := history.Sorted().Split(e.holdoutDays)
	if len(test) == 0 {
		return forecast.Metrics{}, fmt.Errorf("history of %d rows too short for a %d day holdout", len(history), e.holdoutDays)
	}

	refit, err := model.Fit(train)
	if err != nil {
		return forecast.Metrics{}, fmt.Errorf("holdout refit: %w", err)
	}

	points, err := refit.Predict(forecast.FrameFromHistory(test))
	if err != nil {
		return forecast.Metrics{}, fmt.Errorf("holdout predict: %w", err)
	}

	predicted := make([]float64, len(points))
	for i, p := range points {
		predicted[i] = p.Value
	}
	return forecast.Evaluate(test.Targets(), predicted), nil
}

func (e *Evaluator) fallback(err error) forecast.Metrics {
	e.logger.Warn("Accuracy evaluation failed, reporting zero metrics", "error", err)
	if e.metrics != nil {
		e.metrics.EvaluatorErrors.Inc()
	}
	return forecast.Metrics{}
}
