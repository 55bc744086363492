package forecast

import (
	"math"
	"sort"
	"time"
)

// DateLayout is the calendar-date format used at every boundary.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date at UTC midnight.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Record is one row of the per-entity history: a calendar date, the observed
// target and a named set of regressor values.
type Record struct {
	Date       time.Time
	Target     float64
	Regressors map[string]float64
}

// Regressor returns the named value. A missing or NaN value reports false.
func (r Record) Regressor(name string) (float64, bool) {
	v, ok := r.Regressors[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// History is a per-entity table of records.
type History []Record

// Sorted returns a copy ordered ascending by date.
func (h History) Sorted() History {
	out := make(History, len(h))
	copy(out, h)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Targets extracts the target column.
func (h History) Targets() []float64 {
	values := make([]float64, len(h))
	for i, r := range h {
		values[i] = r.Target
	}
	return values
}

// LastDate returns the latest date, or the zero time for an empty table.
func (h History) LastDate() time.Time {
	var last time.Time
	for _, r := range h {
		if r.Date.After(last) {
			last = r.Date
		}
	}
	return last
}

// Split returns the history before the final n rows and the final n rows.
func (h History) Split(n int) (train, holdout History) {
	if n <= 0 || n >= len(h) {
		return h, nil
	}
	return h[:len(h)-n], h[len(h)-n:]
}

// FutureRow is one out-of-sample date with a value for every trained regressor.
type FutureRow struct {
	Date       time.Time
	Regressors map[string]float64
}

// Frame is the feature table passed to Predict.
type Frame []FutureRow

// FrameFromHistory builds a frame from historical rows, keeping their
// observed regressor values. Used for holdout scoring.
func FrameFromHistory(h History) Frame {
	frame := make(Frame, len(h))
	for i, r := range h {
		regs := make(map[string]float64, len(r.Regressors))
		for k, v := range r.Regressors {
			regs[k] = v
		}
		frame[i] = FutureRow{Date: r.Date, Regressors: regs}
	}
	return frame
}

// FutureDates returns horizon consecutive daily dates starting the day after last.
func FutureDates(last time.Time, horizon int) []time.Time {
	if horizon <= 0 {
		return nil
	}
	start := Day(last)
	dates := make([]time.Time, horizon)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i+1)
	}
	return dates
}

// Point is a single prediction with its uncertainty interval.
type Point struct {
	Date  time.Time
	Value float64
	Lower float64
	Upper float64
}
