// Package anomaly flags unusual days in a daily sales series.
package anomaly

import (
	"fmt"
	"sort"
	"time"
)

// Type classifies a detected anomaly.
type Type string

const (
	TypeSpike    Type = "spike"    // sales far above normal
	TypeDrop     Type = "drop"     // sales far below normal
	TypeFlatline Type = "flatline" // no variation at all, usually a feed problem
)

// Point is one day of a series.
type Point struct {
	Date  time.Time
	Value float64
}

// Range is the expected value band.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Anomaly is a flagged day.
type Anomaly struct {
	Date      string  `json:"date"`
	Value     float64 `json:"value"`
	Expected  *Range  `json:"expected,omitempty"`
	Score     float64 `json:"score"`
	Type      Type    `json:"type"`
	Algorithm string  `json:"algorithm"`
}

// Config tunes detection sensitivity.
type Config struct {
	Threshold  float64 // std deviations (zscore, moving_avg) or IQR multiplier (iqr)
	WindowSize int     // neighbourhood for moving_avg
	MinPoints  int     // shorter series are never flagged
}

// DefaultConfig suits daily retail sales: a weekly window and two weeks minimum.
func DefaultConfig() Config {
	return Config{Threshold: 3.0, WindowSize: 7, MinPoints: 14}
}

// Result is a detector hit on values[Index].
type Result struct {
	Index    int
	Score    float64
	Type     Type
	Expected *Range
}

// Detector finds anomalous indices in a value series.
type Detector interface {
	Name() string
	Detect(values []float64, cfg Config) []Result
}

var detectors = map[string]Detector{
	"zscore":     ZScoreDetector{},
	"iqr":        IQRDetector{},
	"moving_avg": MovingAverageDetector{},
}

// Get returns a detector by name.
func Get(name string) (Detector, error) {
	if d, ok := detectors[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown anomaly detector: %s", name)
}

// Names lists the available detectors.
func Names() []string {
	names := make([]string, 0, len(detectors))
	for name := range detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect runs the named detector over points and returns dated anomalies.
func Detect(algorithm string, points []Point, cfg Config) ([]Anomaly, error) {
	d, err := Get(algorithm)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	results := d.Detect(values, cfg)
	out := make([]Anomaly, len(results))
	for i, r := range results {
		out[i] = Anomaly{
			Date:      points[r.Index].Date.Format("2006-01-02"),
			Value:     points[r.Index].Value,
			Expected:  r.Expected,
			Score:     r.Score,
			Type:      r.Type,
			Algorithm: d.Name(),
		}
	}
	return out, nil
}

func direction(value, center float64) Type {
	if value > center {
		return TypeSpike
	}
	return TypeDrop
}
