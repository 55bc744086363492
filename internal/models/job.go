package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job sources.
const (
	JobSourceAPI       = "api"
	JobSourceScheduler = "scheduler"
	JobSourceCLI       = "cli"
)

// ForecastJob is the queue message asking a worker to precompute forecasts.
type ForecastJob struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	CityIDs     []int64   `json:"city_ids,omitempty"`
	StoreIDs    []int64   `json:"store_ids,omitempty"`
	ProductIDs  []int64   `json:"product_ids,omitempty"`
	HorizonDays int       `json:"horizon_days"`
	HistoryDays int       `json:"history_days"`
	EndDate     string    `json:"end_date,omitempty"` // last history day, defaults to the day before processing
}

// NewForecastJob creates a job with a fresh id.
func NewForecastJob(source string, req JobRequest, now time.Time) *ForecastJob {
	return &ForecastJob{
		ID:          uuid.NewString(),
		Source:      source,
		CreatedAt:   now.UTC(),
		CityIDs:     req.CityIDs,
		StoreIDs:    req.StoreIDs,
		ProductIDs:  req.ProductIDs,
		HorizonDays: req.HorizonDays,
		HistoryDays: req.HistoryDays,
	}
}

// Encode serialises the job for the queue.
func (j *ForecastJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeForecastJob parses a queue message.
func DecodeForecastJob(data []byte) (*ForecastJob, error) {
	var j ForecastJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode forecast job: %w", err)
	}
	if j.ID == "" {
		return nil, fmt.Errorf("decode forecast job: missing id")
	}
	if j.HorizonDays < 0 || j.HistoryDays < 0 {
		return nil, fmt.Errorf("decode forecast job %s: negative window", j.ID)
	}
	return &j, nil
}

// JobAccepted is returned when a job is queued.
type JobAccepted struct {
	JobID   string `json:"job_id"`
	Subject string `json:"subject"`
	Status  string `json:"status"`
}
