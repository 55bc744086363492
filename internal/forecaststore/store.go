// Package forecaststore persists precomputed forecasts for fast serving.
package forecaststore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/pipeline"
)

// ErrNotFound is returned when no forecast is stored under a key.
var ErrNotFound = errors.New("precomputed forecast not found")

// Key addresses one precomputed forecast.
type Key struct {
	CityID    int64
	StoreID   int64
	ProductID int64
	Horizon   int
}

// String renders forecast:{city}:{store}:{product}:{horizon}.
func (k Key) String() string {
	return fmt.Sprintf("forecast:%d:%d:%d:%d", k.CityID, k.StoreID, k.ProductID, k.Horizon)
}

// Entry is a stored forecast with its provenance.
type Entry struct {
	CityID      int64            `json:"city_id"`
	StoreID     int64            `json:"store_id"`
	ProductID   int64            `json:"product_id"`
	Horizon     int              `json:"horizon"`
	GeneratedAt time.Time        `json:"generated_at"`
	JobID       string           `json:"job_id,omitempty"`
	Result      *pipeline.Result `json:"result"`
}

// Key returns the address of e.
func (e Entry) Key() Key {
	return Key{CityID: e.CityID, StoreID: e.StoreID, ProductID: e.ProductID, Horizon: e.Horizon}
}

// Store reads and writes precomputed forecasts.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, key Key) (*Entry, error)
	Close() error
}

// New creates the store named by cfg.Type.
func New(cfg config.StoreConfig, logger *logging.Logger) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		return NewRedis(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported forecast store type: %s (supported: memory, redis)", cfg.Type)
	}
}
