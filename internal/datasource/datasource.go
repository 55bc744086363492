// Package datasource defines the read and write contracts over the sales
// warehouse, with Postgres and in-memory implementations.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EntityFilter selects a store/product/category/city combination. Nil fields
// are unconstrained.
type EntityFilter struct {
	StoreID    *int64 `json:"store_id,omitempty"`
	ProductID  *int64 `json:"product_id,omitempty"`
	CategoryID *int64 `json:"category_id,omitempty"`
	CityID     *int64 `json:"city_id,omitempty"`
}

// ID returns a pointer to v for building filters.
func ID(v int64) *int64 {
	return &v
}

// Key returns a stable identifier for the filter, e.g. "city=1/store=2/product=3".
func (f EntityFilter) Key() string {
	var parts []string
	add := func(name string, v *int64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%d", name, *v))
		}
	}
	add("city", f.CityID)
	add("store", f.StoreID)
	add("category", f.CategoryID)
	add("product", f.ProductID)
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, "/")
}

// Matches reports whether a fact row falls inside the filter.
func (f EntityFilter) Matches(fact SalesFact) bool {
	return (f.StoreID == nil || *f.StoreID == fact.StoreID) &&
		(f.ProductID == nil || *f.ProductID == fact.ProductID) &&
		(f.CategoryID == nil || *f.CategoryID == fact.CategoryID) &&
		(f.CityID == nil || *f.CityID == fact.CityID)
}

// SalesRow is one observation of the target series.
type SalesRow struct {
	Date       time.Time
	SaleAmount float64
}

// WeatherRow is one day of city weather.
type WeatherRow struct {
	Date           time.Time
	AvgTemperature float64
	AvgHumidity    float64
	Precipitation  float64
}

// PromotionRow is a discount active over an inclusive date range.
type PromotionRow struct {
	StartDate        time.Time
	EndDate          time.Time
	DiscountFraction float64
}

// HolidayRow is one calendar day flagged as a holiday or not.
type HolidayRow struct {
	Date        time.Time
	HolidayFlag bool
	HolidayName string
}

// SalesFact is a full row of the daily sales table used by the analyzers.
type SalesFact struct {
	Date           time.Time
	CityID         int64
	StoreID        int64
	ProductID      int64
	CategoryID     int64
	SaleAmount     float64
	StockoutHours  float64 // hours out of stock in the 06:00-22:00 window
	Discount       float64 // fraction 0-1
	HolidayFlag    bool
	ActivityFlag   bool
	Precipitation  float64
	AvgTemperature float64
	AvgHumidity    float64
}

// SalesSource returns the base target series. Zero rows is not an error.
type SalesSource interface {
	QueryHistory(ctx context.Context, filter EntityFilter, start, end time.Time) ([]SalesRow, error)
}

// WeatherSource returns city weather.
type WeatherSource interface {
	QueryWeather(ctx context.Context, cityID int64, start, end time.Time) ([]WeatherRow, error)
}

// PromotionSource returns discounts overlapping the date range. Nil ids match any.
type PromotionSource interface {
	QueryPromotions(ctx context.Context, storeID, productID *int64, start, end time.Time) ([]PromotionRow, error)
}

// HolidaySource returns the holiday calendar.
type HolidaySource interface {
	QueryHolidays(ctx context.Context, start, end time.Time) ([]HolidayRow, error)
}

// FactSource returns full sales facts for the analyzers.
type FactSource interface {
	QueryFacts(ctx context.Context, filter EntityFilter, start, end time.Time) ([]SalesFact, error)
}

// Source bundles every read contract of the warehouse.
type Source interface {
	SalesSource
	WeatherSource
	PromotionSource
	HolidaySource
	FactSource
}

// Promotion is a stored promotion event.
type Promotion struct {
	ID                 int64     `json:"id"`
	StoreID            *int64    `json:"store_id"`
	ProductID          *int64    `json:"product_id"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	PromotionType      string    `json:"promotion_type"`
	DiscountPercentage float64   `json:"discount_percentage"`
	DisplayLocation    string    `json:"display_location,omitempty"`
	CampaignID         string    `json:"campaign_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Active reports whether the promotion covers day.
func (p Promotion) Active(day time.Time) bool {
	return !day.Before(p.StartDate) && !day.After(p.EndDate)
}

// PromotionQuery filters a promotion listing. Zero values are unconstrained.
type PromotionQuery struct {
	StoreID    *int64
	ProductID  *int64
	CategoryID *int64
	StartDate  time.Time // promotions ending on or after
	EndDate    time.Time // promotions starting on or before
	ActiveOn   time.Time // promotions covering this day
}

// PromotionStore manages promotion events.
type PromotionStore interface {
	CreatePromotion(ctx context.Context, p Promotion) (Promotion, error)
	UpdatePromotion(ctx context.Context, p Promotion) (Promotion, error)
	DeletePromotion(ctx context.Context, id int64) error
	GetPromotion(ctx context.Context, id int64) (Promotion, error)
	ListPromotions(ctx context.Context, q PromotionQuery) ([]Promotion, error)
}

// City is a reference row for a city id.
type City struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Region string `json:"region"`
}

// Store is a reference row for a store id.
type Store struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Size   string `json:"size"`
}

// Mapping returns reference tables.
type Mapping interface {
	Cities(ctx context.Context) ([]City, error)
	Stores(ctx context.Context) ([]Store, error)
}

// Warehouse is everything the services need from storage.
type Warehouse interface {
	Source
	PromotionStore
	Mapping
	Close()
}

func inRange(day, start, end time.Time) bool {
	return (start.IsZero() || !day.Before(start)) && (end.IsZero() || !day.After(end))
}
