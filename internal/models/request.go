package models

import (
	"time"

	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/gofiber/fiber/v2"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// Defaults applied to omitted request fields.
const (
	DefaultPeriods     = 30
	DefaultFrequency   = "D"
	DefaultMaxDiscount = 0.5
	DefaultRecommend   = 10
	MaxPeriods         = 365
	MaxBatchEntities   = 500
)

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func badRequest(msg string) *fiber.Error {
	return &fiber.Error{Code: fiber.StatusBadRequest, Message: msg}
}

func parseRange(start, end string) (time.Time, time.Time, *fiber.Error) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, badRequest("start_date and end_date are required")
	}
	s, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, badRequest("start_date must be in YYYY-MM-DD format")
	}
	e, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, badRequest("end_date must be in YYYY-MM-DD format")
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, badRequest("end_date must not be before start_date")
	}
	return s, e, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// ForecastRequest asks for a forecast of one entity.
type ForecastRequest struct {
	StoreID           *int64 `json:"store_id"`
	CityID            *int64 `json:"city_id"`
	ProductID         *int64 `json:"product_id,omitempty"`
	CategoryID        *int64 `json:"category_id,omitempty"`
	StartDate         string `json:"start_date,omitempty"` // history start
	EndDate           string `json:"end_date,omitempty"`   // history end, defaults to yesterday
	Periods           int    `json:"periods"`
	Freq              string `json:"freq"`
	IncludeWeather    *bool  `json:"include_weather,omitempty"`
	IncludeHolidays   *bool  `json:"include_holidays,omitempty"`
	IncludePromotions *bool  `json:"include_promotions,omitempty"`

	StartParsed time.Time `json:"-"`
	EndParsed   time.Time `json:"-"`
}

// Filter returns the entity filter of the request.
func (r *ForecastRequest) Filter() datasource.EntityFilter {
	return datasource.EntityFilter{StoreID: r.StoreID, CityID: r.CityID, ProductID: r.ProductID, CategoryID: r.CategoryID}
}

// Weather, Holidays and Promotions default to true when omitted.
func (r *ForecastRequest) Weather() bool    { return boolOr(r.IncludeWeather, true) }
func (r *ForecastRequest) Holidays() bool   { return boolOr(r.IncludeHolidays, true) }
func (r *ForecastRequest) Promotions() bool { return boolOr(r.IncludePromotions, true) }

// Validate applies defaults and parses dates. today anchors an omitted end
// date; historyDays sizes an omitted start date.
func (r *ForecastRequest) Validate(today time.Time, historyDays int) error {
	if r.StoreID == nil || r.CityID == nil {
		return badRequest("store_id and city_id are required")
	}
	if r.Periods == 0 {
		r.Periods = DefaultPeriods
	}
	if r.Periods < 0 || r.Periods > MaxPeriods {
		return badRequest("periods must be between 1 and 365")
	}
	if r.Freq == "" {
		r.Freq = DefaultFrequency
	}
	if r.Freq != DefaultFrequency {
		return badRequest("freq must be D")
	}

	r.EndParsed = today.AddDate(0, 0, -1)
	if r.EndDate != "" {
		end, err := ParseDate(r.EndDate)
		if err != nil {
			return badRequest("end_date must be in YYYY-MM-DD format")
		}
		r.EndParsed = end
	}
	r.StartParsed = r.EndParsed.AddDate(0, 0, -historyDays)
	if r.StartDate != "" {
		start, err := ParseDate(r.StartDate)
		if err != nil {
			return badRequest("start_date must be in YYYY-MM-DD format")
		}
		r.StartParsed = start
	}
	if r.EndParsed.Before(r.StartParsed) {
		return badRequest("end_date must not be before start_date")
	}
	return nil
}

// BatchForecastRequest forecasts many entities with shared settings.
type BatchForecastRequest struct {
	Entities          []datasource.EntityFilter `json:"entities"`
	StartDate         string                    `json:"start_date,omitempty"`
	EndDate           string                    `json:"end_date,omitempty"`
	Periods           int                       `json:"periods"`
	Freq              string                    `json:"freq"`
	IncludeWeather    *bool                     `json:"include_weather,omitempty"`
	IncludeHolidays   *bool                     `json:"include_holidays,omitempty"`
	IncludePromotions *bool                     `json:"include_promotions,omitempty"`
}

// Requests expands the batch into single requests and validates each.
func (b *BatchForecastRequest) Requests(today time.Time, historyDays int) ([]*ForecastRequest, error) {
	if len(b.Entities) == 0 {
		return nil, badRequest("entities must not be empty")
	}
	if len(b.Entities) > MaxBatchEntities {
		return nil, badRequest("too many entities in one batch")
	}
	out := make([]*ForecastRequest, len(b.Entities))
	for i, e := range b.Entities {
		r := &ForecastRequest{
			StoreID:           e.StoreID,
			CityID:            e.CityID,
			ProductID:         e.ProductID,
			CategoryID:        e.CategoryID,
			StartDate:         b.StartDate,
			EndDate:           b.EndDate,
			Periods:           b.Periods,
			Freq:              b.Freq,
			IncludeWeather:    b.IncludeWeather,
			IncludeHolidays:   b.IncludeHolidays,
			IncludePromotions: b.IncludePromotions,
		}
		if err := r.Validate(today, historyDays); err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// PrecomputedQuery looks up a stored forecast.
type PrecomputedQuery struct {
	CityID    int64 `query:"city_id"`
	StoreID   int64 `query:"store_id"`
	ProductID int64 `query:"product_id"`
	Horizon   int   `query:"horizon"`
}

// Validate checks the lookup key.
func (q *PrecomputedQuery) Validate() error {
	if q.CityID <= 0 || q.StoreID <= 0 || q.ProductID <= 0 {
		return badRequest("city_id, store_id and product_id are required")
	}
	if q.Horizon == 0 {
		q.Horizon = DefaultPeriods
	}
	if q.Horizon < 0 || q.Horizon > MaxPeriods {
		return badRequest("horizon must be between 1 and 365")
	}
	return nil
}

// PromotionRequest creates or replaces a promotion event.
type PromotionRequest struct {
	StoreID            *int64  `json:"store_id,omitempty"`
	ProductID          *int64  `json:"product_id,omitempty"`
	StartDate          string  `json:"start_date"`
	EndDate            string  `json:"end_date"`
	PromotionType      string  `json:"promotion_type"`
	DiscountPercentage float64 `json:"discount_percentage"`
	DisplayLocation    string  `json:"display_location,omitempty"`
	CampaignID         string  `json:"campaign_id,omitempty"`
}

// Promotion validates the request and converts it into a stored event.
func (r *PromotionRequest) Promotion() (datasource.Promotion, error) {
	start, end, ferr := parseRange(r.StartDate, r.EndDate)
	if ferr != nil {
		return datasource.Promotion{}, ferr
	}
	if r.PromotionType == "" {
		return datasource.Promotion{}, badRequest("promotion_type is required")
	}
	if r.DiscountPercentage < 0 || r.DiscountPercentage > 1 {
		return datasource.Promotion{}, badRequest("discount_percentage must be between 0 and 1")
	}
	return datasource.Promotion{
		StoreID:            r.StoreID,
		ProductID:          r.ProductID,
		StartDate:          start,
		EndDate:            end,
		PromotionType:      r.PromotionType,
		DiscountPercentage: r.DiscountPercentage,
		DisplayLocation:    r.DisplayLocation,
		CampaignID:         r.CampaignID,
	}, nil
}

// PromotionListQuery filters the promotion listing.
type PromotionListQuery struct {
	StoreID    int64  `query:"store_id"`
	ProductID  int64  `query:"product_id"`
	CategoryID int64  `query:"category_id"`
	StartDate  string `query:"start_date"`
	EndDate    string `query:"end_date"`
	ActiveOn   string `query:"active_on"`
}

// Query converts the listing filter.
func (q *PromotionListQuery) Query() (datasource.PromotionQuery, error) {
	var out datasource.PromotionQuery
	if q.StoreID > 0 {
		out.StoreID = datasource.ID(q.StoreID)
	}
	if q.ProductID > 0 {
		out.ProductID = datasource.ID(q.ProductID)
	}
	if q.CategoryID > 0 {
		out.CategoryID = datasource.ID(q.CategoryID)
	}
	for _, f := range []struct {
		raw  string
		dst  *time.Time
		name string
	}{
		{q.StartDate, &out.StartDate, "start_date"},
		{q.EndDate, &out.EndDate, "end_date"},
		{q.ActiveOn, &out.ActiveOn, "active_on"},
	} {
		if f.raw == "" {
			continue
		}
		d, err := ParseDate(f.raw)
		if err != nil {
			return out, badRequest(f.name + " must be in YYYY-MM-DD format")
		}
		*f.dst = d
	}
	return out, nil
}

// AnalysisRequest scopes the promotion, stockout, holiday and insight
// analyses to an entity and date range.
type AnalysisRequest struct {
	StoreID     *int64 `json:"store_id,omitempty"`
	ProductID   *int64 `json:"product_id,omitempty"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	CityID      *int64 `json:"city_id,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	HolidayName string `json:"holiday_name,omitempty"`

	StartParsed time.Time `json:"-"`
	EndParsed   time.Time `json:"-"`
}

// Filter returns the entity filter of the request.
func (r *AnalysisRequest) Filter() datasource.EntityFilter {
	return datasource.EntityFilter{StoreID: r.StoreID, ProductID: r.ProductID, CategoryID: r.CategoryID, CityID: r.CityID}
}

// Validate parses the date range. requireStore and requireProduct enforce
// the scopes the stockout analysis needs.
func (r *AnalysisRequest) Validate(requireStore, requireProduct bool) error {
	if requireStore && r.StoreID == nil {
		return badRequest("store_id is required")
	}
	if requireProduct && r.ProductID == nil {
		return badRequest("product_id is required")
	}
	start, end, err := parseRange(r.StartDate, r.EndDate)
	if err != nil {
		return err
	}
	r.StartParsed, r.EndParsed = start, end
	return nil
}

// RecommendRequest asks for promotion recommendations.
type RecommendRequest struct {
	StoreID      *int64   `json:"store_id,omitempty"`
	ProductID    *int64   `json:"product_id,omitempty"`
	CategoryID   *int64   `json:"category_id,omitempty"`
	CityID       *int64   `json:"city_id,omitempty"`
	TargetDate   string   `json:"target_date,omitempty"`
	TargetUplift *float64 `json:"target_uplift,omitempty"`
	MaxDiscount  float64  `json:"max_discount"`
	Count        int      `json:"count"`

	TargetParsed time.Time `json:"-"`
}

// Filter returns the entity filter of the request.
func (r *RecommendRequest) Filter() datasource.EntityFilter {
	return datasource.EntityFilter{StoreID: r.StoreID, ProductID: r.ProductID, CategoryID: r.CategoryID, CityID: r.CityID}
}

// Validate applies defaults. today anchors an omitted target date.
func (r *RecommendRequest) Validate(today time.Time) error {
	if r.MaxDiscount == 0 {
		r.MaxDiscount = DefaultMaxDiscount
	}
	if r.MaxDiscount < 0 || r.MaxDiscount > 1 {
		return badRequest("max_discount must be between 0 and 1")
	}
	if r.Count == 0 {
		r.Count = DefaultRecommend
	}
	if r.Count < 0 || r.Count > 100 {
		return badRequest("count must be between 1 and 100")
	}
	r.TargetParsed = today
	if r.TargetDate != "" {
		d, err := ParseDate(r.TargetDate)
		if err != nil {
			return badRequest("target_date must be in YYYY-MM-DD format")
		}
		r.TargetParsed = d
	}
	return nil
}

// JobRequest enqueues a precompute job over id lists. Empty lists mean
// every combination found in the sales history.
type JobRequest struct {
	CityIDs     []int64 `json:"city_ids"`
	StoreIDs    []int64 `json:"store_ids"`
	ProductIDs  []int64 `json:"product_ids"`
	HorizonDays int     `json:"horizon_days"`
	HistoryDays int     `json:"history_days"`
}
