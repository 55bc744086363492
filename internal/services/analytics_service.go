package services

import (
	"context"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/anomaly"
	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/analytics/holiday"
	"github.com/freshretail/freshcast/internal/analytics/insights"
	"github.com/freshretail/freshcast/internal/analytics/promotion"
	"github.com/freshretail/freshcast/internal/analytics/stockout"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
)

// AnalyticsService serves the stockout, holiday, insight and reference
// data endpoints.
type AnalyticsService struct {
	logger    *logging.Logger
	warehouse datasource.Warehouse
	detector  string
	now       func() time.Time
}

// NewAnalyticsService creates an AnalyticsService.
func NewAnalyticsService(logger *logging.Logger, warehouse datasource.Warehouse, now func() time.Time) *AnalyticsService {
	return &AnalyticsService{logger: logger, warehouse: warehouse, detector: "iqr", now: now}
}

// StockoutAnalysis is the per-day demand estimate and its summary.
type StockoutAnalysis struct {
	StoreID   int64            `json:"store_id"`
	ProductID int64            `json:"product_id"`
	Summary   stockout.Summary `json:"summary"`
	Days      []stockout.Day   `json:"days"`
}

// HolidayAnalysis lists the per-product holiday impact.
type HolidayAnalysis struct {
	StartDate   string           `json:"start_date"`
	EndDate     string           `json:"end_date"`
	HolidayName string           `json:"holiday_name,omitempty"`
	Products    []holiday.Impact `json:"products"`
}

// Stockouts estimates lost sales for one store and product.
func (s *AnalyticsService) Stockouts(ctx context.Context, req *models.AnalysisRequest) (*StockoutAnalysis, error) {
	if err := req.Validate(true, true); err != nil {
		return nil, FromError(err)
	}
	facts, err := s.facts(ctx, req)
	if err != nil {
		return nil, err
	}

	days := stockout.Estimate(facts)
	return &StockoutAnalysis{
		StoreID:   *req.StoreID,
		ProductID: *req.ProductID,
		Summary:   stockout.Summarize(days),
		Days:      days,
	}, nil
}

// Holidays measures holiday lift per product. A holiday name restricts
// holiday days to that calendar entry.
func (s *AnalyticsService) Holidays(ctx context.Context, req *models.AnalysisRequest) (*HolidayAnalysis, error) {
	if err := req.Validate(false, false); err != nil {
		return nil, FromError(err)
	}
	facts, err := s.facts(ctx, req)
	if err != nil {
		return nil, err
	}

	var calendar map[time.Time]bool
	if req.HolidayName != "" {
		rows, err := s.warehouse.QueryHolidays(ctx, req.StartParsed, req.EndParsed)
		if err != nil {
			return nil, FromError(dataUnavailable(err, "holiday calendar query"))
		}
		calendar = holiday.Calendar(rows, req.HolidayName)
		if len(calendar) == 0 {
			return nil, NewServiceError(CodeNotFound, "no holiday named "+req.HolidayName+" in the date range")
		}
	}

	impacts := holiday.Analyze(facts, calendar)
	if impacts == nil {
		impacts = []holiday.Impact{}
	}
	return &HolidayAnalysis{
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		HolidayName: req.HolidayName,
		Products:    impacts,
	}, nil
}

// Insights builds the business insight report for the scope.
func (s *AnalyticsService) Insights(ctx context.Context, req *models.AnalysisRequest) (*insights.Report, error) {
	if err := req.Validate(false, false); err != nil {
		return nil, FromError(err)
	}
	facts, err := s.facts(ctx, req)
	if err != nil {
		return nil, err
	}

	found, err := anomaly.Detect(s.detector, insights.DailySeries(facts), anomaly.DefaultConfig())
	if err != nil {
		s.logger.Warn("Anomaly detection failed, continuing without", "error", err)
	}

	report := insights.Build(insights.Input{
		Facts:      facts,
		Stockout:   stockoutAcrossSeries(facts),
		Promotions: promotion.Analyze(facts),
		Holidays:   holiday.Analyze(facts, nil),
		Anomalies:  found,
	}, s.now())

	s.logger.Debug("Insights generated",
		"scope", req.Filter().Key(),
		"insights", len(report.Insights),
		"health_score", report.Summary.HealthScore)
	return &report, nil
}

// Cities returns the city reference table.
func (s *AnalyticsService) Cities(ctx context.Context) ([]datasource.City, error) {
	cities, err := s.warehouse.Cities(ctx)
	if err != nil {
		return nil, FromError(dataUnavailable(err, "city mapping query"))
	}
	if cities == nil {
		cities = []datasource.City{}
	}
	return cities, nil
}

// Stores returns the store reference table.
func (s *AnalyticsService) Stores(ctx context.Context) ([]datasource.Store, error) {
	stores, err := s.warehouse.Stores(ctx)
	if err != nil {
		return nil, FromError(dataUnavailable(err, "store mapping query"))
	}
	if stores == nil {
		stores = []datasource.Store{}
	}
	return stores, nil
}

// facts loads the request scope; an empty scope is InsufficientData.
func (s *AnalyticsService) facts(ctx context.Context, req *models.AnalysisRequest) ([]datasource.SalesFact, error) {
	facts, err := s.warehouse.QueryFacts(ctx, req.Filter(), req.StartParsed, req.EndParsed)
	if err != nil {
		return nil, FromError(dataUnavailable(err, "sales fact query"))
	}
	if len(facts) == 0 {
		return nil, FromError(forecast.NewInsufficientData(0, 1))
	}
	return facts, nil
}

// stockoutAcrossSeries estimates each store/product series separately and
// summarises the combined days.
func stockoutAcrossSeries(facts []datasource.SalesFact) stockout.Summary {
	type series struct{ store, product int64 }
	groups := make(map[series][]datasource.SalesFact)
	for _, f := range facts {
		k := series{f.StoreID, f.ProductID}
		groups[k] = append(groups[k], f)
	}
	var days []stockout.Day
	for _, g := range groups {
		days = append(days, stockout.Estimate(g)...)
	}
	return stockout.Summarize(days)
}
