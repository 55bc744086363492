package services

import (
	"context"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/analytics/promotion"
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
)

// RecommendationWindowDays is the history used for recommendations.
const RecommendationWindowDays = 90

// PromotionService manages promotion events and promotion analytics.
type PromotionService struct {
	logger *logging.Logger
	store  datasource.PromotionStore
	facts  datasource.FactSource
	cfg    config.ForecastConfig
	today  func() time.Time
}

// NewPromotionService creates a PromotionService.
func NewPromotionService(logger *logging.Logger, store datasource.PromotionStore, facts datasource.FactSource, cfg config.ForecastConfig, today func() time.Time) *PromotionService {
	return &PromotionService{logger: logger, store: store, facts: facts, cfg: cfg, today: today}
}

// PromotionAnalysis is the effectiveness report.
type PromotionAnalysis struct {
	StartDate     string                    `json:"start_date"`
	EndDate       string                    `json:"end_date"`
	Rows          int                       `json:"rows"`
	PromoDays     int                       `json:"promo_days"`
	OverallUplift float64                   `json:"overall_uplift"`
	Products      []promotion.Effectiveness `json:"products"`
}

// RecommendationSummary adds the target date to the averages.
type RecommendationSummary struct {
	promotion.Summary
	TargetDate string `json:"target_date"`
}

// RecommendationResponse lists recommended promotions.
type RecommendationResponse struct {
	Recommendations []promotion.Recommendation `json:"recommendations"`
	Summary         RecommendationSummary      `json:"summary"`
}

// Create stores a new promotion.
func (s *PromotionService) Create(ctx context.Context, req *models.PromotionRequest) (datasource.Promotion, error) {
	p, err := req.Promotion()
	if err != nil {
		return datasource.Promotion{}, FromError(err)
	}
	created, err := s.store.CreatePromotion(ctx, p)
	if err != nil {
		return datasource.Promotion{}, FromError(dataUnavailable(err, "create promotion"))
	}
	s.logger.Info("Promotion created", "id", created.ID, "type", created.PromotionType, "discount", created.DiscountPercentage)
	return created, nil
}

// Update replaces promotion id.
func (s *PromotionService) Update(ctx context.Context, id int64, req *models.PromotionRequest) (datasource.Promotion, error) {
	p, err := req.Promotion()
	if err != nil {
		return datasource.Promotion{}, FromError(err)
	}
	p.ID = id
	updated, err := s.store.UpdatePromotion(ctx, p)
	if err != nil {
		return datasource.Promotion{}, s.storeError(err, "update promotion")
	}
	return updated, nil
}

// Delete removes promotion id.
func (s *PromotionService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeletePromotion(ctx, id); err != nil {
		return s.storeError(err, "delete promotion")
	}
	s.logger.Info("Promotion deleted", "id", id)
	return nil
}

// Get returns promotion id.
func (s *PromotionService) Get(ctx context.Context, id int64) (datasource.Promotion, error) {
	p, err := s.store.GetPromotion(ctx, id)
	if err != nil {
		return datasource.Promotion{}, s.storeError(err, "get promotion")
	}
	return p, nil
}

// List returns promotions matching q.
func (s *PromotionService) List(ctx context.Context, q *models.PromotionListQuery) ([]datasource.Promotion, error) {
	query, err := q.Query()
	if err != nil {
		return nil, FromError(err)
	}
	list, err := s.store.ListPromotions(ctx, query)
	if err != nil {
		return nil, FromError(dataUnavailable(err, "list promotions"))
	}
	if list == nil {
		list = []datasource.Promotion{}
	}
	return list, nil
}

// Analyze reports historical promotion effectiveness per product.
func (s *PromotionService) Analyze(ctx context.Context, req *models.AnalysisRequest) (*PromotionAnalysis, error) {
	if err := req.Validate(false, false); err != nil {
		return nil, FromError(err)
	}
	facts, err := s.facts.QueryFacts(ctx, req.Filter(), req.StartParsed, req.EndParsed)
	if err != nil {
		return nil, FromError(dataUnavailable(err, "sales fact query"))
	}
	if len(facts) < s.cfg.PromotionMinRows {
		return nil, FromError(forecast.NewInsufficientData(len(facts), s.cfg.PromotionMinRows))
	}

	products := promotion.Analyze(facts)
	out := &PromotionAnalysis{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Rows:      len(facts),
		Products:  products,
	}

	var promoSales, promoN, regularSales, regularN float64
	for _, f := range facts {
		if promotion.Promoted(f) {
			promoSales += f.SaleAmount
			promoN++
		} else {
			regularSales += f.SaleAmount
			regularN++
		}
	}
	out.PromoDays = int(promoN)
	if promoN > 0 && regularN > 0 && regularSales > 0 {
		base := regularSales / regularN
		out.OverallUplift = (promoSales/promoN - base) / base
	}
	return out, nil
}

// Recommend suggests discounts for the target date from the preceding
// window of history.
func (s *PromotionService) Recommend(ctx context.Context, req *models.RecommendRequest) (*RecommendationResponse, error) {
	if err := req.Validate(s.today()); err != nil {
		return nil, FromError(err)
	}
	end := req.TargetParsed.AddDate(0, 0, -1)
	start := req.TargetParsed.AddDate(0, 0, -RecommendationWindowDays)

	facts, err := s.facts.QueryFacts(ctx, req.Filter(), start, end)
	if err != nil {
		return nil, FromError(dataUnavailable(err, "sales fact query"))
	}
	if len(facts) < s.cfg.PromotionMinRows {
		return nil, FromError(forecast.NewInsufficientData(len(facts), s.cfg.PromotionMinRows))
	}

	recs := promotion.Recommend(facts, promotion.RecommendOptions{
		MaxDiscount:  req.MaxDiscount,
		Count:        req.Count,
		TargetUplift: req.TargetUplift,
	})
	if recs == nil {
		recs = []promotion.Recommendation{}
	}
	s.logger.Debug("Promotion recommendations computed", "rows", len(facts), "recommendations", len(recs))

	return &RecommendationResponse{
		Recommendations: recs,
		Summary: RecommendationSummary{
			Summary:    promotion.Summarize(recs),
			TargetDate: req.TargetParsed.Format(models.DateLayout),
		},
	}, nil
}

func (s *PromotionService) storeError(err error, what string) error {
	if se := FromError(err); se.Code == CodeNotFound {
		return se
	}
	return FromError(dataUnavailable(err, what))
}
