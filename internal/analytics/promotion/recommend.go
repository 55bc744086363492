package promotion

import (
	"sort"

	"github.com/freshretail/freshcast/internal/datasource"
	"gonum.org/v1/gonum/stat"
)

// DiscountLevels are the candidate discounts simulated per combination.
var DiscountLevels = []float64{0.05, 0.10, 0.15, 0.20, 0.25, 0.30, 0.40, 0.50}

// MinCombinationRows is the history a combination needs to be considered.
const MinCombinationRows = 10

// RecommendOptions bounds the search.
type RecommendOptions struct {
	MaxDiscount  float64
	Count        int
	TargetUplift *float64 // drop recommendations below this absolute uplift
}

// Recommendation is one simulated discount for a store/product.
type Recommendation struct {
	StoreID            int64   `json:"store_id"`
	ProductID          int64   `json:"product_id"`
	CategoryID         int64   `json:"category_id"`
	PromotionType      string  `json:"promotion_type"`
	DiscountPercentage float64 `json:"discount_percentage"`
	EstimatedUplift    float64 `json:"estimated_uplift"`
	EstimatedROI       float64 `json:"estimated_roi"`
	BaselineSales      float64 `json:"baseline_sales"`
	ProjectedSales     float64 `json:"projected_sales"`
}

// Summary averages a recommendation list.
type Summary struct {
	TotalRecommendations int     `json:"total_recommendations"`
	AverageUplift        float64 `json:"average_uplift"`
	AverageROI           float64 `json:"average_roi"`
	AverageDiscount      float64 `json:"average_discount"`
}

type combo struct {
	store, product int64
}

// Recommend fits an uplift model per store/product combination, simulates
// each allowed discount level and returns the best Count by ROI. Combinations
// that cannot be fitted are skipped.
func Recommend(facts []datasource.SalesFact, opts RecommendOptions) []Recommendation {
	groups := make(map[combo][]datasource.SalesFact)
	for _, f := range facts {
		k := combo{f.StoreID, f.ProductID}
		groups[k] = append(groups[k], f)
	}

	var recs []Recommendation
	for k, rows := range groups {
		if len(rows) < MinCombinationRows {
			continue
		}
		model, err := FitUplift(rows)
		if err != nil {
			continue
		}
		baseline := baselineSales(rows)
		if baseline <= 0 {
			continue
		}

		for _, d := range DiscountLevels {
			if d > opts.MaxDiscount {
				continue
			}
			uplift := model.Uplift(d)
			if uplift <= 0 {
				continue
			}
			cost := baseline * d
			recs = append(recs, Recommendation{
				StoreID:            k.store,
				ProductID:          k.product,
				CategoryID:         rows[0].CategoryID,
				PromotionType:      "discount",
				DiscountPercentage: d,
				EstimatedUplift:    uplift,
				EstimatedROI:       (uplift - cost) / cost,
				BaselineSales:      baseline,
				ProjectedSales:     baseline + uplift,
			})
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.EstimatedROI != b.EstimatedROI {
			return a.EstimatedROI > b.EstimatedROI
		}
		if a.StoreID != b.StoreID {
			return a.StoreID < b.StoreID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.DiscountPercentage < b.DiscountPercentage
	})
	if opts.Count > 0 && len(recs) > opts.Count {
		recs = recs[:opts.Count]
	}

	if opts.TargetUplift != nil {
		kept := recs[:0]
		for _, r := range recs {
			if r.EstimatedUplift >= *opts.TargetUplift {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	return recs
}

// Summarize averages recs.
func Summarize(recs []Recommendation) Summary {
	s := Summary{TotalRecommendations: len(recs)}
	if len(recs) == 0 {
		return s
	}
	for _, r := range recs {
		s.AverageUplift += r.EstimatedUplift
		s.AverageROI += r.EstimatedROI
		s.AverageDiscount += r.DiscountPercentage
	}
	n := float64(len(recs))
	s.AverageUplift /= n
	s.AverageROI /= n
	s.AverageDiscount /= n
	return s
}

// baselineSales is the mean of unpromoted days, or of all days when every
// day was promoted.
func baselineSales(rows []datasource.SalesFact) float64 {
	var regular, all []float64
	for _, f := range rows {
		all = append(all, f.SaleAmount)
		if !Promoted(f) {
			regular = append(regular, f.SaleAmount)
		}
	}
	if len(regular) > 0 {
		return stat.Mean(regular, nil)
	}
	return stat.Mean(all, nil)
}
