// Package promotion measures past promotion uplift and recommends new
// discounts from a per-product uplift regression.
package promotion

import (
	"sort"

	"github.com/freshretail/freshcast/internal/datasource"
	"gonum.org/v1/gonum/stat"
)

// Promoted reports whether a fact row falls on a promoted day.
func Promoted(f datasource.SalesFact) bool {
	return f.Discount > 0 || f.ActivityFlag
}

// Effectiveness is the historical uplift of one product's promotions.
type Effectiveness struct {
	ProductID      int64   `json:"product_id"`
	AvgUplift      float64 `json:"avg_uplift"`
	MedianUplift   float64 `json:"median_uplift"`
	PromoDays      int     `json:"promo_count"`
	RegularDays    int     `json:"regular_count"`
	AvgPromoSales  float64 `json:"avg_promo_sales"`
	AvgRegularSale float64 `json:"avg_regular_sales"`
	Percentile     float64 `json:"percentile"`
}

// Analyze returns per-product uplift ratios of promoted days against the
// mean of regular days, best first. Percentile is the product's rank
// position over the number of products, 0 for the best. Products lacking
// promoted or regular days, or with zero regular sales, are omitted.
func Analyze(facts []datasource.SalesFact) []Effectiveness {
	type acc struct {
		promo, regular []float64
	}
	byProduct := make(map[int64]*acc)
	for _, f := range facts {
		a := byProduct[f.ProductID]
		if a == nil {
			a = &acc{}
			byProduct[f.ProductID] = a
		}
		if Promoted(f) {
			a.promo = append(a.promo, f.SaleAmount)
		} else {
			a.regular = append(a.regular, f.SaleAmount)
		}
	}

	out := make([]Effectiveness, 0, len(byProduct))
	for id, a := range byProduct {
		if len(a.promo) == 0 || len(a.regular) == 0 {
			continue
		}
		base := stat.Mean(a.regular, nil)
		if base == 0 {
			continue
		}

		ratios := make([]float64, len(a.promo))
		for i, v := range a.promo {
			ratios[i] = (v - base) / base
		}
		sort.Float64s(ratios)

		out = append(out, Effectiveness{
			ProductID:      id,
			AvgUplift:      stat.Mean(ratios, nil),
			MedianUplift:   median(ratios),
			PromoDays:      len(a.promo),
			RegularDays:    len(a.regular),
			AvgPromoSales:  stat.Mean(a.promo, nil),
			AvgRegularSale: base,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgUplift != out[j].AvgUplift {
			return out[i].AvgUplift > out[j].AvgUplift
		}
		return out[i].ProductID < out[j].ProductID
	})
	for i := range out {
		out[i].Percentile = float64(i) / float64(len(out))
	}
	return out
}

// median of sorted values.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
