package promotion

import (
	"testing"
	"time"

	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var first = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

// history builds n days where sales = base + perDiscount*discount + 10 on
// promoted days. Every fifth day runs a promotion with a rotating discount.
func history(store, product int64, n int, base, perDiscount float64) []datasource.SalesFact {
	discounts := []float64{0.1, 0.2, 0.3}
	facts := make([]datasource.SalesFact, n)
	for i := range facts {
		f := datasource.SalesFact{
			Date:           first.AddDate(0, 0, i),
			StoreID:        store,
			ProductID:      product,
			CategoryID:     3,
			SaleAmount:     base,
			AvgTemperature: 20 + float64(i%4),
			HolidayFlag:    i%11 == 0,
		}
		if i%5 == 0 {
			f.Discount = discounts[(i/5)%len(discounts)]
			f.ActivityFlag = true
			f.SaleAmount += perDiscount*f.Discount + 10
		}
		facts[i] = f
	}
	return facts
}

func TestAnalyze(t *testing.T) {
	facts := append(history(1, 1, 30, 100, 200), history(1, 2, 30, 50, 0)...)
	facts = append(facts, datasource.SalesFact{Date: first, ProductID: 3, SaleAmount: 5})

	got := Analyze(facts)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].ProductID)
	assert.Equal(t, 6, got[0].PromoDays)
	assert.Equal(t, 24, got[0].RegularDays)
	assert.InDelta(t, 0.5, got[0].AvgUplift, 1e-9) // (200*0.2+10)/100
	assert.InDelta(t, 0.5, got[0].MedianUplift, 1e-9)
	assert.Zero(t, got[0].Percentile)

	assert.Equal(t, int64(2), got[1].ProductID)
	assert.InDelta(t, 0.2, got[1].AvgUplift, 1e-9)
	assert.InDelta(t, 0.5, got[1].Percentile, 1e-9)
}

func TestFitUpliftRecoversEffect(t *testing.T) {
	model, err := FitUplift(history(1, 1, 60, 100, 200))
	require.NoError(t, err)
	assert.InDelta(t, 50, model.Uplift(0.2), 0.5)
	assert.InDelta(t, 10, model.Uplift(0), 0.5)
	assert.Contains(t, model.Coefficients(), "discount")
}

func TestFitUpliftTooFewRows(t *testing.T) {
	_, err := FitUplift(history(1, 1, 3, 100, 200))
	assert.Error(t, err)
}

func TestRecommend(t *testing.T) {
	facts := append(history(1, 1, 60, 100, 200), history(2, 1, 60, 100, 400)...)
	facts = append(facts, history(3, 1, 5, 100, 400)...) // too short

	recs := Recommend(facts, RecommendOptions{MaxDiscount: 0.2, Count: 3})
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.NotEqual(t, int64(3), r.StoreID)
		assert.LessOrEqual(t, r.DiscountPercentage, 0.2)
		assert.Greater(t, r.EstimatedUplift, 0.0)
		assert.InDelta(t, 100, r.BaselineSales, 1e-9)
		assert.InDelta(t, r.BaselineSales+r.EstimatedUplift, r.ProjectedSales, 1e-9)
	}
	// Store 2 responds twice as strongly, and the smallest discount has the
	// best return on its cost.
	assert.Equal(t, int64(2), recs[0].StoreID)
	assert.Equal(t, 0.05, recs[0].DiscountPercentage)
	assert.GreaterOrEqual(t, recs[0].EstimatedROI, recs[1].EstimatedROI)
	assert.GreaterOrEqual(t, recs[1].EstimatedROI, recs[2].EstimatedROI)

	s := Summarize(recs)
	assert.Equal(t, 3, s.TotalRecommendations)
	assert.Greater(t, s.AverageROI, 0.0)
}

func TestRecommendTargetUplift(t *testing.T) {
	target := 70.0
	recs := Recommend(history(1, 1, 60, 100, 200), RecommendOptions{MaxDiscount: 0.5, Count: 10, TargetUplift: &target})
	require.NotEmpty(t, recs)
	for _, r := range recs {
		assert.GreaterOrEqual(t, r.EstimatedUplift, target)
	}

	assert.Empty(t, Recommend(history(1, 1, 60, 100, 200), RecommendOptions{MaxDiscount: 0.01, Count: 10}))
	assert.Zero(t, Summarize(nil).AverageUplift)
}
