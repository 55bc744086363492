// Package insights turns the analyzer outputs for a store or product scope
// into prioritised findings and an executive summary.
package insights

import (
	"fmt"
	"sort"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/anomaly"
	"github.com/freshretail/freshcast/internal/analytics/holiday"
	"github.com/freshretail/freshcast/internal/analytics/promotion"
	"github.com/freshretail/freshcast/internal/analytics/stockout"
	"github.com/freshretail/freshcast/internal/datasource"
)

// Priority orders insights.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var penalties = map[Priority]float64{
	PriorityCritical: 25,
	PriorityHigh:     15,
	PriorityMedium:   7,
	PriorityLow:      2,
}

var rank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Insight is one finding.
type Insight struct {
	ID                string             `json:"id"`
	Category          string             `json:"category"`
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	Impact            string             `json:"impact"`
	Priority          Priority           `json:"priority"`
	RecommendedAction string             `json:"recommended_action"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
}

// Summary is the executive view.
type Summary struct {
	HealthScore    float64  `json:"health_score"`
	HealthStatus   string   `json:"health_status"`
	TotalSales     float64  `json:"total_sales"`
	AvgDailySales  float64  `json:"avg_daily_sales"`
	SalesTrend     float64  `json:"sales_trend_pct"`
	Days           int      `json:"days"`
	Highlights     []string `json:"highlights"`
	CriticalIssues []string `json:"critical_issues"`
}

// Report is the full insight set.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Summary     Summary   `json:"summary"`
	Insights    []Insight `json:"insights"`
}

// Input carries the analyzer results for one scope.
type Input struct {
	Facts      []datasource.SalesFact
	Stockout   stockout.Summary
	Promotions []promotion.Effectiveness
	Holidays   []holiday.Impact
	Anomalies  []anomaly.Anomaly
}

// TrendWindow is the number of days compared at each end of the series.
const TrendWindow = 28

// Build assembles the report.
func Build(in Input, now time.Time) Report {
	series := DailySeries(in.Facts)

	var summary Summary
	summary.Days = len(series)
	for _, p := range series {
		summary.TotalSales += p.Value
	}
	if len(series) > 0 {
		summary.AvgDailySales = summary.TotalSales / float64(len(series))
	}
	summary.SalesTrend = trend(series)

	var list []Insight
	list = append(list, salesInsights(summary)...)
	list = append(list, stockoutInsights(in.Stockout)...)
	list = append(list, promotionInsights(in.Promotions)...)
	list = append(list, holidayInsights(in.Holidays)...)
	list = append(list, anomalyInsights(in.Anomalies)...)

	sort.SliceStable(list, func(i, j int) bool {
		return rank[list[i].Priority] < rank[list[j].Priority]
	})

	summary.HealthScore = HealthScore(list)
	summary.HealthStatus = HealthStatus(summary.HealthScore)
	summary.Highlights = []string{}
	summary.CriticalIssues = []string{}
	for _, ins := range list {
		switch ins.Priority {
		case PriorityCritical, PriorityHigh:
			summary.CriticalIssues = append(summary.CriticalIssues, ins.Title)
		case PriorityLow:
			summary.Highlights = append(summary.Highlights, ins.Title)
		}
	}

	if list == nil {
		list = []Insight{}
	}
	return Report{GeneratedAt: now, Summary: summary, Insights: list}
}

// HealthScore starts at 100 and deducts per insight by priority.
func HealthScore(list []Insight) float64 {
	score := 100.0
	for _, ins := range list {
		score -= penalties[ins.Priority]
	}
	return min(100, max(0, score))
}

// HealthStatus bands a health score.
func HealthStatus(score float64) string {
	switch {
	case score >= 85:
		return "excellent"
	case score >= 75:
		return "good"
	case score >= 65:
		return "fair"
	case score >= 50:
		return "needs_attention"
	}
	return "critical"
}

// DailySeries sums facts per day, ascending.
func DailySeries(facts []datasource.SalesFact) []anomaly.Point {
	totals := make(map[time.Time]float64)
	for _, f := range facts {
		d := time.Date(f.Date.Year(), f.Date.Month(), f.Date.Day(), 0, 0, 0, 0, time.UTC)
		totals[d] += f.SaleAmount
	}
	points := make([]anomaly.Point, 0, len(totals))
	for d, v := range totals {
		points = append(points, anomaly.Point{Date: d, Value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

// trend compares the last TrendWindow days with the window before, in percent.
func trend(series []anomaly.Point) float64 {
	if len(series) < 2*TrendWindow {
		return 0
	}
	var recent, prior float64
	for _, p := range series[len(series)-TrendWindow:] {
		recent += p.Value
	}
	for _, p := range series[len(series)-2*TrendWindow : len(series)-TrendWindow] {
		prior += p.Value
	}
	if prior == 0 {
		return 0
	}
	return (recent - prior) / prior * 100
}

func salesInsights(s Summary) []Insight {
	switch {
	case s.SalesTrend <= -10:
		return []Insight{{
			ID:                "sales-declining",
			Category:          "sales",
			Title:             "Sales are declining",
			Description:       fmt.Sprintf("Sales over the last %d days are %.1f%% below the previous %d days.", TrendWindow, -s.SalesTrend, TrendWindow),
			Impact:            "Revenue at risk if the decline continues.",
			Priority:          PriorityHigh,
			RecommendedAction: "Review pricing, availability and local competition for the affected products.",
			Metrics:           map[string]float64{"sales_trend_pct": s.SalesTrend},
		}}
	case s.SalesTrend >= 10:
		return []Insight{{
			ID:                "sales-growing",
			Category:          "sales",
			Title:             "Sales are growing",
			Description:       fmt.Sprintf("Sales over the last %d days are %.1f%% above the previous %d days.", TrendWindow, s.SalesTrend, TrendWindow),
			Impact:            "Higher demand needs matching replenishment.",
			Priority:          PriorityLow,
			RecommendedAction: "Raise order quantities in line with the new run rate.",
			Metrics:           map[string]float64{"sales_trend_pct": s.SalesTrend},
		}}
	}
	return nil
}

func stockoutInsights(s stockout.Summary) []Insight {
	if s.TotalDays == 0 || s.StockoutDays == 0 {
		return nil
	}
	var p Priority
	switch {
	case s.StockoutRate > 0.2:
		p = PriorityCritical
	case s.StockoutRate > 0.1:
		p = PriorityHigh
	case s.StockoutRate > 0.05:
		p = PriorityMedium
	default:
		p = PriorityLow
	}
	return []Insight{{
		ID:                "stockout-rate",
		Category:          "inventory",
		Title:             "Stockouts are costing sales",
		Description:       fmt.Sprintf("%d of %d days had stockouts (%.1f%%).", s.StockoutDays, s.TotalDays, s.StockoutRate*100),
		Impact:            fmt.Sprintf("An estimated %.0f units of demand (%.1f%%) went unserved.", s.TotalLostSales, s.LostSalesShare*100),
		Priority:          p,
		RecommendedAction: "Increase safety stock and replenishment frequency for the affected products.",
		Metrics: map[string]float64{
			"stockout_rate":    s.StockoutRate,
			"total_lost_sales": s.TotalLostSales,
			"lost_sales_share": s.LostSalesShare,
		},
	}}
}

func promotionInsights(effects []promotion.Effectiveness) []Insight {
	if len(effects) == 0 {
		return nil
	}
	var out []Insight

	best := effects[0]
	if best.AvgUplift > 0.2 {
		out = append(out, Insight{
			ID:                fmt.Sprintf("promotion-top-%d", best.ProductID),
			Category:          "promotion",
			Title:             fmt.Sprintf("Product %d responds strongly to promotions", best.ProductID),
			Description:       fmt.Sprintf("Promoted days sell %.0f%% more than regular days.", best.AvgUplift*100),
			Impact:            "Further promotions on this product are likely to pay off.",
			Priority:          PriorityMedium,
			RecommendedAction: "Schedule recurring promotions and make sure stock covers the uplift.",
			Metrics:           map[string]float64{"avg_uplift": best.AvgUplift, "promo_days": float64(best.PromoDays)},
		})
	}

	var losers []int64
	for _, e := range effects {
		if e.AvgUplift < 0 {
			losers = append(losers, e.ProductID)
		}
	}
	if len(losers) > 0 {
		out = append(out, Insight{
			ID:                "promotion-negative",
			Category:          "promotion",
			Title:             "Some promotions reduce sales",
			Description:       fmt.Sprintf("%d product(s) sell less on promoted days: %v.", len(losers), losers),
			Impact:            "Discount spend is not generating demand.",
			Priority:          PriorityHigh,
			RecommendedAction: "Stop or redesign promotions for these products.",
			Metrics:           map[string]float64{"products": float64(len(losers))},
		})
	}
	return out
}

func holidayInsights(impacts []holiday.Impact) []Insight {
	if len(impacts) == 0 {
		return nil
	}
	var out []Insight
	top := impacts[0]
	if top.PercentageLift > 20 {
		out = append(out, Insight{
			ID:                fmt.Sprintf("holiday-lift-%d", top.ProductID),
			Category:          "holiday",
			Title:             fmt.Sprintf("Product %d peaks on holidays", top.ProductID),
			Description:       fmt.Sprintf("Holiday sales are %.1f%% above regular days.", top.PercentageLift),
			Impact:            "Under-stocking before holidays loses peak demand.",
			Priority:          PriorityMedium,
			RecommendedAction: "Build stock ahead of upcoming holidays.",
			Metrics:           map[string]float64{"percentage_lift": top.PercentageLift},
		})
	}
	last := impacts[len(impacts)-1]
	if last.PercentageLift < -20 {
		out = append(out, Insight{
			ID:                fmt.Sprintf("holiday-dip-%d", last.ProductID),
			Category:          "holiday",
			Title:             fmt.Sprintf("Product %d slows on holidays", last.ProductID),
			Description:       fmt.Sprintf("Holiday sales are %.1f%% below regular days.", -last.PercentageLift),
			Impact:            "Fresh stock may expire over holiday periods.",
			Priority:          PriorityLow,
			RecommendedAction: "Reduce orders before holidays.",
			Metrics:           map[string]float64{"percentage_lift": last.PercentageLift},
		})
	}
	return out
}

func anomalyInsights(found []anomaly.Anomaly) []Insight {
	var drops, spikes int
	for _, a := range found {
		switch a.Type {
		case anomaly.TypeDrop:
			drops++
		case anomaly.TypeSpike:
			spikes++
		}
	}

	var out []Insight
	if drops > 0 {
		p := PriorityMedium
		if drops >= 3 {
			p = PriorityHigh
		}
		out = append(out, Insight{
			ID:                "anomaly-drops",
			Category:          "sales",
			Title:             "Unexplained sales drops",
			Description:       fmt.Sprintf("%d day(s) sold far below the usual range.", drops),
			Impact:            "Drops often point at stock, pricing or data feed problems.",
			Priority:          p,
			RecommendedAction: "Check availability and transactions on the flagged days.",
			Metrics:           map[string]float64{"days": float64(drops)},
		})
	}
	if spikes > 0 {
		out = append(out, Insight{
			ID:                "anomaly-spikes",
			Category:          "sales",
			Title:             "Unusual sales spikes",
			Description:       fmt.Sprintf("%d day(s) sold far above the usual range.", spikes),
			Impact:            "Spikes inflate forecasts unless they are explained.",
			Priority:          PriorityLow,
			RecommendedAction: "Tag the causing events so future forecasts can account for them.",
			Metrics:           map[string]float64{"days": float64(spikes)},
		})
	}
	return out
}
