// Package stockout estimates the demand hidden by out-of-stock hours.
package stockout

import (
	"sort"
	"time"

	"github.com/freshretail/freshcast/internal/datasource"
)

// WindowHours is the trading window (06:00-22:00) stockout hours are counted in.
const WindowHours = 16.0

// Day is the demand estimate for one calendar day.
type Day struct {
	Date            string  `json:"date"`
	ActualSales     float64 `json:"actual_sales"`
	StockoutHours   float64 `json:"stockout_hours"`
	IsStockout      bool    `json:"is_stockout"`
	EstimatedDemand float64 `json:"estimated_demand"`
	LostSales       float64 `json:"lost_sales"`
}

// Summary aggregates a run of days.
type Summary struct {
	TotalDays                  int     `json:"total_days"`
	StockoutDays               int     `json:"stockout_days"`
	StockoutRate               float64 `json:"stockout_rate"`
	TotalActualSales           float64 `json:"total_actual_sales"`
	TotalEstimatedDemand       float64 `json:"total_estimated_demand"`
	TotalLostSales             float64 `json:"total_lost_sales"`
	AvgLostSalesPerStockoutDay float64 `json:"avg_lost_sales_per_stockout_day"`
	LostSalesShare             float64 `json:"lost_sales_share"`
}

type dayTotal struct {
	date  time.Time
	sales float64
	hours float64
}

// Estimate returns one Day per date in facts, ascending. Facts sharing a
// date are summed and their stockout hours take the maximum.
func Estimate(facts []datasource.SalesFact) []Day {
	byDate := make(map[time.Time]*dayTotal)
	for _, f := range facts {
		d := time.Date(f.Date.Year(), f.Date.Month(), f.Date.Day(), 0, 0, 0, 0, time.UTC)
		t := byDate[d]
		if t == nil {
			t = &dayTotal{date: d}
			byDate[d] = t
		}
		t.sales += f.SaleAmount
		t.hours = max(t.hours, clampHours(f.StockoutHours))
	}

	totals := make([]*dayTotal, 0, len(byDate))
	for _, t := range byDate {
		totals = append(totals, t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].date.Before(totals[j].date) })

	// Baselines for fully stocked-out days come from clean days only.
	var weekdaySum [7]float64
	var weekdayN [7]int
	var cleanSum float64
	var cleanN int
	for _, t := range totals {
		if t.hours == 0 {
			weekdaySum[t.date.Weekday()] += t.sales
			weekdayN[t.date.Weekday()]++
			cleanSum += t.sales
			cleanN++
		}
	}

	days := make([]Day, len(totals))
	for i, t := range totals {
		estimated := t.sales
		switch {
		case t.hours >= WindowHours:
			wd := t.date.Weekday()
			if weekdayN[wd] > 0 {
				estimated = weekdaySum[wd] / float64(weekdayN[wd])
			} else if cleanN > 0 {
				estimated = cleanSum / float64(cleanN)
			}
		case t.hours > 0:
			estimated = t.sales * WindowHours / (WindowHours - t.hours)
		}

		days[i] = Day{
			Date:            t.date.Format("2006-01-02"),
			ActualSales:     t.sales,
			StockoutHours:   t.hours,
			IsStockout:      t.hours > 0,
			EstimatedDemand: estimated,
			LostSales:       max(0, estimated-t.sales),
		}
	}
	return days
}

// Summarize aggregates days.
func Summarize(days []Day) Summary {
	s := Summary{TotalDays: len(days)}
	for _, d := range days {
		s.TotalActualSales += d.ActualSales
		s.TotalEstimatedDemand += d.EstimatedDemand
		s.TotalLostSales += d.LostSales
		if d.IsStockout {
			s.StockoutDays++
		}
	}
	if s.TotalDays > 0 {
		s.StockoutRate = float64(s.StockoutDays) / float64(s.TotalDays)
	}
	if s.StockoutDays > 0 {
		s.AvgLostSalesPerStockoutDay = s.TotalLostSales / float64(s.StockoutDays)
	}
	if total := s.TotalActualSales + s.TotalLostSales; total > 0 {
		s.LostSalesShare = s.TotalLostSales / total
	}
	return s
}

func clampHours(h float64) float64 {
	switch {
	case h < 0:
		return 0
	case h > WindowHours:
		return WindowHours
	}
	return h
}
