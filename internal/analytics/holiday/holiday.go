// Package holiday measures how holidays move product sales.
package holiday

import (
	"sort"
	"time"

	"github.com/freshretail/freshcast/internal/datasource"
)

// Impact is the holiday lift for one product.
type Impact struct {
	ProductID          int64   `json:"product_id"`
	AvgHolidaySales    float64 `json:"avg_holiday_sales"`
	AvgNonHolidaySales float64 `json:"avg_non_holiday_sales"`
	AbsoluteLift       float64 `json:"absolute_lift"`
	PercentageLift     float64 `json:"percentage_lift"`
	HolidayDays        int     `json:"holiday_days"`
}

// Calendar returns the holiday days from rows. A non-empty name keeps only
// holidays with that name.
func Calendar(rows []datasource.HolidayRow, name string) map[time.Time]bool {
	days := make(map[time.Time]bool)
	for _, r := range rows {
		if !r.HolidayFlag || (name != "" && r.HolidayName != name) {
			continue
		}
		days[day(r.Date)] = true
	}
	return days
}

// Analyze returns per-product holiday impact, largest percentage lift first.
// With a nil calendar the facts' own holiday flags decide. Products lacking
// either holiday or regular days are omitted.
func Analyze(facts []datasource.SalesFact, calendar map[time.Time]bool) []Impact {
	type acc struct {
		holiday, regular   float64
		holidayN, regularN int
	}
	byProduct := make(map[int64]*acc)
	for _, f := range facts {
		a := byProduct[f.ProductID]
		if a == nil {
			a = &acc{}
			byProduct[f.ProductID] = a
		}

		isHoliday := f.HolidayFlag
		if calendar != nil {
			isHoliday = calendar[day(f.Date)]
		}
		if isHoliday {
			a.holiday += f.SaleAmount
			a.holidayN++
		} else {
			a.regular += f.SaleAmount
			a.regularN++
		}
	}

	impacts := make([]Impact, 0, len(byProduct))
	for id, a := range byProduct {
		if a.holidayN == 0 || a.regularN == 0 {
			continue
		}
		im := Impact{
			ProductID:          id,
			AvgHolidaySales:    a.holiday / float64(a.holidayN),
			AvgNonHolidaySales: a.regular / float64(a.regularN),
			HolidayDays:        a.holidayN,
		}
		im.AbsoluteLift = im.AvgHolidaySales - im.AvgNonHolidaySales
		if im.AvgNonHolidaySales != 0 {
			im.PercentageLift = im.AbsoluteLift / im.AvgNonHolidaySales * 100
		}
		impacts = append(impacts, im)
	}

	sort.Slice(impacts, func(i, j int) bool {
		if impacts[i].PercentageLift != impacts[j].PercentageLift {
			return impacts[i].PercentageLift > impacts[j].PercentageLift
		}
		return impacts[i].ProductID < impacts[j].ProductID
	})
	return impacts
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
