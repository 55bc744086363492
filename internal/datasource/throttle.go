package datasource

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttled rate-limits every read against the wrapped source so a large
// batch cannot flood the warehouse. Writes and reference lookups pass through.
type Throttled struct {
	Warehouse
	limiter *rate.Limiter
}

// NewThrottled wraps w. A non-positive rate disables limiting and returns w unchanged.
func NewThrottled(w Warehouse, perSecond float64, burst int) Warehouse {
	if perSecond <= 0 {
		return w
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{Warehouse: w, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) QueryHistory(ctx context.Context, filter EntityFilter, start, end time.Time) ([]SalesRow, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Warehouse.QueryHistory(ctx, filter, start, end)
}

func (t *Throttled) QueryFacts(ctx context.Context, filter EntityFilter, start, end time.Time) ([]SalesFact, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Warehouse.QueryFacts(ctx, filter, start, end)
}

func (t *Throttled) QueryWeather(ctx context.Context, cityID int64, start, end time.Time) ([]WeatherRow, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Warehouse.QueryWeather(ctx, cityID, start, end)
}

func (t *Throttled) QueryPromotions(ctx context.Context, storeID, productID *int64, start, end time.Time) ([]PromotionRow, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Warehouse.QueryPromotions(ctx, storeID, productID, start, end)
}

func (t *Throttled) QueryHolidays(ctx context.Context, start, end time.Time) ([]HolidayRow, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Warehouse.QueryHolidays(ctx, start, end)
}
