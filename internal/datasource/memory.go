package datasource

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process warehouse used by tests, the CLI demo mode and
// local development.
type Memory struct {
	mu         sync.RWMutex
	facts      []SalesFact
	weather    map[int64][]WeatherRow
	holidays   []HolidayRow
	promotions map[int64]Promotion
	categories map[int64]int64 // product -> category
	cities     []City
	stores     []Store
	nextID     int64

	// Injected failures per source, for exercising error paths.
	SalesErr     error
	WeatherErr   error
	PromotionErr error
	HolidayErr   error
}

// NewMemory creates an empty in-memory warehouse.
func NewMemory() *Memory {
	return &Memory{
		weather:    make(map[int64][]WeatherRow),
		promotions: make(map[int64]Promotion),
		categories: make(map[int64]int64),
		nextID:     1,
	}
}

// AddFacts appends sales facts.
func (m *Memory) AddFacts(facts ...SalesFact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = append(m.facts, facts...)
	for _, f := range facts {
		m.categories[f.ProductID] = f.CategoryID
	}
}

// AddWeather appends weather rows for a city.
func (m *Memory) AddWeather(cityID int64, rows ...WeatherRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weather[cityID] = append(m.weather[cityID], rows...)
}

// AddHolidays appends calendar rows.
func (m *Memory) AddHolidays(rows ...HolidayRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays = append(m.holidays, rows...)
}

// SetMapping replaces the reference tables.
func (m *Memory) SetMapping(cities []City, stores []Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities = cities
	m.stores = stores
}

func (m *Memory) QueryHistory(ctx context.Context, filter EntityFilter, start, end time.Time) ([]SalesRow, error) {
	if m.SalesErr != nil {
		return nil, m.SalesErr
	}
	facts, err := m.QueryFacts(ctx, filter, start, end)
	if err != nil {
		return nil, err
	}
	rows := make([]SalesRow, len(facts))
	for i, f := range facts {
		rows[i] = SalesRow{Date: f.Date, SaleAmount: f.SaleAmount}
	}
	return rows, nil
}

func (m *Memory) QueryFacts(_ context.Context, filter EntityFilter, start, end time.Time) ([]SalesFact, error) {
	if m.SalesErr != nil {
		return nil, m.SalesErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SalesFact
	for _, f := range m.facts {
		if filter.Matches(f) && inRange(f.Date, start, end) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) QueryWeather(_ context.Context, cityID int64, start, end time.Time) ([]WeatherRow, error) {
	if m.WeatherErr != nil {
		return nil, m.WeatherErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WeatherRow
	for _, w := range m.weather[cityID] {
		if inRange(w.Date, start, end) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *Memory) QueryHolidays(_ context.Context, start, end time.Time) ([]HolidayRow, error) {
	if m.HolidayErr != nil {
		return nil, m.HolidayErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []HolidayRow
	for _, h := range m.holidays {
		if inRange(h.Date, start, end) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) QueryPromotions(_ context.Context, storeID, productID *int64, start, end time.Time) ([]PromotionRow, error) {
	if m.PromotionErr != nil {
		return nil, m.PromotionErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PromotionRow
	for _, p := range m.sortedPromotions() {
		if !scopeMatches(p.StoreID, storeID) || !scopeMatches(p.ProductID, productID) {
			continue
		}
		if (!end.IsZero() && p.StartDate.After(end)) || (!start.IsZero() && p.EndDate.Before(start)) {
			continue
		}
		out = append(out, PromotionRow{StartDate: p.StartDate, EndDate: p.EndDate, DiscountFraction: p.DiscountPercentage})
	}
	return out, nil
}

// scopeMatches treats a nil promotion scope as "all" and a nil query id as "any".
func scopeMatches(scope, want *int64) bool {
	return scope == nil || want == nil || *scope == *want
}

func (m *Memory) CreatePromotion(_ context.Context, p Promotion) (Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.nextID
	m.nextID++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.promotions[p.ID] = p
	return p, nil
}

func (m *Memory) UpdatePromotion(_ context.Context, p Promotion) (Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.promotions[p.ID]
	if !ok {
		return Promotion{}, ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	m.promotions[p.ID] = p
	return p, nil
}

func (m *Memory) DeletePromotion(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.promotions[id]; !ok {
		return ErrNotFound
	}
	delete(m.promotions, id)
	return nil
}

func (m *Memory) GetPromotion(_ context.Context, id int64) (Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.promotions[id]
	if !ok {
		return Promotion{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPromotions(_ context.Context, q PromotionQuery) ([]Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Promotion
	for _, p := range m.sortedPromotions() {
		if q.StoreID != nil && (p.StoreID == nil || *p.StoreID != *q.StoreID) {
			continue
		}
		if q.ProductID != nil && (p.ProductID == nil || *p.ProductID != *q.ProductID) {
			continue
		}
		if q.CategoryID != nil {
			if p.ProductID == nil || m.categories[*p.ProductID] != *q.CategoryID {
				continue
			}
		}
		if !q.StartDate.IsZero() && p.EndDate.Before(q.StartDate) {
			continue
		}
		if !q.EndDate.IsZero() && p.StartDate.After(q.EndDate) {
			continue
		}
		if !q.ActiveOn.IsZero() && !p.Active(q.ActiveOn) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) sortedPromotions() []Promotion {
	out := make([]Promotion, 0, len(m.promotions))
	for _, p := range m.promotions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Cities(_ context.Context) ([]City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]City(nil), m.cities...), nil
}

func (m *Memory) Stores(_ context.Context) ([]Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Store(nil), m.stores...), nil
}

func (m *Memory) Close() {}
