package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestEntityFilterKey(t *testing.T) {
	tests := []struct {
		filter EntityFilter
		want   string
	}{
		{EntityFilter{}, "all"},
		{EntityFilter{StoreID: ID(2), ProductID: ID(3)}, "store=2/product=3"},
		{EntityFilter{CityID: ID(1), StoreID: ID(2), CategoryID: ID(9), ProductID: ID(3)}, "city=1/store=2/category=9/product=3"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.filter.Key())
	}
}

func TestMemoryQueryHistory(t *testing.T) {
	m := NewMemory()
	m.AddFacts(
		SalesFact{Date: day(2), StoreID: 1, ProductID: 10, SaleAmount: 3},
		SalesFact{Date: day(0), StoreID: 1, ProductID: 10, SaleAmount: 1},
		SalesFact{Date: day(1), StoreID: 2, ProductID: 10, SaleAmount: 7},
		SalesFact{Date: day(5), StoreID: 1, ProductID: 10, SaleAmount: 9},
	)

	rows, err := m.QueryHistory(context.Background(), EntityFilter{StoreID: ID(1)}, day(0), day(3))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, day(0), rows[0].Date)
	assert.Equal(t, 3.0, rows[1].SaleAmount)

	rows, err = m.QueryHistory(context.Background(), EntityFilter{StoreID: ID(99)}, day(0), day(10))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryPromotions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddFacts(SalesFact{Date: day(0), StoreID: 1, ProductID: 10, CategoryID: 4})

	created, err := m.CreatePromotion(ctx, Promotion{
		StoreID: ID(1), ProductID: ID(10), StartDate: day(3), EndDate: day(5),
		PromotionType: "Discount", DiscountPercentage: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = m.CreatePromotion(ctx, Promotion{StartDate: day(20), EndDate: day(21), DiscountPercentage: 0.1})
	require.NoError(t, err)

	rows, err := m.QueryPromotions(ctx, ID(1), ID(10), day(0), day(9))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.2, rows[0].DiscountFraction)

	rows, err = m.QueryPromotions(ctx, ID(1), ID(10), day(0), day(30))
	require.NoError(t, err)
	assert.Len(t, rows, 2, "chain-wide promotion applies to every store")

	list, err := m.ListPromotions(ctx, PromotionQuery{CategoryID: ID(4)})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = m.ListPromotions(ctx, PromotionQuery{ActiveOn: day(4)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	created.DiscountPercentage = 0.3
	updated, err := m.UpdatePromotion(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, 0.3, updated.DiscountPercentage)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	require.NoError(t, m.DeletePromotion(ctx, created.ID))
	assert.ErrorIs(t, m.DeletePromotion(ctx, created.ID), ErrNotFound)
	_, err = m.GetPromotion(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThrottledPassThrough(t *testing.T) {
	m := NewMemory()
	m.AddFacts(SalesFact{Date: day(0), StoreID: 1, SaleAmount: 2})

	assert.Same(t, Warehouse(m), NewThrottled(m, 0, 0))

	w := NewThrottled(m, 1000, 5)
	rows, err := w.QueryHistory(context.Background(), EntityFilter{}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewThrottled(m, 0.001, 1)
	_, _ = slow.QueryHolidays(context.Background(), time.Time{}, time.Time{})
	_, err = slow.QueryHolidays(ctx, time.Time{}, time.Time{})
	assert.Error(t, err)
}
