package cache

import (
	"testing"
	"time"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/stretchr/testify/assert"
)

func history(values ...float64) forecast.History {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := make(forecast.History, len(values))
	for i, v := range values {
		h[i] = forecast.Record{
			Date:       start.AddDate(0, 0, i),
			Target:     v,
			Regressors: map[string]float64{"b": 1, "a": float64(i)},
		}
	}
	return h
}

func TestDataVersion(t *testing.T) {
	base := DataVersion(history(1, 2, 3))

	assert.Equal(t, base, DataVersion(history(1, 2, 3)))
	assert.NotEqual(t, base, DataVersion(history(1, 2, 4)))
	assert.NotEqual(t, base, DataVersion(history(1, 2, 3, 4)))

	changed := history(1, 2, 3)
	changed[1].Regressors["a"] = 99
	assert.NotEqual(t, base, DataVersion(changed))
	assert.Contains(t, base, "2024-01-03:3:")
}

func TestModelCache(t *testing.T) {
	c := NewModelCache(2, time.Minute)
	k1 := Key{Entity: "store=1/product=1", Version: "v1"}
	k2 := Key{Entity: "store=1/product=2", Version: "v1"}
	k3 := Key{Entity: "store=1/product=3", Version: "v1"}

	m := &forecast.FittedModel{}
	c.Put(k1, m)
	got, ok := c.Get(k1)
	assert.True(t, ok)
	assert.Same(t, m, got)

	_, ok = c.Get(Key{Entity: k1.Entity, Version: "v2"})
	assert.False(t, ok, "a new data version must miss")

	c.Put(k2, &forecast.FittedModel{})
	c.Put(k3, &forecast.FittedModel{})
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(k1)
	assert.False(t, ok, "least recently used entry should be evicted")

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestModelCacheTTL(t *testing.T) {
	c := NewModelCache(4, 20*time.Millisecond)
	k := Key{Entity: "e", Version: "v"}
	c.Put(k, &forecast.FittedModel{})

	assert.Eventually(t, func() bool {
		_, ok := c.Get(k)
		return !ok
	}, time.Second, 10*time.Millisecond)
}
