package forecaststore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry() Entry {
	return Entry{
		CityID:      1,
		StoreID:     2,
		ProductID:   3,
		Horizon:     2,
		GeneratedAt: time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC),
		JobID:       "job-1",
		Result: &pipeline.Result{
			Entity: "city=1/store=2/product=3",
			Forecast: []pipeline.ForecastPoint{
				{Date: "2024-06-01", PredictedValue: 10, LowerBound: 8, UpperBound: 12},
				{Date: "2024-06-02", PredictedValue: 11, LowerBound: 8.5, UpperBound: 13.5},
			},
			FeatureImportance: map[string]float64{"discount_fraction": 1},
		},
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "forecast:1:2:3:30", Key{CityID: 1, StoreID: 2, ProductID: 3, Horizon: 30}.String())
	assert.Equal(t, Key{CityID: 1, StoreID: 2, ProductID: 3, Horizon: 2}, sampleEntry().Key())
}

func TestCodec(t *testing.T) {
	for _, compress := range []bool{false, true} {
		data, err := encode(sampleEntry(), compress)
		require.NoError(t, err)

		got, err := decode(data)
		require.NoError(t, err)
		assert.Equal(t, sampleEntry().Result.Forecast, got.Result.Forecast)
		assert.True(t, sampleEntry().GeneratedAt.Equal(got.GeneratedAt))
	}

	_, err := decode(nil)
	assert.Error(t, err)
	_, err = decode([]byte{9, '{', '}'})
	assert.Error(t, err)
	_, err = decode([]byte{codecSnappy, 0xff, 0xff})
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Get(ctx, sampleEntry().Key())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, sampleEntry()))
	got, err := m.Get(ctx, sampleEntry().Key())
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)

	// Mutating a returned entry must not affect the stored copy.
	got.Result.Forecast[0].PredictedValue = -1
	again, err := m.Get(ctx, sampleEntry().Key())
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Result.Forecast[0].PredictedValue)

	now = now.Add(2 * time.Hour)
	_, err = m.Get(ctx, sampleEntry().Key())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, m.Len())
}

func TestNew(t *testing.T) {
	s, err := New(config.StoreConfig{Type: "memory"}, logging.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = New(config.StoreConfig{Type: "etcd"}, logging.NewNop())
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379"
	}
	r, err := NewRedis(config.StoreConfig{URL: url, Prefix: "freshcast-test", TTL: time.Minute, Compress: true}, logging.NewNop())
	if err != nil {
		t.Skip("Redis not available, skipping test")
	}
	defer func() { _ = r.Close() }()

	ctx := context.Background()
	entry := sampleEntry()
	entry.ProductID = time.Now().UnixNano()
	defer r.client.Del(ctx, r.redisKey(entry.Key()))

	require.NoError(t, r.Put(ctx, entry))
	got, err := r.Get(ctx, entry.Key())
	require.NoError(t, err)
	assert.Equal(t, entry.Result.Forecast, got.Result.Forecast)

	ttl, err := r.client.TTL(ctx, r.redisKey(entry.Key())).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = r.Get(ctx, Key{CityID: -1})
	assert.ErrorIs(t, err, ErrNotFound)
}
