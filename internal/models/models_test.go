package models

import (
	"errors"
	"testing"
	"time"

	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var fe *fiber.Error
	require.True(t, errors.As(err, &fe), "expected *fiber.Error, got %v", err)
	return fe.Code
}

func TestForecastRequestDefaults(t *testing.T) {
	r := &ForecastRequest{StoreID: datasource.ID(1), CityID: datasource.ID(2)}
	require.NoError(t, r.Validate(today, 365))

	assert.Equal(t, DefaultPeriods, r.Periods)
	assert.Equal(t, "D", r.Freq)
	assert.True(t, r.Weather())
	assert.True(t, r.Holidays())
	assert.True(t, r.Promotions())
	assert.Equal(t, today.AddDate(0, 0, -1), r.EndParsed)
	assert.Equal(t, today.AddDate(0, 0, -366), r.StartParsed)
	assert.Equal(t, "city=2/store=1", r.Filter().Key())
}

func TestForecastRequestValidation(t *testing.T) {
	off := false
	tests := []struct {
		name string
		req  ForecastRequest
	}{
		{"missing store", ForecastRequest{CityID: datasource.ID(1)}},
		{"negative periods", ForecastRequest{StoreID: datasource.ID(1), CityID: datasource.ID(1), Periods: -1}},
		{"weekly freq", ForecastRequest{StoreID: datasource.ID(1), CityID: datasource.ID(1), Freq: "W"}},
		{"bad date", ForecastRequest{StoreID: datasource.ID(1), CityID: datasource.ID(1), StartDate: "01/02/2024"}},
		{"inverted", ForecastRequest{StoreID: datasource.ID(1), CityID: datasource.ID(1), StartDate: "2024-03-02", EndDate: "2024-03-01", IncludeWeather: &off}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(today, 365)
			assert.Equal(t, fiber.StatusBadRequest, statusOf(t, err))
		})
	}
}

func TestBatchRequests(t *testing.T) {
	off := false
	b := &BatchForecastRequest{
		Entities: []datasource.EntityFilter{
			{StoreID: datasource.ID(1), CityID: datasource.ID(1)},
			{StoreID: datasource.ID(2), CityID: datasource.ID(1), ProductID: datasource.ID(5)},
		},
		Periods:        7,
		IncludeWeather: &off,
	}
	reqs, err := b.Requests(today, 90)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, 7, reqs[1].Periods)
	assert.False(t, reqs[1].Weather())
	assert.Equal(t, "city=1/store=2/product=5", reqs[1].Filter().Key())

	_, err = (&BatchForecastRequest{}).Requests(today, 90)
	assert.Error(t, err)
}

func TestPromotionRequest(t *testing.T) {
	r := &PromotionRequest{StartDate: "2024-01-01", EndDate: "2024-01-05", PromotionType: "discount", DiscountPercentage: 0.2}
	p, err := r.Promotion()
	require.NoError(t, err)
	assert.Nil(t, p.StoreID)
	assert.Equal(t, 4*24*time.Hour, p.EndDate.Sub(p.StartDate))

	r.DiscountPercentage = 20
	_, err = r.Promotion()
	assert.Equal(t, fiber.StatusBadRequest, statusOf(t, err))

	r.DiscountPercentage = 0.2
	r.EndDate = "2023-12-31"
	_, err = r.Promotion()
	assert.Error(t, err)
}

func TestPromotionListQuery(t *testing.T) {
	q := &PromotionListQuery{StoreID: 3, ActiveOn: "2024-02-01"}
	out, err := q.Query()
	require.NoError(t, err)
	require.NotNil(t, out.StoreID)
	assert.Equal(t, int64(3), *out.StoreID)
	assert.Nil(t, out.ProductID)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), out.ActiveOn)

	_, err = (&PromotionListQuery{EndDate: "tomorrow"}).Query()
	assert.Error(t, err)
}

func TestAnalysisRequest(t *testing.T) {
	r := &AnalysisRequest{StoreID: datasource.ID(1), StartDate: "2024-01-01", EndDate: "2024-01-31"}
	require.NoError(t, r.Validate(true, false))
	assert.Equal(t, 30*24*time.Hour, r.EndParsed.Sub(r.StartParsed))

	assert.Error(t, r.Validate(true, true))
	assert.Error(t, (&AnalysisRequest{StartDate: "2024-01-01"}).Validate(false, false))
}

func TestRecommendRequest(t *testing.T) {
	r := &RecommendRequest{}
	require.NoError(t, r.Validate(today))
	assert.Equal(t, DefaultMaxDiscount, r.MaxDiscount)
	assert.Equal(t, DefaultRecommend, r.Count)
	assert.Equal(t, today, r.TargetParsed)

	assert.Error(t, (&RecommendRequest{MaxDiscount: 2}).Validate(today))
	assert.Error(t, (&RecommendRequest{TargetDate: "soon"}).Validate(today))
}

func TestPrecomputedQuery(t *testing.T) {
	q := &PrecomputedQuery{CityID: 1, StoreID: 2, ProductID: 3}
	require.NoError(t, q.Validate())
	assert.Equal(t, DefaultPeriods, q.Horizon)
	assert.Error(t, (&PrecomputedQuery{CityID: 1}).Validate())
}

func TestForecastJobCodec(t *testing.T) {
	job := NewForecastJob(JobSourceAPI, JobRequest{StoreIDs: []int64{1, 2}, HorizonDays: 14}, today)
	assert.NotEmpty(t, job.ID)

	data, err := job.Encode()
	require.NoError(t, err)
	back, err := DecodeForecastJob(data)
	require.NoError(t, err)
	assert.Equal(t, job.ID, back.ID)
	assert.Equal(t, []int64{1, 2}, back.StoreIDs)
	assert.Equal(t, today, back.CreatedAt)

	_, err = DecodeForecastJob([]byte(`{"horizon_days":3}`))
	assert.Error(t, err)
	_, err = DecodeForecastJob([]byte(`not json`))
	assert.Error(t, err)
}
