package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/forecaststore"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/pipeline"
	"github.com/freshretail/freshcast/internal/queue"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/gofiber/fiber/v2"
)

var testNow = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	app   *fiber.App
	mem   *datasource.Memory
	store *forecaststore.Memory
	queue *queue.MemoryQueue
}

func newTestEnv(t *testing.T, withQueue bool) *testEnv {
	t.Helper()
	logger := logging.NewNop()
	mem := datasource.NewMemory()
	for i := 0; i < 90; i++ {
		f := datasource.SalesFact{
			Date:       testNow.AddDate(0, 0, -90+i),
			CityID:     1,
			StoreID:    1,
			ProductID:  1,
			CategoryID: 1,
			SaleAmount: 60 + 8*math.Sin(2*math.Pi*float64(i)/7),
		}
		if i%6 == 0 {
			f.Discount = 0.1 * float64(1+(i/6)%3)
			f.ActivityFlag = true
			f.SaleAmount += 120 * f.Discount
		}
		if i%15 == 0 {
			f.StockoutHours = 4
		}
		mem.AddFacts(f)
	}
	mem.SetMapping(
		[]datasource.City{{ID: 1, Name: "Shanghai"}},
		[]datasource.Store{{ID: 1, Name: "Store 1"}, {ID: 2, Name: "Store 2"}},
	)

	cfg := config.DefaultConfig().Forecast
	today := func() time.Time { return testNow }
	orch := pipeline.NewOrchestrator(mem, cfg, logger)
	batch := pipeline.NewBatchRunner(orch, 2, logger, nil)
	store := forecaststore.NewMemory(time.Hour)

	env := &testEnv{mem: mem, store: store}
	var precompute *services.PrecomputeService
	if withQueue {
		env.queue = queue.NewMemoryQueue(logger)
		t.Cleanup(func() { env.queue.Close() })
		precompute = services.NewPrecomputeService(logger, mem, batch, store, env.queue, "jobs", cfg, nil, today)
	}

	h := New(logger,
		services.NewForecastService(logger, orch, batch, store, cfg, today),
		precompute,
		services.NewPromotionService(logger, mem, mem, cfg, today),
		services.NewAnalyticsService(logger, mem, today),
	)

	app := fiber.New()
	api := app.Group("/api")
	api.Post("/forecast", h.Forecast)
	api.Post("/forecast/batch", h.ForecastBatch)
	api.Get("/forecast/precomputed", h.Precomputed)
	api.Post("/forecast/jobs", h.EnqueueJob)
	api.Post("/promotions", h.CreatePromotion)
	api.Get("/promotions", h.ListPromotions)
	api.Post("/promotions/analyze", h.AnalyzePromotions)
	api.Post("/promotions/recommend", h.RecommendPromotions)
	api.Get("/promotions/:id", h.GetPromotion)
	api.Put("/promotions/:id", h.UpdatePromotion)
	api.Delete("/promotions/:id", h.DeletePromotion)
	api.Post("/stockouts/analyze", h.AnalyzeStockouts)
	api.Post("/holidays/analyze", h.AnalyzeHolidays)
	api.Post("/insights", h.Insights)
	api.Get("/mapping/cities", h.Cities)
	api.Get("/mapping/stores", h.Stores)
	app.Use(h.NotFound)

	env.app = app
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, 30000)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp.StatusCode, data
}

func decodeError(t *testing.T, body []byte) models.ErrorDetail {
	t.Helper()
	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("Failed to unmarshal error: %v (%s)", err, body)
	}
	return errResp.Error
}

func TestHandler_Forecast(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodPost, "/api/forecast", map[string]interface{}{
		"store_id": 1, "city_id": 1, "product_id": 1, "periods": 7,
	})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var resp struct {
		Entity   string                   `json:"entity"`
		Forecast []pipeline.ForecastPoint `json:"forecast"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Entity != "city=1/store=1/product=1" {
		t.Errorf("Expected entity key, got %q", resp.Entity)
	}
	if len(resp.Forecast) != 7 || resp.Forecast[0].Date != "2024-05-01" {
		t.Errorf("Unexpected forecast: %+v", resp.Forecast)
	}
}

func TestHandler_ForecastErrors(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing store", map[string]interface{}{"city_id": 1}, fiber.StatusBadRequest, services.CodeInvalidRequest},
		{"bad freq", map[string]interface{}{"store_id": 1, "city_id": 1, "freq": "W"}, fiber.StatusBadRequest, services.CodeInvalidRequest},
		{"no history", map[string]interface{}{"store_id": 9, "city_id": 1}, fiber.StatusUnprocessableEntity, services.CodeInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/forecast", tt.body)
			if status != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, status, body)
			}
			if got := decodeError(t, body); got.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, got.Code)
			}
		})
	}

	env.mem.SalesErr = io.ErrUnexpectedEOF
	status, body := env.do(t, http.MethodPost, "/api/forecast", map[string]interface{}{"store_id": 1, "city_id": 1})
	if status != fiber.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d: %s", status, body)
	}
}

func TestHandler_ForecastBatch(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodPost, "/api/forecast/batch", map[string]interface{}{
		"entities": []map[string]int{
			{"store_id": 1, "city_id": 1, "product_id": 1},
			{"store_id": 2, "city_id": 1, "product_id": 1},
		},
		"periods": 5,
	})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var resp services.BatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Succeeded != 1 || resp.Failed != 1 {
		t.Errorf("Expected 1/1, got %d/%d", resp.Succeeded, resp.Failed)
	}
	if resp.Errors["city=1/store=2/product=1"].Code != services.CodeInsufficientData {
		t.Errorf("Expected INSUFFICIENT_DATA for store 2, got %+v", resp.Errors)
	}
}

func TestHandler_Precomputed(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodGet, "/api/forecast/precomputed?city_id=1&store_id=1&product_id=1&horizon=7", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("Expected status 404, got %d: %s", status, body)
	}

	err := env.store.Put(context.Background(), forecaststore.Entry{
		CityID: 1, StoreID: 1, ProductID: 1, Horizon: 7, JobID: "job-1",
		GeneratedAt: testNow,
		Result:      &pipeline.Result{Entity: "city=1/store=1/product=1"},
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	status, body = env.do(t, http.MethodGet, "/api/forecast/precomputed?city_id=1&store_id=1&product_id=1&horizon=7", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var entry forecaststore.Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("Failed to unmarshal entry: %v", err)
	}
	if entry.JobID != "job-1" {
		t.Errorf("Expected job-1, got %s", entry.JobID)
	}

	status, _ = env.do(t, http.MethodGet, "/api/forecast/precomputed?city_id=1", nil)
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 without store_id, got %d", status)
	}
}

func TestHandler_EnqueueJob(t *testing.T) {
	env := newTestEnv(t, false)
	status, body := env.do(t, http.MethodPost, "/api/forecast/jobs", nil)
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("Expected status 503 without a queue, got %d: %s", status, body)
	}

	env = newTestEnv(t, true)
	status, body = env.do(t, http.MethodPost, "/api/forecast/jobs", map[string]interface{}{"city_ids": []int{1}, "horizon_days": 7})
	if status != fiber.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", status, body)
	}
	var accepted models.JobAccepted
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if accepted.JobID == "" || accepted.Subject != "jobs" || accepted.Status != "queued" {
		t.Errorf("Unexpected response: %+v", accepted)
	}
	if env.queue.Pending("jobs") != 1 {
		t.Errorf("Expected 1 pending job, got %d", env.queue.Pending("jobs"))
	}
}

func TestHandler_PromotionCRUD(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodPost, "/api/promotions", map[string]interface{}{
		"store_id": 1, "start_date": "2024-05-01", "end_date": "2024-05-03",
		"promotion_type": "discount", "discount_percentage": 0.2,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, body)
	}
	var created datasource.Promotion
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("Failed to unmarshal promotion: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("Expected an assigned id")
	}

	status, body = env.do(t, http.MethodPost, "/api/promotions", map[string]interface{}{
		"start_date": "2024-05-03", "end_date": "2024-05-01", "promotion_type": "discount",
	})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for reversed dates, got %d: %s", status, body)
	}

	path := "/api/promotions/" + jsonNumber(created.ID)
	status, body = env.do(t, http.MethodPut, path, map[string]interface{}{
		"store_id": 1, "start_date": "2024-05-01", "end_date": "2024-05-05",
		"promotion_type": "bundle", "discount_percentage": 0.1,
	})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200 on update, got %d: %s", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/api/promotions?active_on=2024-05-04", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200 on list, got %d: %s", status, body)
	}
	var list struct {
		Promotions []datasource.Promotion `json:"promotions"`
		Count      int                    `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("Failed to unmarshal list: %v", err)
	}
	if list.Count != 1 || list.Promotions[0].PromotionType != "bundle" {
		t.Errorf("Unexpected list: %+v", list)
	}

	status, _ = env.do(t, http.MethodDelete, path, nil)
	if status != fiber.StatusOK {
		t.Errorf("Expected status 200 on delete, got %d", status)
	}
	status, body = env.do(t, http.MethodGet, path, nil)
	if status != fiber.StatusNotFound || decodeError(t, body).Code != services.CodeNotFound {
		t.Errorf("Expected 404 after delete, got %d: %s", status, body)
	}

	status, _ = env.do(t, http.MethodDelete, "/api/promotions/abc", nil)
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for a non-numeric id, got %d", status)
	}
}

func TestHandler_PromotionAnalytics(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodPost, "/api/promotions/analyze", map[string]interface{}{
		"store_id": 1, "start_date": "2024-01-01", "end_date": "2024-04-30",
	})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var analysis services.PromotionAnalysis
	if err := json.Unmarshal(body, &analysis); err != nil {
		t.Fatalf("Failed to unmarshal analysis: %v", err)
	}
	if analysis.Rows != 90 || analysis.PromoDays != 15 {
		t.Errorf("Unexpected analysis: rows=%d promo=%d", analysis.Rows, analysis.PromoDays)
	}

	status, body = env.do(t, http.MethodPost, "/api/promotions/analyze", map[string]interface{}{
		"store_id": 1, "start_date": "2024-04-25", "end_date": "2024-04-30",
	})
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d: %s", status, body)
	}
	detail := decodeError(t, body)
	if detail.Details["row_count"] != float64(6) || detail.Details["min_rows"] != float64(30) {
		t.Errorf("Unexpected details: %v", detail.Details)
	}

	status, body = env.do(t, http.MethodPost, "/api/promotions/recommend", map[string]interface{}{
		"store_id": 1, "max_discount": 0.3, "count": 2,
	})
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var recs services.RecommendationResponse
	if err := json.Unmarshal(body, &recs); err != nil {
		t.Fatalf("Failed to unmarshal recommendations: %v", err)
	}
	if recs.Summary.TargetDate != "2024-05-01" || len(recs.Recommendations) > 2 {
		t.Errorf("Unexpected recommendations: %+v", recs)
	}
}

func TestHandler_Analytics(t *testing.T) {
	env := newTestEnv(t, false)
	scope := map[string]interface{}{"store_id": 1, "product_id": 1, "start_date": "2024-01-01", "end_date": "2024-04-30"}

	status, body := env.do(t, http.MethodPost, "/api/stockouts/analyze", scope)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var so services.StockoutAnalysis
	if err := json.Unmarshal(body, &so); err != nil {
		t.Fatalf("Failed to unmarshal stockouts: %v", err)
	}
	if so.Summary.StockoutDays != 6 {
		t.Errorf("Expected 6 stockout days, got %d", so.Summary.StockoutDays)
	}

	status, _ = env.do(t, http.MethodPost, "/api/stockouts/analyze", map[string]interface{}{"start_date": "2024-01-01", "end_date": "2024-04-30"})
	if status != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 without store, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/api/holidays/analyze", map[string]interface{}{
		"start_date": "2024-01-01", "end_date": "2024-04-30", "holiday_name": "Spring Festival",
	})
	if status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 for an unknown holiday, got %d: %s", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/api/insights", scope)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var report struct {
		Summary struct {
			HealthScore float64 `json:"health_score"`
		} `json:"summary"`
		Insights []json.RawMessage `json:"insights"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("Failed to unmarshal insights: %v", err)
	}
	if report.Summary.HealthScore <= 0 || len(report.Insights) == 0 {
		t.Errorf("Unexpected insights: %s", body)
	}
}

func TestHandler_Mapping(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodGet, "/api/mapping/cities", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var cities struct {
		Cities []datasource.City `json:"cities"`
		Count  int               `json:"count"`
	}
	if err := json.Unmarshal(body, &cities); err != nil {
		t.Fatalf("Failed to unmarshal cities: %v", err)
	}
	if cities.Count != 1 || cities.Cities[0].Name != "Shanghai" {
		t.Errorf("Unexpected cities: %+v", cities)
	}

	status, body = env.do(t, http.MethodGet, "/api/mapping/stores", nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var stores struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &stores); err != nil {
		t.Fatalf("Failed to unmarshal stores: %v", err)
	}
	if stores.Count != 2 {
		t.Errorf("Expected 2 stores, got %d", stores.Count)
	}
}

func TestHandler_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/forecast", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func jsonNumber(id int64) string {
	data, _ := json.Marshal(id)
	return string(data)
}
