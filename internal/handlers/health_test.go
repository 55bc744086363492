package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/gofiber/fiber/v2"
)

func TestHandler_Health(t *testing.T) {
	handler := New(logging.NewNop(), &services.ForecastService{}, nil, nil, nil)

	app := fiber.New()
	app.Get("/health", handler.Health)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status %d, got %d", fiber.StatusOK, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	var healthResp models.HealthResponse
	if err := json.Unmarshal(body, &healthResp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if healthResp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", healthResp.Status)
	}
	if healthResp.Version != Version {
		t.Errorf("Expected version '%s', got '%s'", Version, healthResp.Version)
	}
	if healthResp.Timestamp == "" {
		t.Error("Expected non-empty timestamp")
	}
	if healthResp.UptimeSeconds < 0 {
		t.Errorf("Expected non-negative uptime, got %d", healthResp.UptimeSeconds)
	}
	if got := healthResp.Components["forecast"]; got != componentEnabled {
		t.Errorf("Expected forecast component enabled, got %q", got)
	}
	if got := healthResp.Components["precompute"]; got != componentDisabled {
		t.Errorf("Expected precompute component disabled, got %q", got)
	}
}

func TestHandler_NotFound(t *testing.T) {
	handler := &Handler{logger: logging.NewNop()}

	app := fiber.New()
	app.Use(handler.NotFound)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/unknown", nil))
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status %d, got %d", fiber.StatusNotFound, resp.StatusCode)
	}

	var errResp models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if errResp.Error.Code != "NOT_FOUND" {
		t.Errorf("Expected error code 'NOT_FOUND', got '%s'", errResp.Error.Code)
	}
	if errResp.Error.Path != "/api/v1/unknown" {
		t.Errorf("Expected path '/api/v1/unknown', got '%s'", errResp.Error.Path)
	}
}
