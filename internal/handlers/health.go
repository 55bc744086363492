package handlers

import (
	"time"

	"github.com/freshretail/freshcast/internal/models"
	"github.com/gofiber/fiber/v2"
)

const (
	componentEnabled  = "enabled"
	componentDisabled = "disabled"
)

// Health reports liveness. It never touches the warehouse so load balancers
// keep routing while a database is slow.
func (h *Handler) Health(c *fiber.Ctx) error {
	components := map[string]string{
		"forecast":   componentState(h.forecastService != nil),
		"precompute": componentState(h.precomputeService != nil),
		"promotions": componentState(h.promotionService != nil),
		"analytics":  componentState(h.analyticsService != nil),
	}

	var uptime int64
	if !h.started.IsZero() {
		uptime = int64(time.Since(h.started).Seconds())
	}

	return c.JSON(models.HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       Version,
		UptimeSeconds: uptime,
		Components:    components,
	})
}

func componentState(ok bool) string {
	if ok {
		return componentEnabled
	}
	return componentDisabled
}

// NotFound answers any route the router does not know.
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "Route not found",
			Path:    c.Path(),
		},
	})
}
