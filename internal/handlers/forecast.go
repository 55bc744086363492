package handlers

import (
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/gofiber/fiber/v2"
)

// Forecast handles single-entity forecast requests
// POST /api/forecast
func (h *Handler) Forecast(c *fiber.Ctx) error {
	var req models.ForecastRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	resp, err := h.forecastService.Forecast(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(resp)
}

// ForecastBatch handles multi-entity forecast requests. Per-entity failures
// are part of a 200 response.
// POST /api/forecast/batch
func (h *Handler) ForecastBatch(c *fiber.Ctx) error {
	var req models.BatchForecastRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	resp, err := h.forecastService.Batch(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(resp)
}

// Precomputed serves a forecast written by a precompute job
// GET /api/forecast/precomputed?city_id=&store_id=&product_id=&horizon=
func (h *Handler) Precomputed(c *fiber.Ctx) error {
	var q models.PrecomputedQuery
	if err := c.QueryParser(&q); err != nil {
		return h.respondError(c, services.NewServiceError(services.CodeInvalidRequest, "Invalid query parameters: "+err.Error()))
	}

	entry, err := h.forecastService.Precomputed(c.UserContext(), &q)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(entry)
}

// EnqueueJob queues a precompute job
// POST /api/forecast/jobs
func (h *Handler) EnqueueJob(c *fiber.Ctx) error {
	if h.precomputeService == nil {
		return h.respondError(c, services.NewServiceError(services.CodeQueueUnavailable, errQueueDisabled.Error()))
	}

	var req models.JobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c, err)
		}
	}

	job, err := h.precomputeService.Enqueue(c.UserContext(), models.JobSourceAPI, req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(models.JobAccepted{
		JobID:   job.ID,
		Subject: h.precomputeService.Subject(),
		Status:  "queued",
	})
}
