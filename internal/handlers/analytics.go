package handlers

import (
	"github.com/freshretail/freshcast/internal/models"
	"github.com/gofiber/fiber/v2"
)

// AnalyzeStockouts estimates lost sales for one store and product
// POST /api/stockouts/analyze
func (h *Handler) AnalyzeStockouts(c *fiber.Ctx) error {
	var req models.AnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	resp, err := h.analyticsService.Stockouts(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(resp)
}

// AnalyzeHolidays measures holiday lift per product
// POST /api/holidays/analyze
func (h *Handler) AnalyzeHolidays(c *fiber.Ctx) error {
	var req models.AnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	resp, err := h.analyticsService.Holidays(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(resp)
}

// Insights builds the business insight report
// POST /api/insights
func (h *Handler) Insights(c *fiber.Ctx) error {
	var req models.AnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	resp, err := h.analyticsService.Insights(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(resp)
}

// Cities lists the city reference table
// GET /api/mapping/cities
func (h *Handler) Cities(c *fiber.Ctx) error {
	cities, err := h.analyticsService.Cities(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"cities": cities, "count": len(cities)})
}

// Stores lists the store reference table
// GET /api/mapping/stores
func (h *Handler) Stores(c *fiber.Ctx) error {
	stores, err := h.analyticsService.Stores(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"stores": stores, "count": len(stores)})
}
