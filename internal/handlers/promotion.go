package handlers

import (
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/gofiber/fiber/v2"
)

// CreatePromotion stores a promotion event
// POST /api/promotions
func (h *Handler) CreatePromotion(c *fiber.Ctx) error {
	var req models.PromotionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	p, err := h.promotionService.Create(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// UpdatePromotion replaces a promotion event
// PUT /api/promotions/:id
func (h *Handler) UpdatePromotion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}

	var req models.PromotionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	p, err := h.promotionService.Update(c.UserContext(), id, &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(p)
}

// DeletePromotion removes a promotion event
// DELETE /api/promotions/:id
func (h *Handler) DeletePromotion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}

	if err := h.promotionService.Delete(c.UserContext(), id); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(models.DeleteResponse{ID: id, Deleted: true})
}

// GetPromotion returns one promotion event
// GET /api/promotions/:id
func (h *Handler) GetPromotion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}

	p, err := h.promotionService.Get(c.UserContext(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(p)
}

// ListPromotions lists promotion events
// GET /api/promotions?store_id=&product_id=&category_id=&start_date=&end_date=&active_on=
func (h *Handler) ListPromotions(c *fiber.Ctx) error {
	var q models.PromotionListQuery
	if err := c.QueryParser(&q); err != nil {
		return h.respondError(c, services.NewServiceError(services.CodeInvalidRequest, "Invalid query parameters: "+err.Error()))
	}

	list, err := h.promotionService.List(c.UserContext(), &q)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"promotions": list,
		"count":      len(list),
	})
}

// AnalyzePromotions reports historical promotion effectiveness
// POST /api/promotions/analyze
func (h *Handler) AnalyzePromotions(c *fiber.Ctx) error {
	var req models.AnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	resp, err := h.promotionService.Analyze(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(resp)
}

// RecommendPromotions suggests discounts
// POST /api/promotions/recommend
func (h *Handler) RecommendPromotions(c *fiber.Ctx) error {
	var req models.RecommendRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c, err)
		}
	}

	resp, err := h.promotionService.Recommend(c.UserContext(), &req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(resp)
}
