package handlers

import (
	"errors"
	"time"

	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/gofiber/fiber/v2"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Handler contains all HTTP handlers
type Handler struct {
	logger  *logging.Logger
	started time.Time
	// Services
	forecastService   *services.ForecastService
	precomputeService *services.PrecomputeService
	promotionService  *services.PromotionService
	analyticsService  *services.AnalyticsService
}

// New creates a new handler instance. precompute may be nil when no job
// queue is configured.
func New(logger *logging.Logger,
	forecasts *services.ForecastService,
	precompute *services.PrecomputeService,
	promotions *services.PromotionService,
	analytics *services.AnalyticsService,
) *Handler {
	return &Handler{
		logger:            logger,
		started:           time.Now(),
		forecastService:   forecasts,
		precomputeService: precompute,
		promotionService:  promotions,
		analyticsService:  analytics,
	}
}

// invalidBody reports a body that could not be parsed.
func invalidBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    services.CodeInvalidRequest,
			Message: "Invalid request body: " + err.Error(),
			Path:    c.Path(),
		},
	})
}

// respondError renders a service error with its mapped status code.
func (h *Handler) respondError(c *fiber.Ctx, err error) error {
	se := services.FromError(err)
	status := services.StatusCode(se.Code)

	log := logging.FromContext(c.UserContext())
	switch {
	case se.Code == services.CodeSchemaMismatch || status >= fiber.StatusInternalServerError:
		log.Error("Request failed", "path", c.Path(), "code", se.Code, "error", se.Message)
	default:
		log.Warn("Request rejected", "path", c.Path(), "code", se.Code, "error", se.Message)
	}

	return c.Status(status).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    se.Code,
			Message: se.Message,
			Path:    c.Path(),
			Details: se.Details,
		},
	})
}

// paramID parses a positive integer route parameter.
func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, services.NewServiceError(services.CodeInvalidRequest, name+" must be a positive integer")
	}
	return int64(id), nil
}

var errQueueDisabled = errors.New("forecast jobs are not enabled on this server")
