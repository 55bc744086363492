package middleware

import (
	"errors"

	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/models"
	"github.com/freshretail/freshcast/internal/services"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders errors that escape handlers, including recovered
// panics, in the standard error envelope. Service errors keep their code and
// mapped status; fiber errors keep their status.
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		detail := models.ErrorDetail{
			Code:    services.CodeInternal,
			Message: "Internal Server Error",
			Path:    c.Path(),
		}

		var fe *fiber.Error
		var se *services.ServiceError
		switch {
		case errors.As(err, &se):
			status = services.StatusCode(se.Code)
			detail.Code, detail.Message, detail.Details = se.Code, se.Message, se.Details
		case errors.As(err, &fe):
			status = fe.Code
			detail.Code, detail.Message = codeForStatus(fe.Code), fe.Message
		}

		log := logging.FromContext(c.UserContext())
		if log == logging.Global() {
			log = logger
		}
		fields := []interface{}{"path", c.Path(), "method", c.Method(), "status", status, "error", err}
		if status >= fiber.StatusInternalServerError {
			log.Error("Request error", fields...)
		} else {
			log.Warn("Request error", fields...)
		}

		return c.Status(status).JSON(models.ErrorResponse{Error: detail})
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return services.CodeInvalidRequest
	case fiber.StatusUnauthorized:
		return CodeUnauthorized
	case fiber.StatusNotFound:
		return services.CodeNotFound
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusServiceUnavailable:
		return services.CodeDataUnavailable
	case fiber.StatusGatewayTimeout:
		return services.CodeTimeout
	}
	if status >= fiber.StatusInternalServerError {
		return services.CodeInternal
	}
	return "ERROR"
}
