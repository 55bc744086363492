// Package services provides the business logic layer between handlers and
// the forecasting pipeline, analyzers and stores.
package services

import (
	"context"
	"errors"

	"github.com/freshretail/freshcast/internal/analytics/forecast"
	"github.com/freshretail/freshcast/internal/datasource"
	"github.com/freshretail/freshcast/internal/forecaststore"
	"github.com/freshretail/freshcast/internal/pipeline"
	"github.com/gofiber/fiber/v2"
)

// Error codes returned to clients.
const (
	CodeDataUnavailable  = "DATA_UNAVAILABLE"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeModelFitError    = "MODEL_FIT_ERROR"
	CodeSchemaMismatch   = "SCHEMA_MISMATCH"
	CodeTimeout          = "TIMEOUT"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeQueueUnavailable = "QUEUE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

// ServiceError represents a service layer error
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewServiceError creates a new ServiceError
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: message,
	}
}

// NewServiceErrorWithDetails creates a new ServiceError with details
func NewServiceErrorWithDetails(code, message string, details map[string]interface{}) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// FromError converts pipeline, store and validation errors into a
// ServiceError. A nil err returns nil.
func FromError(err error) *ServiceError {
	if err == nil {
		return nil
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}

	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code == fiber.StatusBadRequest {
		return NewServiceError(CodeInvalidRequest, fe.Message)
	}

	if errors.Is(err, pipeline.ErrInvalidRequest) {
		return NewServiceError(CodeInvalidRequest, err.Error())
	}
	if errors.Is(err, datasource.ErrNotFound) || errors.Is(err, forecaststore.ErrNotFound) {
		return NewServiceError(CodeNotFound, err.Error())
	}

	if pe, ok := forecast.AsError(err); ok {
		switch pe.Kind {
		case forecast.DataUnavailable:
			return NewServiceError(CodeDataUnavailable, pe.Error())
		case forecast.InsufficientData:
			return NewServiceErrorWithDetails(CodeInsufficientData, pe.Error(), map[string]interface{}{
				"row_count": pe.RowCount,
				"min_rows":  pe.MinRows,
			})
		case forecast.ModelFitError:
			return NewServiceError(CodeModelFitError, pe.Error())
		case forecast.SchemaMismatch:
			return NewServiceError(CodeSchemaMismatch, pe.Error())
		case forecast.Timeout:
			return NewServiceError(CodeTimeout, pe.Error())
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewServiceError(CodeTimeout, err.Error())
	}
	return NewServiceError(CodeInternal, err.Error())
}

// StatusCode maps a service error code to an HTTP status.
func StatusCode(code string) int {
	switch code {
	case CodeInvalidRequest:
		return fiber.StatusBadRequest
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeInsufficientData:
		return fiber.StatusUnprocessableEntity
	case CodeDataUnavailable, CodeQueueUnavailable:
		return fiber.StatusServiceUnavailable
	case CodeTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// dataUnavailable wraps a failed read of the sales warehouse.
func dataUnavailable(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return forecast.WrapError(forecast.Timeout, err, "%s abandoned", what)
	}
	return forecast.WrapError(forecast.DataUnavailable, err, "%s failed", what)
}
