package tracking

import (
	"errors"
	"fmt"
	"net/http"

	"tracker/internal/models"
)

// ServiceError represents errors from the tracking service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Fields returns the per-field messages when the error wraps a
// *models.ValidationError.
func (e *ServiceError) Fields() map[string]string {
	var ve *models.ValidationError
	if errors.As(e.Err, &ve) {
		return ve.Fields
	}
	return nil
}

// Error constructors for common service errors

func NewInvalidFormatError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidFormat,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewOrderNotFoundError() *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeOrderNotFound,
		Message:    "Order Not found",
		StatusCode: http.StatusNotFound,
	}
}

func NewCustomerNotFoundError() *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeCustomerNotFound,
		Message:    "Not found",
		StatusCode: http.StatusNotFound,
	}
}

func NewShipmentNotFoundError() *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeShipmentNotFound,
		Message:    "Shipment not found",
		StatusCode: http.StatusNotFound,
	}
}

func NewConflictError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
