// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Successful lookups carry "ok": true next to the payload
// - Errors share one structure with a human message and a machine code
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps
package models

import (
	"time"
)

// OrderResponse is the public result of a tracking number lookup.
type OrderResponse struct {
	OK    bool   `json:"ok"`
	Order *Order `json:"order"`
}

// HistoryResponse is the public result of an access code lookup. Only the
// phone number and access code of the customer are exposed.
type HistoryResponse struct {
	OK       bool            `json:"ok"`
	Customer CustomerSummary `json:"customer"`
	Orders   []*Order        `json:"orders"`
}

type CustomerSummary struct {
	PhoneE164  string `json:"phoneE164"`
	AccessCode string `json:"accessCode"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Handling Design:
// - Error is the human-readable description
// - Code is machine-readable for programmatic handling
// - Details holds field-specific validation errors
// - Request ID ties the response to server logs
type ErrorResponse struct {
	Error     string            `json:"error"`                // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
//
// Upper-case with underscores; each maps to one HTTP status.
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeOrderNotFound      = "ORDER_NOT_FOUND"     // 404: No order with that tracking number
	ErrorCodeCustomerNotFound   = "CUSTOMER_NOT_FOUND"  // 404: No customer with that access code
	ErrorCodeShipmentNotFound   = "SHIPMENT_NOT_FOUND"  // 404: No shipment with that tracking number
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Malformed request
	ErrorCodeInvalidFormat      = "INVALID_FORMAT"      // 400: Identifier has the wrong shape
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 400: Input validation failed
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Missing or wrong API key
	ErrorCodeConflict           = "CONFLICT"            // 409: Duplicate order or tracking number
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Too many requests
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewValidationErrorResponse wraps field errors in a 400 error body.
func NewValidationErrorResponse(fields map[string]string) *ErrorResponse {
	resp := NewErrorResponse("Validation failed", ErrorCodeValidation)
	resp.Details = fields
	return resp
}

func NewOrderResponse(order *Order) *OrderResponse {
	return &OrderResponse{OK: true, Order: order}
}

func NewHistoryResponse(customer *Customer, orders []*Order) *HistoryResponse {
	if orders == nil {
		orders = []*Order{}
	}
	return &HistoryResponse{
		OK: true,
		Customer: CustomerSummary{
			PhoneE164:  customer.PhoneE164,
			AccessCode: customer.AccessCode,
		},
		Orders: orders,
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
