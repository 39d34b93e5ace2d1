package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tracker/internal/models"
	"tracker/internal/tracking"
	"tracker/internal/version"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains HTTP handlers for the tracker API and pages
type Handlers struct {
	service   tracking.ServiceInterface
	limiter   Pinger
	pages     *Pages
	version   version.Info
	startTime time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithVersion sets the build information reported by the health endpoint.
func WithVersion(info version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = info
	}
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WithLimiterHealth adds the lookup limiter's store to the health check.
// Lookups stay available when it is down but are no longer limited, so the
// service reports itself degraded.
func WithLimiterHealth(p Pinger) HandlerOption {
	return func(h *Handlers) {
		h.limiter = p
	}
}

// WithPages enables the server-rendered tracking pages.
func WithPages(p *Pages) HandlerOption {
	return func(h *Handlers) {
		h.pages = p
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(service tracking.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		service:   service,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LookupOrder handles tracking number lookups
// GET /api/orders/{trackingNumber}
func (h *Handlers) LookupOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.LookupOrder(r.Context(), mux.Vars(r)["trackingNumber"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CustomerHistory handles access code lookups
// GET /api/history/{accessCode}
func (h *Handlers) CustomerHistory(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.CustomerHistory(r.Context(), mux.Vars(r)["accessCode"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateOrder handles order creation
// POST /api/orders
// Requires the admin API key
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.CreateOrder(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Admin created order",
		"order_number", req.OrderNumber,
		"client_ip", clientIP(r))

	h.writeJSONResponse(w, http.StatusCreated, resp)
}

// AddEvent appends a tracking event to a shipment
// POST /api/shipments/{trackingNumber}/events
// Requires the admin API key
func (h *Handlers) AddEvent(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	event, err := h.service.AddEvent(r.Context(), mux.Vars(r)["trackingNumber"], &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, struct {
		OK    bool                  `json:"ok"`
		Event *models.TrackingEvent `json:"event"`
	}{OK: true, Event: event})
}

// HealthCheck handles health check requests. Storage failure makes the
// service unhealthy (503); a failing limiter store only degrades it.
// GET /health, GET /api/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	status := http.StatusOK
	if err := h.service.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Storage health check failed", "error", err)
		response.Status = models.StatusUnhealthy
		response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
		status = http.StatusServiceUnavailable
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}
	if h.limiter != nil {
		if err := h.limiter.Ping(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "Rate limiter health check failed, lookups are unlimited", "error", err)
			if response.Status == models.StatusHealthy {
				response.Status = models.StatusDegraded
			}
			response.AddComponent("rate_limiter", models.StatusUnhealthy, "Rate limiter store is unreachable")
		} else {
			response.AddComponent("rate_limiter", models.StatusHealthy, "Rate limiter is operational")
		}
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	h.writeJSONResponse(w, status, response)
}

// decodeJSON reads a JSON body into dst, writing a 400 and returning false
// when the body is missing, malformed or has unknown fields.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response tagged with the request ID
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	writeError(w, r, statusCode, errorCode, message)
}

// writeServiceError maps a tracking.ServiceError to its HTTP form. Anything
// else is reported as a 500 without leaking its text.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *tracking.ServiceError
	if !errors.As(err, &svcErr) {
		slog.ErrorContext(r.Context(), "Unexpected service error", "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	if svcErr.StatusCode >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Service error", "code", svcErr.Code, "error", svcErr)
		h.writeErrorResponse(w, r, svcErr.StatusCode, svcErr.Code, "Internal server error")
		return
	}

	resp := models.NewErrorResponse(svcErr.Message, svcErr.Code)
	resp.Details = svcErr.Fields()
	resp.RequestID = models.RequestIDFromContext(r.Context())
	h.writeJSONResponse(w, svcErr.StatusCode, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written, so only log.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = models.RequestIDFromContext(r.Context())
	writeJSON(w, statusCode, errorResp)
}
