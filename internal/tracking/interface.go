package tracking

import (
	"context"

	"tracker/internal/models"
)

// ServiceInterface defines the operations the HTTP layer needs from the
// tracking service.
type ServiceInterface interface {
	// LookupOrder returns the order whose shipment has the given tracking number.
	LookupOrder(ctx context.Context, trackingNumber string) (*models.OrderResponse, error)

	// CustomerHistory returns a customer's orders, newest first.
	CustomerHistory(ctx context.Context, accessCode string) (*models.HistoryResponse, error)

	// CreateOrder validates the request and stores a new order with its shipment.
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.OrderResponse, error)

	// AddEvent appends a tracking event and moves the shipment to its status.
	AddEvent(ctx context.Context, trackingNumber string, req *models.CreateEventRequest) (*models.TrackingEvent, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
