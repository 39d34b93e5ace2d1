// Package tracking holds the order and shipment business logic between the
// HTTP handlers and storage.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tracker/internal/models"
	"tracker/internal/storage"
)

// Service handles order lookup, customer history and admin writes.
type Service struct {
	storage storage.Storage
	now     func() time.Time
	newID   func() string
}

// NewService creates a new tracking service with the given storage backend
func NewService(store storage.Storage) *Service {
	return &Service{
		storage: store,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// LookupOrder validates the tracking number format and returns the matching order.
func (s *Service) LookupOrder(ctx context.Context, trackingNumber string) (*models.OrderResponse, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if !models.IsValidTrackingNumber(trackingNumber) {
		return nil, NewInvalidFormatError("Invalid tracking number format")
	}

	order, err := s.storage.GetOrderByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewOrderNotFoundError()
		}
		return nil, NewInternalError("failed to look up order", err)
	}

	return models.NewOrderResponse(order), nil
}

// CustomerHistory validates the access code format and returns the customer
// with their orders, newest first.
func (s *Service) CustomerHistory(ctx context.Context, accessCode string) (*models.HistoryResponse, error) {
	accessCode = strings.TrimSpace(accessCode)
	if !models.IsValidAccessCode(accessCode) {
		return nil, NewInvalidFormatError("Invalid access code format")
	}

	customer, err := s.storage.GetCustomerByAccessCode(ctx, accessCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewCustomerNotFoundError()
		}
		return nil, NewInternalError("failed to look up customer", err)
	}

	orders, err := s.storage.OrdersByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, NewInternalError("failed to list orders", err)
	}

	return models.NewHistoryResponse(customer, orders), nil
}

// CreateOrder stores a new order with one shipment. The carrier is recorded
// as hidden. When the request carries an access code the order is linked to
// that customer, who is created on first use.
func (s *Service) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.OrderResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	now := s.now()

	var customerID string
	if req.AccessCode != "" {
		customer, err := s.ensureCustomer(ctx, req.AccessCode, req.CustomerPhone, now)
		if err != nil {
			return nil, err
		}
		customerID = customer.ID
	}

	items := make([]models.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.Item{
			ID:       s.newID(),
			Name:     it.Name,
			Quantity: it.Quantity,
			PriceAED: *it.PriceAED,
			PriceMRU: *it.PriceMRU,
			WeightKg: *it.WeightKg,
		})
	}

	order := &models.Order{
		ID:            s.newID(),
		OrderNumber:   req.OrderNumber,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		FromCountry:   req.FromCountry,
		ToCountry:     req.ToCountry,
		CustomerID:    customerID,
		Items:         items,
		Shipment: &models.Shipment{
			ID:             s.newID(),
			TrackingNumber: req.TrackingNumber,
			Carrier:        models.CarrierHidden,
			ServiceLevel:   req.ServiceLevel,
			Status:         req.Status,
			EstimatedDate:  req.EstimatedTime(),
			Events:         []models.TrackingEvent{},
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, NewConflictError("Order number or tracking number already exists", err)
		}
		return nil, NewInternalError("failed to create order", err)
	}

	slog.InfoContext(ctx, "Order created",
		"order_number", order.OrderNumber,
		"tracking_number", order.Shipment.TrackingNumber,
		"items", len(order.Items))

	return models.NewOrderResponse(order), nil
}

func (s *Service) ensureCustomer(ctx context.Context, accessCode, phone string, now time.Time) (*models.Customer, error) {
	customer, err := s.storage.GetCustomerByAccessCode(ctx, accessCode)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, NewInternalError("failed to look up customer", err)
	}

	customer = &models.Customer{
		ID:         s.newID(),
		PhoneE164:  phone,
		AccessCode: accessCode,
		CreatedAt:  now,
	}
	if err := s.storage.SaveCustomer(ctx, customer); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			return nil, NewInternalError("failed to create customer", err)
		}
		// Another request created the customer first.
		existing, getErr := s.storage.GetCustomerByAccessCode(ctx, accessCode)
		if getErr != nil {
			return nil, NewInternalError("failed to look up customer", getErr)
		}
		return existing, nil
	}
	return customer, nil
}

// AddEvent appends a tracking event to the shipment and sets the shipment
// status to the event status.
func (s *Service) AddEvent(ctx context.Context, trackingNumber string, req *models.CreateEventRequest) (*models.TrackingEvent, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	event := &models.TrackingEvent{
		ID:          s.newID(),
		Status:      req.Status,
		Location:    req.Location,
		Description: req.Description,
		EventTime:   req.Time(s.now()),
	}

	trackingNumber = strings.TrimSpace(trackingNumber)
	if err := s.storage.AddTrackingEvent(ctx, trackingNumber, event); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewShipmentNotFoundError()
		}
		return nil, NewInternalError("failed to add tracking event", err)
	}

	slog.InfoContext(ctx, "Tracking event added",
		"tracking_number", trackingNumber,
		"status", event.Status)

	return event, nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}
