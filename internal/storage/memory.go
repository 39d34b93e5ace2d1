package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tracker/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and scenarios where data
// persistence is not required. It provides fast access but data is lost on restart.
type MemoryStorage struct {
	mu               sync.RWMutex
	orders           map[string]*models.Order // keyed by order ID
	byOrderNumber    map[string]string        // order number -> order ID
	byTrackingNumber map[string]string        // tracking number -> order ID
	customers        map[string]*models.Customer
	byAccessCode     map[string]string // access code -> customer ID
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		orders:           make(map[string]*models.Order),
		byOrderNumber:    make(map[string]string),
		byTrackingNumber: make(map[string]string),
		customers:        make(map[string]*models.Customer),
		byAccessCode:     make(map[string]string),
	}, nil
}

// CreateOrder stores a new order with its shipment and items
func (m *MemoryStorage) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.Shipment == nil {
		return fmt.Errorf("order %s has no shipment", order.OrderNumber)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return fmt.Errorf("order %s: %w", order.ID, ErrConflict)
	}
	if _, exists := m.byOrderNumber[order.OrderNumber]; exists {
		return fmt.Errorf("order number %s: %w", order.OrderNumber, ErrConflict)
	}
	if _, exists := m.byTrackingNumber[order.Shipment.TrackingNumber]; exists {
		return fmt.Errorf("tracking number %s: %w", order.Shipment.TrackingNumber, ErrConflict)
	}

	// Store a copy to prevent external modification
	stored := cloneOrder(order)
	stored.Shipment.SortEvents()
	m.orders[stored.ID] = stored
	m.byOrderNumber[stored.OrderNumber] = stored.ID
	m.byTrackingNumber[stored.Shipment.TrackingNumber] = stored.ID

	return nil
}

// GetOrderByTrackingNumber retrieves an order by its shipment's tracking number
func (m *MemoryStorage) GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.byTrackingNumber[trackingNumber]
	if !exists {
		return nil, fmt.Errorf("order with tracking number %s: %w", trackingNumber, ErrNotFound)
	}

	return cloneOrder(m.orders[id]), nil
}

// OrdersByCustomer returns a customer's orders, newest first
func (m *MemoryStorage) OrdersByCustomer(ctx context.Context, customerID string) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Order, 0)
	for _, order := range m.orders {
		if order.CustomerID == customerID {
			result = append(result, cloneOrder(order))
		}
	}

	sortOrdersNewestFirst(result)
	return result, nil
}

// SaveCustomer stores or updates a customer
func (m *MemoryStorage) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ownerID, exists := m.byAccessCode[customer.AccessCode]; exists && ownerID != customer.ID {
		return fmt.Errorf("access code %s: %w", customer.AccessCode, ErrConflict)
	}

	if existing, exists := m.customers[customer.ID]; exists {
		delete(m.byAccessCode, existing.AccessCode)
	}

	m.customers[customer.ID] = cloneCustomer(customer)
	m.byAccessCode[customer.AccessCode] = customer.ID
	return nil
}

// GetCustomerByAccessCode retrieves a customer by access code
func (m *MemoryStorage) GetCustomerByAccessCode(ctx context.Context, accessCode string) (*models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.byAccessCode[accessCode]
	if !exists {
		return nil, fmt.Errorf("customer with access code %s: %w", accessCode, ErrNotFound)
	}

	return cloneCustomer(m.customers[id]), nil
}

// AddTrackingEvent appends an event and updates the shipment status
func (m *MemoryStorage) AddTrackingEvent(ctx context.Context, trackingNumber string, event *models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, exists := m.byTrackingNumber[trackingNumber]
	if !exists {
		return fmt.Errorf("shipment %s: %w", trackingNumber, ErrNotFound)
	}

	applyTrackingEvent(m.orders[id].Shipment, event)
	return nil
}

// Ping always succeeds for in-memory storage
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}

// applyTrackingEvent appends event to s in event time order and makes its
// status the shipment status.
func applyTrackingEvent(s *models.Shipment, event *models.TrackingEvent) {
	s.Events = append(s.Events, *event)
	s.SortEvents()
	s.Status = event.Status
	s.UpdatedAt = nowUTC()
}

func sortOrdersNewestFirst(orders []*models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[j].CreatedAt.Before(orders[i].CreatedAt)
	})
}
