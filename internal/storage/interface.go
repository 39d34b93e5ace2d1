package storage

import (
	"context"
	"time"

	"tracker/internal/models"
)

// Storage defines the interface for order and shipment persistence.
// Implementations return ErrNotFound for missing records and ErrConflict for
// duplicate unique keys (order number, tracking number, access code).
//
// Returned values are copies: callers may modify them freely.
type Storage interface {
	// CreateOrder inserts an order with its items, shipment and any initial
	// tracking events as one unit. All IDs must already be set.
	CreateOrder(ctx context.Context, order *models.Order) error

	// GetOrderByTrackingNumber returns the order whose shipment has the given
	// tracking number, with events in ascending event time order.
	GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error)

	// OrdersByCustomer returns a customer's orders, newest first.
	OrdersByCustomer(ctx context.Context, customerID string) ([]*models.Order, error)

	// SaveCustomer creates a customer or updates the one with the same ID.
	SaveCustomer(ctx context.Context, customer *models.Customer) error

	// GetCustomerByAccessCode retrieves a customer by access code.
	GetCustomerByAccessCode(ctx context.Context, accessCode string) (*models.Customer, error)

	// AddTrackingEvent appends an event to the shipment with the given
	// tracking number and sets the shipment status to the event status in
	// the same transaction.
	AddTrackingEvent(ctx context.Context, trackingNumber string, event *models.TrackingEvent) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// CacheTTL specifies how long the JSON backend trusts its in-memory copy
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	// Connection pool settings for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`
}
