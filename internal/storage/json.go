package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tracker/internal/models"
)

// JSONStorage implements the Storage interface using a JSON file for persistence.
// It keeps an in-memory copy for reads and rewrites the whole file on every
// change. Edits made to the file by hand are picked up once the cache expires.
type JSONStorage struct {
	filePath     string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Customers   []*models.Customer `json:"customers"`
	Orders      []*jsonOrder       `json:"orders"`
	LastUpdated time.Time          `json:"last_updated"`
}

// jsonOrder stores the carrier next to the order because the public JSON
// form of a shipment omits it.
type jsonOrder struct {
	Order   *models.Order `json:"order"`
	Carrier string        `json:"carrier"`
}

func (o *jsonOrder) toModel() *models.Order {
	order := cloneOrder(o.Order)
	if order.Shipment != nil {
		order.Shipment.Carrier = o.Carrier
	}
	return order
}

func newJSONOrder(order *models.Order) *jsonOrder {
	stored := &jsonOrder{Order: cloneOrder(order)}
	if order.Shipment != nil {
		stored.Carrier = order.Shipment.Carrier
	}
	return stored
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	cacheTTL := config.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	storage := &JSONStorage{
		filePath: config.Path,
		cacheTTL: cacheTTL,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	// Load initial data
	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		// Create directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		emptyData := &JSONData{
			Customers: []*models.Customer{},
			Orders:    []*jsonOrder{},
		}

		return j.saveData(emptyData)
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	// Fast path: cache is still valid.
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reloadLocked()
}

// reloadLocked refreshes the cache from disk if it has expired and the file
// changed. Caller holds the write lock.
func (j *JSONStorage) reloadLocked() error {
	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to a temporary file and renames it into place so a
// crash never leaves a truncated file behind.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// mutate runs fn against fresh data under the write lock and persists the
// result when fn succeeds.
func (j *JSONStorage) mutate(fn func(data *JSONData) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.reloadLocked(); err != nil {
		return err
	}
	if err := fn(j.data); err != nil {
		return err
	}
	return j.saveData(j.data)
}

// CreateOrder stores a new order with its shipment and items
func (j *JSONStorage) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.Shipment == nil {
		return fmt.Errorf("order %s has no shipment", order.OrderNumber)
	}

	return j.mutate(func(data *JSONData) error {
		for _, existing := range data.Orders {
			switch {
			case existing.Order.ID == order.ID:
				return fmt.Errorf("order %s: %w", order.ID, ErrConflict)
			case existing.Order.OrderNumber == order.OrderNumber:
				return fmt.Errorf("order number %s: %w", order.OrderNumber, ErrConflict)
			case existing.Order.Shipment != nil && existing.Order.Shipment.TrackingNumber == order.Shipment.TrackingNumber:
				return fmt.Errorf("tracking number %s: %w", order.Shipment.TrackingNumber, ErrConflict)
			}
		}

		stored := newJSONOrder(order)
		stored.Order.Shipment.SortEvents()
		data.Orders = append(data.Orders, stored)
		return nil
	})
}

// GetOrderByTrackingNumber retrieves an order by its shipment's tracking number
func (j *JSONStorage) GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, stored := range j.data.Orders {
		if stored.Order.Shipment != nil && stored.Order.Shipment.TrackingNumber == trackingNumber {
			return stored.toModel(), nil
		}
	}

	return nil, fmt.Errorf("order with tracking number %s: %w", trackingNumber, ErrNotFound)
}

// OrdersByCustomer returns a customer's orders, newest first
func (j *JSONStorage) OrdersByCustomer(ctx context.Context, customerID string) ([]*models.Order, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([]*models.Order, 0)
	for _, stored := range j.data.Orders {
		if stored.Order.CustomerID == customerID {
			result = append(result, stored.toModel())
		}
	}

	sortOrdersNewestFirst(result)
	return result, nil
}

// SaveCustomer stores or updates a customer
func (j *JSONStorage) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	return j.mutate(func(data *JSONData) error {
		idx := -1
		for i, existing := range data.Customers {
			if existing.AccessCode == customer.AccessCode && existing.ID != customer.ID {
				return fmt.Errorf("access code %s: %w", customer.AccessCode, ErrConflict)
			}
			if existing.ID == customer.ID {
				idx = i
			}
		}

		if idx >= 0 {
			data.Customers[idx] = cloneCustomer(customer)
		} else {
			data.Customers = append(data.Customers, cloneCustomer(customer))
		}
		return nil
	})
}

// GetCustomerByAccessCode retrieves a customer by access code
func (j *JSONStorage) GetCustomerByAccessCode(ctx context.Context, accessCode string) (*models.Customer, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, customer := range j.data.Customers {
		if customer.AccessCode == accessCode {
			return cloneCustomer(customer), nil
		}
	}

	return nil, fmt.Errorf("customer with access code %s: %w", accessCode, ErrNotFound)
}

// AddTrackingEvent appends an event and updates the shipment status
func (j *JSONStorage) AddTrackingEvent(ctx context.Context, trackingNumber string, event *models.TrackingEvent) error {
	return j.mutate(func(data *JSONData) error {
		for _, stored := range data.Orders {
			if stored.Order.Shipment != nil && stored.Order.Shipment.TrackingNumber == trackingNumber {
				applyTrackingEvent(stored.Order.Shipment, event)
				return nil
			}
		}
		return fmt.Errorf("shipment %s: %w", trackingNumber, ErrNotFound)
	})
}

// Ping checks that the backing file is still readable
func (j *JSONStorage) Ping(ctx context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

// Close is a no-op for JSON storage
func (j *JSONStorage) Close() error {
	return nil
}
