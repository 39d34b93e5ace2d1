package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tracker/internal/models"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStorage implements the Storage interface on a single SQLite file.
// Timestamps are stored as UTC text in dbTimeLayout.
type SQLiteStorage struct {
	db *sql.DB
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStorage opens the database, applies the schema and returns the
// storage. ConnectionString wins over Path when both are set.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	dsn := config.ConnectionString
	if dsn == "" {
		dsn = config.Path
	}
	if dsn == "" {
		return nil, fmt.Errorf("connection string or path is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time avoids SQLITE_BUSY under concurrent requests.
	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// sqliteDSN enables foreign keys and a busy timeout unless the caller already
// passed pragmas.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// isSQLiteConflict reports whether err is a unique or primary key violation.
func isSQLiteConflict(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// CreateOrder stores a new order with its shipment and items in one transaction
func (ss *SQLiteStorage) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.Shipment == nil {
		return fmt.Errorf("order %s has no shipment", order.OrderNumber)
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, customer_name, customer_phone,
			from_country, to_country, customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OrderNumber, order.CustomerName, order.CustomerPhone,
		order.FromCountry, order.ToCountry, stringToNull(order.CustomerID),
		formatDBTime(order.CreatedAt), formatDBTime(order.UpdatedAt))
	if err != nil {
		if isSQLiteConflict(err) {
			return fmt.Errorf("order %s: %w", order.OrderNumber, ErrConflict)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (id, order_id, position, name, quantity, price_aed, price_mru, weight_kg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, order.ID, i, item.Name, item.Quantity, item.PriceAED, item.PriceMRU, item.WeightKg)
		if err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
		}
	}

	s := order.Shipment
	_, err = tx.ExecContext(ctx, `
		INSERT INTO shipments (id, order_id, tracking_number, carrier, service_level,
			status, estimated_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, order.ID, s.TrackingNumber, s.Carrier, s.ServiceLevel, s.Status,
		nullTimeToString(s.EstimatedDate), formatDBTime(s.CreatedAt), formatDBTime(s.UpdatedAt))
	if err != nil {
		if isSQLiteConflict(err) {
			return fmt.Errorf("tracking number %s: %w", s.TrackingNumber, ErrConflict)
		}
		return fmt.Errorf("failed to insert shipment: %w", err)
	}

	for i := range s.Events {
		if err := insertSQLiteEvent(ctx, tx, s.ID, &s.Events[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

func insertSQLiteEvent(ctx context.Context, q sqlQuerier, shipmentID string, e *models.TrackingEvent) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tracking_events (id, shipment_id, status, location, description, event_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, shipmentID, e.Status, e.Location, e.Description, formatDBTime(e.EventTime))
	if err != nil {
		if isSQLiteConflict(err) {
			return fmt.Errorf("tracking event %s: %w", e.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert tracking event: %w", err)
	}
	return nil
}

const sqliteOrderColumns = `id, order_number, customer_name, customer_phone,
	from_country, to_country, customer_id, created_at, updated_at`

// GetOrderByTrackingNumber retrieves an order by its shipment's tracking number
func (ss *SQLiteStorage) GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error) {
	orders, err := ss.queryOrders(ctx, `
		SELECT `+sqliteOrderColumns+` FROM orders
		WHERE id = (SELECT order_id FROM shipments WHERE tracking_number = ?)`,
		trackingNumber)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("order with tracking number %s: %w", trackingNumber, ErrNotFound)
	}
	return orders[0], nil
}

// OrdersByCustomer returns a customer's orders, newest first
func (ss *SQLiteStorage) OrdersByCustomer(ctx context.Context, customerID string) ([]*models.Order, error) {
	return ss.queryOrders(ctx, `
		SELECT `+sqliteOrderColumns+` FROM orders
		WHERE customer_id = ?
		ORDER BY created_at DESC, rowid DESC`,
		customerID)
}

// queryOrders loads the matching order rows and then their items, shipment and events.
func (ss *SQLiteStorage) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	orders := make([]*models.Order, 0)
	for rows.Next() {
		var (
			o                    models.Order
			customerID           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.CustomerName, &o.CustomerPhone,
			&o.FromCountry, &o.ToCountry, &customerID, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.CustomerID = customerID.String
		if o.CreatedAt, err = parseDBTime(createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		if o.UpdatedAt, err = parseDBTime(updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	rows.Close()

	// Children are loaded after the cursor is closed since the pool may hold
	// a single connection.
	for _, o := range orders {
		if err := ss.loadChildren(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (ss *SQLiteStorage) loadChildren(ctx context.Context, o *models.Order) error {
	items, err := ss.loadItems(ctx, o.ID)
	if err != nil {
		return err
	}
	o.Items = items

	var (
		s                    models.Shipment
		estimated            sql.NullString
		createdAt, updatedAt string
	)
	err = ss.db.QueryRowContext(ctx, `
		SELECT id, tracking_number, carrier, service_level, status, estimated_date, created_at, updated_at
		FROM shipments WHERE order_id = ?`, o.ID).
		Scan(&s.ID, &s.TrackingNumber, &s.Carrier, &s.ServiceLevel, &s.Status, &estimated, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load shipment for order %s: %w", o.ID, err)
	}
	if s.EstimatedDate, err = nullStringToTime(estimated); err != nil {
		return err
	}
	if s.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return err
	}
	if s.UpdatedAt, err = parseDBTime(updatedAt); err != nil {
		return err
	}
	if s.Events, err = ss.loadEvents(ctx, s.ID); err != nil {
		return err
	}
	o.Shipment = &s
	return nil
}

func (ss *SQLiteStorage) loadItems(ctx context.Context, orderID string) ([]models.Item, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT id, name, quantity, price_aed, price_mru, weight_kg
		FROM items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &it.PriceAED, &it.PriceMRU, &it.WeightKg); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (ss *SQLiteStorage) loadEvents(ctx context.Context, shipmentID string) ([]models.TrackingEvent, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT id, status, location, description, event_time
		FROM tracking_events WHERE shipment_id = ? ORDER BY event_time, rowid`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracking events: %w", err)
	}
	defer rows.Close()

	events := make([]models.TrackingEvent, 0)
	for rows.Next() {
		var (
			e         models.TrackingEvent
			eventTime string
		)
		if err := rows.Scan(&e.ID, &e.Status, &e.Location, &e.Description, &eventTime); err != nil {
			return nil, fmt.Errorf("failed to scan tracking event: %w", err)
		}
		if e.EventTime, err = parseDBTime(eventTime); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveCustomer stores or updates a customer
func (ss *SQLiteStorage) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO customers (id, phone_e164, access_code, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			phone_e164 = excluded.phone_e164,
			access_code = excluded.access_code`,
		customer.ID, customer.PhoneE164, customer.AccessCode, formatDBTime(customer.CreatedAt))
	if err != nil {
		if isSQLiteConflict(err) {
			return fmt.Errorf("access code %s: %w", customer.AccessCode, ErrConflict)
		}
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// GetCustomerByAccessCode retrieves a customer by access code
func (ss *SQLiteStorage) GetCustomerByAccessCode(ctx context.Context, accessCode string) (*models.Customer, error) {
	var (
		c         models.Customer
		createdAt string
	)
	err := ss.db.QueryRowContext(ctx, `
		SELECT id, phone_e164, access_code, created_at FROM customers WHERE access_code = ?`,
		accessCode).Scan(&c.ID, &c.PhoneE164, &c.AccessCode, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer with access code %s: %w", accessCode, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	if c.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// AddTrackingEvent appends an event and updates the shipment status in one transaction
func (ss *SQLiteStorage) AddTrackingEvent(ctx context.Context, trackingNumber string, event *models.TrackingEvent) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var shipmentID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM shipments WHERE tracking_number = ?`, trackingNumber).
		Scan(&shipmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("shipment %s: %w", trackingNumber, ErrNotFound)
		}
		return fmt.Errorf("failed to find shipment: %w", err)
	}

	if err := insertSQLiteEvent(ctx, tx, shipmentID, event); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE shipments SET status = ?, updated_at = ? WHERE id = ?`,
		event.Status, formatDBTime(nowUTC()), shipmentID)
	if err != nil {
		return fmt.Errorf("failed to update shipment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tracking event: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
