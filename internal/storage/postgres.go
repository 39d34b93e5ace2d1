package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"tracker/internal/models"
)

//go:embed schema/postgres.sql
var postgresSchema string

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStorage implements the Storage interface using PostgreSQL via a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and applies the schema.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func isPgConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateOrder stores a new order with its shipment and items in one transaction.
func (ps *PostgresStorage) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.Shipment == nil {
		return fmt.Errorf("order %s has no shipment", order.OrderNumber)
	}

	tx, err := ps.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, customer_name, customer_phone,
			from_country, to_country, customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.OrderNumber, order.CustomerName, order.CustomerPhone,
		order.FromCountry, order.ToCountry, stringToPgText(order.CustomerID),
		timeToPgTimestamptz(order.CreatedAt), timeToPgTimestamptz(order.UpdatedAt))
	if err != nil {
		if isPgConflict(err) {
			return fmt.Errorf("order %s: %w", order.OrderNumber, ErrConflict)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(`
			INSERT INTO items (id, order_id, position, name, quantity, price_aed, price_mru, weight_kg)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, order.ID, i, item.Name, item.Quantity, item.PriceAED, item.PriceMRU, item.WeightKg)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert items: %w", err)
	}

	s := order.Shipment
	_, err = tx.Exec(ctx, `
		INSERT INTO shipments (id, order_id, tracking_number, carrier, service_level,
			status, estimated_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, order.ID, s.TrackingNumber, s.Carrier, s.ServiceLevel, s.Status,
		timePtrToPgTimestamptz(s.EstimatedDate), timeToPgTimestamptz(s.CreatedAt), timeToPgTimestamptz(s.UpdatedAt))
	if err != nil {
		if isPgConflict(err) {
			return fmt.Errorf("tracking number %s: %w", s.TrackingNumber, ErrConflict)
		}
		return fmt.Errorf("failed to insert shipment: %w", err)
	}

	for i := range s.Events {
		if err := insertPgEvent(ctx, tx, s.ID, &s.Events[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

func insertPgEvent(ctx context.Context, tx pgx.Tx, shipmentID string, e *models.TrackingEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tracking_events (id, shipment_id, status, location, description, event_time)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, shipmentID, e.Status, e.Location, e.Description, timeToPgTimestamptz(e.EventTime))
	if err != nil {
		if isPgConflict(err) {
			return fmt.Errorf("tracking event %s: %w", e.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert tracking event: %w", err)
	}
	return nil
}

const pgOrderColumns = `id, order_number, customer_name, customer_phone,
	from_country, to_country, customer_id, created_at, updated_at`

// GetOrderByTrackingNumber retrieves an order by its shipment's tracking number.
func (ps *PostgresStorage) GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error) {
	orders, err := ps.queryOrders(ctx, `
		SELECT `+pgOrderColumns+` FROM orders
		WHERE id = (SELECT order_id FROM shipments WHERE tracking_number = $1)`,
		trackingNumber)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("order with tracking number %s: %w", trackingNumber, ErrNotFound)
	}
	return orders[0], nil
}

// OrdersByCustomer returns a customer's orders, newest first.
func (ps *PostgresStorage) OrdersByCustomer(ctx context.Context, customerID string) ([]*models.Order, error) {
	return ps.queryOrders(ctx, `
		SELECT `+pgOrderColumns+` FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`,
		customerID)
}

func (ps *PostgresStorage) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Order, error) {
		var (
			o                    models.Order
			customerID           pgtype.Text
			createdAt, updatedAt pgtype.Timestamptz
		)
		if err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerName, &o.CustomerPhone,
			&o.FromCountry, &o.ToCountry, &customerID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		o.CustomerID = pgTextToString(customerID)
		o.CreatedAt = createdAt.Time.UTC()
		o.UpdatedAt = updatedAt.Time.UTC()
		return &o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}

	for _, o := range orders {
		if err := ps.loadChildren(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (ps *PostgresStorage) loadChildren(ctx context.Context, o *models.Order) error {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, name, quantity, price_aed, price_mru, weight_kg
		FROM items WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to query items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Item, error) {
		var it models.Item
		err := row.Scan(&it.ID, &it.Name, &it.Quantity, &it.PriceAED, &it.PriceMRU, &it.WeightKg)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan items: %w", err)
	}
	o.Items = items

	var (
		s                    models.Shipment
		estimated            pgtype.Timestamptz
		createdAt, updatedAt pgtype.Timestamptz
	)
	err = ps.pool.QueryRow(ctx, `
		SELECT id, tracking_number, carrier, service_level, status, estimated_date, created_at, updated_at
		FROM shipments WHERE order_id = $1`, o.ID).
		Scan(&s.ID, &s.TrackingNumber, &s.Carrier, &s.ServiceLevel, &s.Status, &estimated, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load shipment for order %s: %w", o.ID, err)
	}
	s.EstimatedDate = pgTimestamptzToPtr(estimated)
	s.CreatedAt = createdAt.Time.UTC()
	s.UpdatedAt = updatedAt.Time.UTC()

	rows, err = ps.pool.Query(ctx, `
		SELECT id, status, location, description, event_time
		FROM tracking_events WHERE shipment_id = $1 ORDER BY event_time, seq`, s.ID)
	if err != nil {
		return fmt.Errorf("failed to query tracking events: %w", err)
	}
	s.Events, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TrackingEvent, error) {
		var (
			e         models.TrackingEvent
			eventTime pgtype.Timestamptz
		)
		if err := row.Scan(&e.ID, &e.Status, &e.Location, &e.Description, &eventTime); err != nil {
			return e, err
		}
		e.EventTime = eventTime.Time.UTC()
		return e, nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan tracking events: %w", err)
	}

	o.Shipment = &s
	return nil
}

// SaveCustomer stores or updates a customer.
func (ps *PostgresStorage) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO customers (id, phone_e164, access_code, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			phone_e164 = EXCLUDED.phone_e164,
			access_code = EXCLUDED.access_code`,
		customer.ID, customer.PhoneE164, customer.AccessCode, timeToPgTimestamptz(customer.CreatedAt))
	if err != nil {
		if isPgConflict(err) {
			return fmt.Errorf("access code %s: %w", customer.AccessCode, ErrConflict)
		}
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// GetCustomerByAccessCode retrieves a customer by access code.
func (ps *PostgresStorage) GetCustomerByAccessCode(ctx context.Context, accessCode string) (*models.Customer, error) {
	var (
		c         models.Customer
		createdAt pgtype.Timestamptz
	)
	err := ps.pool.QueryRow(ctx, `
		SELECT id, phone_e164, access_code, created_at FROM customers WHERE access_code = $1`,
		accessCode).Scan(&c.ID, &c.PhoneE164, &c.AccessCode, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer with access code %s: %w", accessCode, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c.CreatedAt = createdAt.Time.UTC()
	return &c, nil
}

// AddTrackingEvent appends an event and updates the shipment status in one transaction.
func (ps *PostgresStorage) AddTrackingEvent(ctx context.Context, trackingNumber string, event *models.TrackingEvent) error {
	tx, err := ps.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var shipmentID string
	err = tx.QueryRow(ctx, `SELECT id FROM shipments WHERE tracking_number = $1 FOR UPDATE`, trackingNumber).
		Scan(&shipmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("shipment %s: %w", trackingNumber, ErrNotFound)
		}
		return fmt.Errorf("failed to find shipment: %w", err)
	}

	if err := insertPgEvent(ctx, tx, shipmentID, event); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE shipments SET status = $1, updated_at = $2 WHERE id = $3`,
		event.Status, timeToPgTimestamptz(nowUTC()), shipmentID)
	if err != nil {
		return fmt.Errorf("failed to update shipment status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tracking event: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
