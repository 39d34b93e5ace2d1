package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/models"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func uniqueSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func newTestCustomer() *models.Customer {
	return &models.Customer{
		ID:         uuid.NewString(),
		PhoneE164:  "+971500000001",
		AccessCode: "ACC-" + uniqueSuffix(),
		CreatedAt:  baseTime,
	}
}

func newTestOrder(customerID string, createdAt time.Time) *models.Order {
	suffix := uniqueSuffix()
	eta := createdAt.Add(72 * time.Hour)
	return &models.Order{
		ID:            uuid.NewString(),
		OrderNumber:   "ORD-" + suffix,
		CustomerName:  "Aisha Mohamed",
		CustomerPhone: "+971500000001",
		FromCountry:   "UAE",
		ToCountry:     "Mauritania",
		CustomerID:    customerID,
		Items: []models.Item{
			{ID: uuid.NewString(), Name: "Dates gift box", Quantity: 2, PriceAED: 45, PriceMRU: 480, WeightKg: 1.5},
			{ID: uuid.NewString(), Name: "Saffron", Quantity: 1, PriceAED: 120, PriceMRU: 1300, WeightKg: 0.1},
		},
		Shipment: &models.Shipment{
			ID:             uuid.NewString(),
			TrackingNumber: "TRK-" + suffix,
			Carrier:        "Aramex",
			ServiceLevel:   models.ServiceLevelExpress,
			Status:         models.ShipmentStatusInTransit,
			EstimatedDate:  &eta,
			Events: []models.TrackingEvent{
				{ID: uuid.NewString(), Status: models.ShipmentStatusInTransit, Location: "Dubai Hub", Description: "Departed facility", EventTime: createdAt.Add(2 * time.Hour)},
				{ID: uuid.NewString(), Status: models.ShipmentStatusCreated, Location: "Dubai", Description: "Order created", EventTime: createdAt},
			},
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func assertSameTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "expected %s, got %s", want, got)
}

// runStorageContract exercises the behaviour every backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("CreateAndGetOrder", func(t *testing.T) {
		s := newStorage(t)
		customer := newTestCustomer()
		require.NoError(t, s.SaveCustomer(ctx, customer))

		order := newTestOrder(customer.ID, baseTime)
		require.NoError(t, s.CreateOrder(ctx, order))

		got, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
		require.NoError(t, err)

		assert.Equal(t, order.ID, got.ID)
		assert.Equal(t, order.OrderNumber, got.OrderNumber)
		assert.Equal(t, order.CustomerName, got.CustomerName)
		assert.Equal(t, order.ToCountry, got.ToCountry)
		assert.Equal(t, customer.ID, got.CustomerID)
		assertSameTime(t, order.CreatedAt, got.CreatedAt)

		require.Len(t, got.Items, 2)
		assert.Equal(t, "Dates gift box", got.Items[0].Name)
		assert.Equal(t, 2, got.Items[0].Quantity)
		assert.InDelta(t, 45.0, got.Items[0].PriceAED, 0.0001)
		assert.InDelta(t, 1.5, got.Items[0].WeightKg, 0.0001)
		assert.Equal(t, "Saffron", got.Items[1].Name)

		require.NotNil(t, got.Shipment)
		assert.Equal(t, "Aramex", got.Shipment.Carrier)
		assert.True(t, got.Shipment.IsExpress())
		require.NotNil(t, got.Shipment.EstimatedDate)
		assertSameTime(t, *order.Shipment.EstimatedDate, *got.Shipment.EstimatedDate)

		require.Len(t, got.Shipment.Events, 2)
		assert.Equal(t, "Order created", got.Shipment.Events[0].Description)
		assert.Equal(t, "Departed facility", got.Shipment.Events[1].Description)
		assertSameTime(t, baseTime, got.Shipment.Events[0].EventTime)
	})

	t.Run("OrderWithoutCustomer", func(t *testing.T) {
		s := newStorage(t)
		order := newTestOrder("", baseTime)
		order.Shipment.EstimatedDate = nil
		order.Shipment.Events = nil
		require.NoError(t, s.CreateOrder(ctx, order))

		got, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
		require.NoError(t, err)
		assert.Empty(t, got.CustomerID)
		assert.Nil(t, got.Shipment.EstimatedDate)
		assert.Empty(t, got.Shipment.Events)
	})

	t.Run("GetOrderNotFound", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.GetOrderByTrackingNumber(ctx, "TRK-DOESNOTEXIST")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DuplicateOrderNumber", func(t *testing.T) {
		s := newStorage(t)
		order := newTestOrder("", baseTime)
		require.NoError(t, s.CreateOrder(ctx, order))

		dup := newTestOrder("", baseTime)
		dup.OrderNumber = order.OrderNumber
		assert.ErrorIs(t, s.CreateOrder(ctx, dup), ErrConflict)
	})

	t.Run("DuplicateTrackingNumber", func(t *testing.T) {
		s := newStorage(t)
		order := newTestOrder("", baseTime)
		require.NoError(t, s.CreateOrder(ctx, order))

		dup := newTestOrder("", baseTime)
		dup.Shipment.TrackingNumber = order.Shipment.TrackingNumber
		assert.ErrorIs(t, s.CreateOrder(ctx, dup), ErrConflict)

		// The failed order must not be half written.
		_, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
		require.NoError(t, err)
	})

	t.Run("Customers", func(t *testing.T) {
		s := newStorage(t)
		customer := newTestCustomer()
		require.NoError(t, s.SaveCustomer(ctx, customer))

		got, err := s.GetCustomerByAccessCode(ctx, customer.AccessCode)
		require.NoError(t, err)
		assert.Equal(t, customer.ID, got.ID)
		assert.Equal(t, customer.PhoneE164, got.PhoneE164)
		assertSameTime(t, customer.CreatedAt, got.CreatedAt)

		customer.PhoneE164 = "+22236000000"
		require.NoError(t, s.SaveCustomer(ctx, customer))
		got, err = s.GetCustomerByAccessCode(ctx, customer.AccessCode)
		require.NoError(t, err)
		assert.Equal(t, "+22236000000", got.PhoneE164)

		other := newTestCustomer()
		other.AccessCode = customer.AccessCode
		assert.ErrorIs(t, s.SaveCustomer(ctx, other), ErrConflict)

		_, err = s.GetCustomerByAccessCode(ctx, "ACC-MISSING0")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("OrdersByCustomerNewestFirst", func(t *testing.T) {
		s := newStorage(t)
		customer := newTestCustomer()
		require.NoError(t, s.SaveCustomer(ctx, customer))
		stranger := newTestCustomer()
		require.NoError(t, s.SaveCustomer(ctx, stranger))

		older := newTestOrder(customer.ID, baseTime)
		newer := newTestOrder(customer.ID, baseTime.Add(24*time.Hour))
		theirs := newTestOrder(stranger.ID, baseTime.Add(48*time.Hour))
		require.NoError(t, s.CreateOrder(ctx, older))
		require.NoError(t, s.CreateOrder(ctx, newer))
		require.NoError(t, s.CreateOrder(ctx, theirs))

		orders, err := s.OrdersByCustomer(ctx, customer.ID)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, newer.OrderNumber, orders[0].OrderNumber)
		assert.Equal(t, older.OrderNumber, orders[1].OrderNumber)
		require.NotNil(t, orders[0].Shipment)
		assert.Len(t, orders[0].Items, 2)

		none, err := s.OrdersByCustomer(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("AddTrackingEvent", func(t *testing.T) {
		s := newStorage(t)
		order := newTestOrder("", baseTime)
		require.NoError(t, s.CreateOrder(ctx, order))

		event := &models.TrackingEvent{
			ID:          uuid.NewString(),
			Status:      models.ShipmentStatusDelivered,
			Location:    "Nouakchott",
			Description: "Delivered to recipient",
			EventTime:   baseTime.Add(48 * time.Hour),
		}
		require.NoError(t, s.AddTrackingEvent(ctx, order.Shipment.TrackingNumber, event))

		got, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
		require.NoError(t, err)
		assert.Equal(t, models.ShipmentStatusDelivered, got.Shipment.Status)
		require.Len(t, got.Shipment.Events, 3)
		assert.Equal(t, "Delivered to recipient", got.Shipment.Events[2].Description)
		assert.False(t, got.Shipment.UpdatedAt.Before(order.Shipment.UpdatedAt))
	})

	t.Run("AddTrackingEventOutOfOrder", func(t *testing.T) {
		s := newStorage(t)
		order := newTestOrder("", baseTime)
		require.NoError(t, s.CreateOrder(ctx, order))

		backfill := &models.TrackingEvent{
			ID:          uuid.NewString(),
			Status:      models.ShipmentStatusProcessing,
			Location:    "Dubai",
			Description: "Packed",
			EventTime:   baseTime.Add(time.Hour),
		}
		require.NoError(t, s.AddTrackingEvent(ctx, order.Shipment.TrackingNumber, backfill))

		got, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
		require.NoError(t, err)
		require.Len(t, got.Shipment.Events, 3)
		assert.Equal(t, "Packed", got.Shipment.Events[1].Description)
		// The latest write sets the status even when the event is older.
		assert.Equal(t, models.ShipmentStatusProcessing, got.Shipment.Status)
	})

	t.Run("AddTrackingEventNotFound", func(t *testing.T) {
		s := newStorage(t)
		event := &models.TrackingEvent{ID: uuid.NewString(), Status: "Delivered", Location: "x", Description: "x", EventTime: baseTime}
		assert.ErrorIs(t, s.AddTrackingEvent(ctx, "TRK-NOPE", event), ErrNotFound)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := newStorage(t)
		order := newTestOrder("", baseTime)
		require.NoError(t, s.CreateOrder(ctx, order))

		order.CustomerName = "changed after create"
		order.Shipment.Events[0].Description = "changed after create"

		got, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
		require.NoError(t, err)
		assert.Equal(t, "Aisha Mohamed", got.CustomerName)

		got.Items[0].Name = "mutated"
		got.Shipment.Events[0].Location = "mutated"

		again, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
		require.NoError(t, err)
		assert.Equal(t, "Dates gift box", again.Items[0].Name)
		assert.Equal(t, "Dubai", again.Shipment.Events[0].Location)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStorage(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
