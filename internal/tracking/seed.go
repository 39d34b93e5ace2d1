package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tracker/internal/models"
	"tracker/internal/storage"
)

const day = 24 * time.Hour

type seedEvent struct {
	status, location, description string
	age                           time.Duration
}

type seedOrder struct {
	accessCode     string
	orderNumber    string
	customerName   string
	customerPhone  string
	fromCountry    string
	trackingNumber string
	carrier        string
	serviceLevel   string
	status         string
	eta            *time.Duration
	age            time.Duration
	items          []models.Item
	events         []seedEvent
}

func durationPtr(d time.Duration) *time.Duration { return &d }

var seedCustomers = []models.Customer{
	{PhoneE164: "+447700900123", AccessCode: "ACC-7H92Q3KD"},
	{PhoneE164: "+14155552671", AccessCode: "ACC-4D8ZPQ1A"},
}

// Dates are relative to the moment of seeding.
var seedOrders = []seedOrder{
	{
		accessCode:     "ACC-7H92Q3KD",
		orderNumber:    "ORD-1001",
		customerName:   "Jane Doe",
		customerPhone:  "+971500000001",
		fromCountry:    "United Arab Emirates",
		trackingNumber: "TRK-ABC123",
		carrier:        "Aramex",
		serviceLevel:   models.ServiceLevelStandard,
		status:         models.ShipmentStatusInTransit,
		eta:            durationPtr(3 * day),
		age:            2 * day,
		items: []models.Item{
			{Name: "Red T-Shirt (Small)", Quantity: 2, PriceAED: 49, PriceMRU: 470, WeightKg: 0.2},
			{Name: "Ceramic Mug", Quantity: 1, PriceAED: 25, PriceMRU: 240, WeightKg: 0.35},
		},
		events: []seedEvent{
			{"Label Created", "Dubai", "Shipping label generated", 2 * day},
			{"Picked Up", "Dubai", "Collected by courier", 2*day - 6*time.Hour},
			{"In Transit", "Riyadh", "In transit hub", day},
		},
	},
	{
		accessCode:     "ACC-4D8ZPQ1A",
		orderNumber:    "ORD-2001",
		customerName:   "Alex Smith",
		customerPhone:  "+966500000002",
		fromCountry:    "Saudi Arabia",
		trackingNumber: "TRK-DELIV001",
		carrier:        "DHL",
		serviceLevel:   models.ServiceLevelExpress,
		status:         models.ShipmentStatusDelivered,
		eta:            durationPtr(-2 * day),
		age:            6 * day,
		items: []models.Item{
			{Name: "Laptop Bag", Quantity: 1, PriceAED: 179, PriceMRU: 1720, WeightKg: 1.2},
			{Name: "Wireless Mouse", Quantity: 1, PriceAED: 89, PriceMRU: 860, WeightKg: 0.2},
		},
		events: []seedEvent{
			{"Picked Up", "Riyadh", "Package collected", 6 * day},
			{"In Transit", "Casablanca", "Transit facility", 4 * day},
			{"Delivered", "Nouakchott", "Delivered to recipient", 2 * day},
		},
	},
	{
		accessCode:     "ACC-7H92Q3KD",
		orderNumber:    "ORD-3001",
		customerName:   "Maria Lopez",
		customerPhone:  "+971500000003",
		fromCountry:    "United Arab Emirates",
		trackingNumber: "TRK-MADRID001",
		carrier:        "Local",
		serviceLevel:   models.ServiceLevelStandard,
		status:         models.ShipmentStatusProcessing,
		age:            time.Hour,
		items: []models.Item{
			{Name: "Mystery Novel", Quantity: 1, PriceAED: 35, PriceMRU: 335, WeightKg: 0.5},
		},
		events: []seedEvent{
			{"Processing", "Dubai", "Preparing package", time.Hour},
		},
	},
}

// Seed loads the demo customers and orders. Records that already exist are
// left untouched, so seeding twice is harmless. It returns the number of
// orders created.
func (s *Service) Seed(ctx context.Context) (int, error) {
	now := s.now()

	customerIDs := make(map[string]string, len(seedCustomers))
	for _, c := range seedCustomers {
		customer, err := s.ensureCustomer(ctx, c.AccessCode, c.PhoneE164, now)
		if err != nil {
			return 0, fmt.Errorf("failed to seed customer %s: %w", c.AccessCode, err)
		}
		customerIDs[c.AccessCode] = customer.ID
	}

	created := 0
	for _, so := range seedOrders {
		_, err := s.storage.GetOrderByTrackingNumber(ctx, so.trackingNumber)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return created, fmt.Errorf("failed to check seed order %s: %w", so.orderNumber, err)
		}

		order := s.buildSeedOrder(so, customerIDs[so.accessCode], now)
		if err := s.storage.CreateOrder(ctx, order); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return created, fmt.Errorf("failed to seed order %s: %w", so.orderNumber, err)
		}
		created++
	}

	slog.InfoContext(ctx, "Demo data seeded", "orders_created", created)
	return created, nil
}

func (s *Service) buildSeedOrder(so seedOrder, customerID string, now time.Time) *models.Order {
	createdAt := now.Add(-so.age)

	items := make([]models.Item, len(so.items))
	for i, it := range so.items {
		it.ID = s.newID()
		items[i] = it
	}

	events := make([]models.TrackingEvent, len(so.events))
	for i, e := range so.events {
		events[i] = models.TrackingEvent{
			ID:          s.newID(),
			Status:      e.status,
			Location:    e.location,
			Description: e.description,
			EventTime:   now.Add(-e.age),
		}
	}

	var eta *time.Time
	if so.eta != nil {
		t := now.Add(*so.eta)
		eta = &t
	}

	return &models.Order{
		ID:            s.newID(),
		OrderNumber:   so.orderNumber,
		CustomerName:  so.customerName,
		CustomerPhone: so.customerPhone,
		FromCountry:   so.fromCountry,
		ToCountry:     "Mauritania",
		CustomerID:    customerID,
		Items:         items,
		Shipment: &models.Shipment{
			ID:             s.newID(),
			TrackingNumber: so.trackingNumber,
			Carrier:        so.carrier,
			ServiceLevel:   so.serviceLevel,
			Status:         so.status,
			EstimatedDate:  eta,
			Events:         events,
			CreatedAt:      createdAt,
			UpdatedAt:      now,
		},
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
}
