// Package models - Orders, shipments and customers.
// This file defines the shipment tracking domain: a customer owns orders, each
// order has its items and exactly one shipment, and a shipment accumulates
// tracking events.
//
// Design Decisions:
// - JSON uses camelCase field names, matching the public tracking API
// - Carrier is persisted but never serialised, so public lookups do not expose it
// - Status is free text; StatusCategory buckets it for display
// - Events are kept in ascending event time order
package models

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Shipment status values used by the service itself. Events may carry any
// other status text.
const (
	ShipmentStatusCreated    = "Created"
	ShipmentStatusProcessing = "Processing"
	ShipmentStatusInTransit  = "In Transit"
	ShipmentStatusDelivered  = "Delivered"

	ServiceLevelStandard = "Standard"
	ServiceLevelExpress  = "Express"

	// CarrierHidden is stored for orders created through the admin API.
	CarrierHidden = "hidden"
)

// Status categories returned by StatusCategory.
const (
	StatusCategoryDelivered      = "delivered"
	StatusCategoryOutForDelivery = "out-for-delivery"
	StatusCategoryPickedUp       = "picked-up"
	StatusCategoryInTransit      = "in-transit"
	StatusCategoryProcessing     = "processing"
	StatusCategoryDelayed        = "delayed"
	StatusCategoryCancelled      = "cancelled"
	StatusCategoryOther          = "other"
)

var (
	trackingNumberPattern = regexp.MustCompile(`(?i)^TRK-[A-Z0-9-]+$`)
	accessCodePattern     = regexp.MustCompile(`(?i)^ACC-[A-Z0-9-]{4,}$`)
)

// Customer is the owner of an order history, identified publicly by its
// access code. No email or address is kept.
type Customer struct {
	ID         string    `json:"id"`
	PhoneE164  string    `json:"phoneE164"`
	AccessCode string    `json:"accessCode"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Order is a customer purchase with its items and shipment.
type Order struct {
	ID            string    `json:"id"`
	OrderNumber   string    `json:"orderNumber"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	FromCountry   string    `json:"fromCountry"`
	ToCountry     string    `json:"toCountry"`
	CustomerID    string    `json:"customerId,omitempty"`
	Items         []Item    `json:"items"`
	Shipment      *Shipment `json:"shipment"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Item is one order line. Prices are in UAE dirham and Mauritanian ouguiya.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	PriceAED float64 `json:"priceAED"`
	PriceMRU float64 `json:"priceMRU"`
	WeightKg float64 `json:"weightKg"`
}

// Shipment is the delivery of an order, addressed by its tracking number.
type Shipment struct {
	ID             string          `json:"id"`
	TrackingNumber string          `json:"trackingNumber"`
	Carrier        string          `json:"-"`
	ServiceLevel   string          `json:"serviceLevel"`
	Status         string          `json:"status"`
	EstimatedDate  *time.Time      `json:"estimatedDate,omitempty"`
	Events         []TrackingEvent `json:"events"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TrackingEvent is a status change of a shipment at a place and time.
type TrackingEvent struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	EventTime   time.Time `json:"eventTime"`
}

// TotalQuantity is the number of units across all items.
func (o *Order) TotalQuantity() int {
	total := 0
	for _, it := range o.Items {
		total += it.Quantity
	}
	return total
}

// TotalWeightKg is the shipped weight: each item's weight times its quantity.
func (o *Order) TotalWeightKg() float64 {
	total := 0.0
	for _, it := range o.Items {
		total += it.WeightKg * float64(it.Quantity)
	}
	return total
}

// IsExpress reports whether the shipment uses the express service level.
func (s *Shipment) IsExpress() bool {
	return strings.EqualFold(strings.TrimSpace(s.ServiceLevel), ServiceLevelExpress)
}

// SortEvents orders events by event time, oldest first. Events with equal
// times keep their insertion order.
func (s *Shipment) SortEvents() {
	sort.SliceStable(s.Events, func(i, j int) bool {
		return s.Events[i].EventTime.Before(s.Events[j].EventTime)
	})
}

// LatestEvent returns the most recent event, or nil when there are none.
func (s *Shipment) LatestEvent() *TrackingEvent {
	if len(s.Events) == 0 {
		return nil
	}
	latest := &s.Events[0]
	for i := range s.Events[1:] {
		if !s.Events[i+1].EventTime.Before(latest.EventTime) {
			latest = &s.Events[i+1]
		}
	}
	return latest
}

// StatusCategory buckets free-text status into a fixed set used for badges
// and labels. Matching is case-insensitive and by substring.
func StatusCategory(status string) string {
	k := strings.ToLower(status)
	switch {
	case strings.Contains(k, "delivered"):
		return StatusCategoryDelivered
	case strings.Contains(k, "out for delivery"):
		return StatusCategoryOutForDelivery
	case strings.Contains(k, "picked up"), strings.Contains(k, "package collected"):
		return StatusCategoryPickedUp
	case strings.Contains(k, "transit"):
		return StatusCategoryInTransit
	case strings.Contains(k, "processing"), strings.Contains(k, "created"):
		return StatusCategoryProcessing
	case strings.Contains(k, "delayed"):
		return StatusCategoryDelayed
	case strings.Contains(k, "cancel"):
		return StatusCategoryCancelled
	default:
		return StatusCategoryOther
	}
}

// IsValidTrackingNumber reports whether tn has the TRK-... format.
func IsValidTrackingNumber(tn string) bool {
	return trackingNumberPattern.MatchString(tn)
}

// IsValidAccessCode reports whether code has the ACC-... format.
func IsValidAccessCode(code string) bool {
	return accessCodePattern.MatchString(code)
}
