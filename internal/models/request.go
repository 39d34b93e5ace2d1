// Package models - API request types and input validation.
// This file defines the admin API request bodies.
//
// Validation Philosophy:
// - Every field problem is collected, not just the first one
// - Normalize trims input and fills defaults before validation
// - Numeric fields that must be present are pointers so "missing" and "zero" differ
package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Accepted layouts for dates in requests.
var requestTimeLayouts = []string{time.RFC3339, "2006-01-02"}

// ValidationError carries per-field messages keyed by JSON field path,
// e.g. "items[0].quantity".
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) required(field, value string) {
	if value == "" {
		f[field] = "is required"
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

// CreateOrderRequest creates an order with its items and shipment.
//
// Defaults:
// - ServiceLevel "Standard"
// - Status "Created"
// - WeightKg 0 per item
//
// AccessCode is optional; when set the order is attached to the customer with
// that code, which is created with CustomerPhone on first use.
type CreateOrderRequest struct {
	OrderNumber    string        `json:"orderNumber"`
	CustomerName   string        `json:"customerName"`
	CustomerPhone  string        `json:"customerPhone"`
	FromCountry    string        `json:"fromCountry"`
	ToCountry      string        `json:"toCountry"`
	TrackingNumber string        `json:"trackingNumber"`
	ServiceLevel   string        `json:"serviceLevel,omitempty"`
	Status         string        `json:"status,omitempty"`
	EstimatedDate  string        `json:"estimatedDate,omitempty"`
	AccessCode     string        `json:"accessCode,omitempty"`
	Items          []ItemRequest `json:"items"`
}

// ItemRequest is one order line of a CreateOrderRequest.
type ItemRequest struct {
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	PriceAED *float64 `json:"priceAED"`
	PriceMRU *float64 `json:"priceMRU"`
	WeightKg *float64 `json:"weightKg,omitempty"`
}

// CreateEventRequest appends a tracking event to a shipment. EventTime
// defaults to the time the event is recorded.
type CreateEventRequest struct {
	Status      string `json:"status"`
	Location    string `json:"location"`
	Description string `json:"description"`
	EventTime   string `json:"eventTime,omitempty"`
}

func (r *CreateOrderRequest) Normalize() {
	r.OrderNumber = strings.TrimSpace(r.OrderNumber)
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.CustomerPhone = strings.TrimSpace(r.CustomerPhone)
	r.FromCountry = strings.TrimSpace(r.FromCountry)
	r.ToCountry = strings.TrimSpace(r.ToCountry)
	r.TrackingNumber = strings.TrimSpace(r.TrackingNumber)
	r.ServiceLevel = strings.TrimSpace(r.ServiceLevel)
	r.Status = strings.TrimSpace(r.Status)
	r.EstimatedDate = strings.TrimSpace(r.EstimatedDate)
	r.AccessCode = strings.TrimSpace(r.AccessCode)

	if r.ServiceLevel == "" {
		r.ServiceLevel = ServiceLevelStandard
	}
	if r.Status == "" {
		r.Status = ShipmentStatusCreated
	}

	for i := range r.Items {
		r.Items[i].Name = strings.TrimSpace(r.Items[i].Name)
		if r.Items[i].WeightKg == nil {
			zero := 0.0
			r.Items[i].WeightKg = &zero
		}
	}
}

func (r *CreateOrderRequest) Validate() error {
	errs := fieldErrors{}

	errs.required("orderNumber", r.OrderNumber)
	errs.required("customerName", r.CustomerName)
	errs.required("customerPhone", r.CustomerPhone)
	errs.required("fromCountry", r.FromCountry)
	errs.required("toCountry", r.ToCountry)
	errs.required("trackingNumber", r.TrackingNumber)

	if r.TrackingNumber != "" && !IsValidTrackingNumber(r.TrackingNumber) {
		errs["trackingNumber"] = "must look like TRK-XXXX"
	}
	if r.AccessCode != "" && !IsValidAccessCode(r.AccessCode) {
		errs["accessCode"] = "must look like ACC-XXXX"
	}
	if r.EstimatedDate != "" {
		if _, err := parseRequestTime(r.EstimatedDate); err != nil {
			errs["estimatedDate"] = err.Error()
		}
	}

	if len(r.Items) == 0 {
		errs["items"] = "at least one item is required"
	}
	for i, it := range r.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		errs.required(prefix+"name", it.Name)
		if it.Quantity <= 0 {
			errs[prefix+"quantity"] = "must be a positive integer"
		}
		checkAmount(errs, prefix+"priceAED", it.PriceAED, true)
		checkAmount(errs, prefix+"priceMRU", it.PriceMRU, true)
		checkAmount(errs, prefix+"weightKg", it.WeightKg, false)
	}

	return errs.err()
}

// EstimatedTime returns the parsed estimated delivery date, or nil when none
// was given.
func (r *CreateOrderRequest) EstimatedTime() *time.Time {
	if r.EstimatedDate == "" {
		return nil
	}
	t, err := parseRequestTime(r.EstimatedDate)
	if err != nil {
		return nil
	}
	return &t
}

func (r *CreateEventRequest) Normalize() {
	r.Status = strings.TrimSpace(r.Status)
	r.Location = strings.TrimSpace(r.Location)
	r.Description = strings.TrimSpace(r.Description)
	r.EventTime = strings.TrimSpace(r.EventTime)
}

func (r *CreateEventRequest) Validate() error {
	errs := fieldErrors{}

	errs.required("status", r.Status)
	errs.required("location", r.Location)
	errs.required("description", r.Description)

	if r.EventTime != "" {
		if _, err := parseRequestTime(r.EventTime); err != nil {
			errs["eventTime"] = err.Error()
		}
	}

	return errs.err()
}

// Time returns the event time, or now when none was given.
func (r *CreateEventRequest) Time(now time.Time) time.Time {
	if r.EventTime == "" {
		return now
	}
	t, err := parseRequestTime(r.EventTime)
	if err != nil {
		return now
	}
	return t
}

func checkAmount(errs fieldErrors, field string, v *float64, required bool) {
	if v == nil {
		if required {
			errs[field] = "is required"
		}
		return
	}
	if *v < 0 {
		errs[field] = "must not be negative"
	}
}

func parseRequestTime(s string) (time.Time, error) {
	for _, layout := range requestTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("must be RFC3339 or YYYY-MM-DD")
}
