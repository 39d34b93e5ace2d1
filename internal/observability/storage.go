package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tracker/internal/models"
	"tracker/internal/storage"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// Ensure InstrumentedStorage implements storage.Storage
var _ storage.Storage = (*InstrumentedStorage)(nil)

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("tracker/storage")
	meter := otel.Meter("tracker/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of failed storage operations, excluding not-found lookups"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

// record ends span and records latency. Missing records are an expected
// outcome of public lookups and are not counted as errors.
func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrNotFound):
		span.SetAttributes(attribute.Bool("storage.not_found", true))
		span.SetStatus(codes.Ok, "")
	default:
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

func (s *InstrumentedStorage) CreateOrder(ctx context.Context, order *models.Order) error {
	ctx, span := s.startSpan(ctx, "CreateOrder",
		attribute.String("order_number", order.OrderNumber),
		attribute.Int("items", len(order.Items)),
	)
	start := time.Now()
	err := s.inner.CreateOrder(ctx, order)
	s.record(ctx, span, "CreateOrder", start, err)
	return err
}

func (s *InstrumentedStorage) GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error) {
	ctx, span := s.startSpan(ctx, "GetOrderByTrackingNumber")
	start := time.Now()
	result, err := s.inner.GetOrderByTrackingNumber(ctx, trackingNumber)
	s.record(ctx, span, "GetOrderByTrackingNumber", start, err)
	return result, err
}

func (s *InstrumentedStorage) OrdersByCustomer(ctx context.Context, customerID string) ([]*models.Order, error) {
	ctx, span := s.startSpan(ctx, "OrdersByCustomer", attribute.String("customer_id", customerID))
	start := time.Now()
	result, err := s.inner.OrdersByCustomer(ctx, customerID)
	if err == nil {
		span.SetAttributes(attribute.Int("orders", len(result)))
	}
	s.record(ctx, span, "OrdersByCustomer", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	ctx, span := s.startSpan(ctx, "SaveCustomer", attribute.String("customer_id", customer.ID))
	start := time.Now()
	err := s.inner.SaveCustomer(ctx, customer)
	s.record(ctx, span, "SaveCustomer", start, err)
	return err
}

// Access codes are credentials and never appear in span attributes.
func (s *InstrumentedStorage) GetCustomerByAccessCode(ctx context.Context, accessCode string) (*models.Customer, error) {
	ctx, span := s.startSpan(ctx, "GetCustomerByAccessCode")
	start := time.Now()
	result, err := s.inner.GetCustomerByAccessCode(ctx, accessCode)
	s.record(ctx, span, "GetCustomerByAccessCode", start, err)
	return result, err
}

func (s *InstrumentedStorage) AddTrackingEvent(ctx context.Context, trackingNumber string, event *models.TrackingEvent) error {
	ctx, span := s.startSpan(ctx, "AddTrackingEvent", attribute.String("event.status", event.Status))
	start := time.Now()
	err := s.inner.AddTrackingEvent(ctx, trackingNumber, event)
	s.record(ctx, span, "AddTrackingEvent", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
