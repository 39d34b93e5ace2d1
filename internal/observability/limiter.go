package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tracker/internal/ratelimit"
)

// Check outcomes recorded on ratelimit.checks.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// sizer is implemented by limiters that can report how many keys they hold.
type sizer interface {
	Len() int
}

// InstrumentedLimiter wraps a ratelimit.Limiter and counts checks by key
// prefix and outcome. Only the prefix is recorded; the identifier after it is
// a tracking number or access code.
type InstrumentedLimiter struct {
	inner        ratelimit.Limiter
	backend      string
	tracer       trace.Tracer
	checks       metric.Int64Counter
	duration     metric.Float64Histogram
	registration metric.Registration
}

// Ensure InstrumentedLimiter implements ratelimit.Limiter
var _ ratelimit.Limiter = (*InstrumentedLimiter)(nil)

// NewInstrumentedLimiter wraps inner. backend labels every measurement. When
// inner reports its size, a ratelimit.keys gauge is registered as well.
func NewInstrumentedLimiter(inner ratelimit.Limiter, backend string) (*InstrumentedLimiter, error) {
	meter := otel.Meter("tracker/ratelimit")

	checks, err := meter.Int64Counter(
		"ratelimit.checks",
		metric.WithDescription("Rate limit checks by key prefix and outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ratelimit.check.duration",
		metric.WithDescription("Duration of rate limit checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	l := &InstrumentedLimiter{
		inner:    inner,
		backend:  backend,
		tracer:   otel.Tracer("tracker/ratelimit"),
		checks:   checks,
		duration: duration,
	}

	if sz, ok := inner.(sizer); ok {
		gauge, err := meter.Int64ObservableGauge(
			"ratelimit.keys",
			metric.WithDescription("Number of keys currently tracked by the limiter"),
			metric.WithUnit("{key}"),
		)
		if err != nil {
			return nil, err
		}
		backendAttr := metric.WithAttributes(attribute.String("backend", backend))
		l.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(sz.Len()), backendAttr)
			return nil
		}, gauge)
		if err != nil {
			return nil, err
		}
	}

	return l, nil
}

// keyPrefix returns the part of key before the first colon.
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

func (l *InstrumentedLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error) {
	prefix := keyPrefix(key)
	ctx, span := l.tracer.Start(ctx, "ratelimit.Check",
		trace.WithAttributes(
			attribute.String("ratelimit.backend", l.backend),
			attribute.String("ratelimit.prefix", prefix),
			attribute.Int("ratelimit.limit", limit),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := l.inner.Check(ctx, key, limit, window)
	elapsed := time.Since(start).Seconds()

	outcome := OutcomeAllowed
	switch {
	case err != nil:
		outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !res.Allowed:
		outcome = OutcomeDenied
	}
	span.SetAttributes(attribute.String("ratelimit.outcome", outcome))

	attrs := metric.WithAttributes(
		attribute.String("backend", l.backend),
		attribute.String("prefix", prefix),
		attribute.String("outcome", outcome),
	)
	l.checks.Add(ctx, 1, attrs)
	l.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("backend", l.backend)))

	return res, err
}

// Close unregisters the gauge callback and closes the wrapped limiter.
func (l *InstrumentedLimiter) Close() error {
	if l.registration != nil {
		if err := l.registration.Unregister(); err != nil {
			return err
		}
	}
	return l.inner.Close()
}
