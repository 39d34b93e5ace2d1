// Package ratelimit bounds how many operations a key may perform within a
// fixed time window. The default backend keeps counters in process memory; a
// Redis backend shares counters between instances. HTTP middleware builds the
// key from a request, sets the standard rate limit headers and rejects
// over-budget requests with 429 before any data access happens.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument is returned when Check is called with an empty key or a
// non-positive limit or window. No counter state is touched in that case.
var ErrInvalidArgument = errors.New("ratelimit: invalid argument")

// Limiter decides whether the operation identified by key is allowed under a
// cap of limit operations per window. Implementations must be safe for
// concurrent use; the read-check-increment sequence is atomic per key.
type Limiter interface {
	// Check records an attempt for key and reports whether it is allowed.
	// A denied attempt is not counted against the budget.
	Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error)

	// Close stops background work and releases resources.
	Close() error
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool      // Whether the operation may proceed
	Remaining int       // Operations left in the current window, 0 on denial
	Limit     int       // Limit of the window the key is in
	ResetAt   time.Time // When the current window ends
	CheckedAt time.Time // Limiter clock reading the decision was made at
}

// Rule is a per-call-site limit: a key prefix plus the window parameters used
// for every key under it.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Key composes the limiter key for identifier under this rule.
func (r Rule) Key(identifier string) string {
	return r.Prefix + ":" + identifier
}

// Validate reports whether the rule can be passed to a Limiter.
func (r Rule) Validate() error {
	if r.Prefix == "" {
		return fmt.Errorf("%w: empty rule prefix", ErrInvalidArgument)
	}
	return validate(r.Prefix, r.Limit, r.Window)
}

func validate(key string, limit int, window time.Duration) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	case limit <= 0:
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	case window <= 0:
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidArgument, window)
	}
	return nil
}
