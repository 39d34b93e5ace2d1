package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket holds a token bucket and its last access time for cleanup.
type bucket struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// TokenBucket is a smoothing limiter backed by golang.org/x/time/rate. Each
// key gets its own bucket refilled at limit tokens per window with a fixed
// burst. It throttles the admin API by client IP, where a steady trickle is
// preferable to the hard resets of a fixed window.
//
// A background goroutine evicts buckets that have not been touched within
// twice the cleanup interval.
type TokenBucket struct {
	burst           int
	cleanupInterval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// NewTokenBucket creates a token bucket limiter with the given burst size and
// starts its eviction goroutine.
func NewTokenBucket(burst int, cleanupInterval time.Duration) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	tb := &TokenBucket{
		burst:           burst,
		cleanupInterval: cleanupInterval,
		buckets:         make(map[string]*bucket),
		done:            make(chan struct{}),
	}
	go tb.cleanup()
	return tb
}

// Check takes one token from key's bucket. The refill rate is fixed by the
// first call for a key until the bucket is evicted.
func (tb *TokenBucket) Check(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := validate(key, limit, window); err != nil {
		return Result{}, err
	}

	now := time.Now()

	tb.mu.Lock()
	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), tb.burst),
			limit:   limit,
		}
		tb.buckets[key] = b
	}
	b.lastSeen = now
	tb.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)

	tokens := b.limiter.TokensAt(now)
	res := Result{
		Allowed:   allowed,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		Limit:     b.limit,
		ResetAt:   now,
		CheckedAt: now,
	}
	if !allowed {
		res.Remaining = 0
	}

	// Time until the bucket is full again.
	if missing := float64(tb.burst) - tokens; missing > 0 {
		perSecond := float64(b.limiter.Limit())
		res.ResetAt = now.Add(time.Duration(missing / perSecond * float64(time.Second)))
	}

	return res, nil
}

// Close stops the background cleanup goroutine.
func (tb *TokenBucket) Close() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if !tb.closed {
		tb.closed = true
		close(tb.done)
	}
	return nil
}

func (tb *TokenBucket) cleanup() {
	ticker := time.NewTicker(tb.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tb.done:
			return
		case <-ticker.C:
			tb.evictStale(time.Now())
		}
	}
}

// evictStale removes buckets not seen since 2x the cleanup interval before now.
func (tb *TokenBucket) evictStale(now time.Time) {
	cutoff := now.Add(-2 * tb.cleanupInterval)
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for key, b := range tb.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(tb.buckets, key)
		}
	}
}
