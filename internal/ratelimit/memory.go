package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// record is the counter state of one key.
type record struct {
	key         string
	count       int
	limit       int
	window      time.Duration
	windowStart time.Time
}

// expired reports whether the window that opened at windowStart is over.
// The boundary itself still belongs to the window.
func (r *record) expired(now time.Time) bool {
	return now.Sub(r.windowStart) > r.window
}

func (r *record) resetAt() time.Time {
	return r.windowStart.Add(r.window)
}

// MemoryOptions configures a MemoryLimiter.
type MemoryOptions struct {
	// CleanupInterval is how often expired records are swept. Zero disables
	// the background sweep; expired records are then only replaced on their
	// next hit or evicted under MaxKeys pressure.
	CleanupInterval time.Duration

	// MaxKeys bounds the number of tracked keys. Zero means unbounded.
	MaxKeys int

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// MemoryLimiter is a fixed-window limiter that keeps its counters in process
// memory. A single mutex guards the whole map, so concurrent calls for the
// same key can never collectively exceed the limit.
//
// Records are also kept in a list ordered by window start (oldest first).
// Windows only ever open at "now", so appending on open and moving to the
// back on reset keeps the order without sorting, and the oldest record is
// always at the front when MaxKeys forces an eviction.
//
// Counters are not shared between processes: each instance enforces its own
// budget per key. Use RedisLimiter when that matters.
type MemoryLimiter struct {
	clock           func() time.Time
	maxKeys         int
	cleanupInterval time.Duration

	mu      sync.Mutex
	records map[string]*list.Element
	order   *list.List
	done    chan struct{}
	closed  bool
}

// NewMemoryLimiter creates an in-memory limiter and, when a cleanup interval
// is set, starts the goroutine that sweeps expired records.
func NewMemoryLimiter(opts MemoryOptions) *MemoryLimiter {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	m := &MemoryLimiter{
		clock:           clock,
		maxKeys:         opts.MaxKeys,
		cleanupInterval: opts.CleanupInterval,
		records:         make(map[string]*list.Element),
		order:           list.New(),
		done:            make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		go m.cleanup()
	}
	return m
}

// Check applies the fixed-window algorithm to key. A key with no record, or
// whose window has run out, opens a new window with a count of one. Inside a
// window the count is incremented until it reaches the limit, after which
// calls are denied without changing the count.
//
// The limit and window that opened a record govern it until it expires, so a
// caller that changes parameters mid-window sees the old ones until the reset.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := validate(key, limit, window); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()

	if el, ok := m.records[key]; ok {
		rec := el.Value.(*record)
		if !rec.expired(now) {
			if rec.count >= rec.limit {
				return Result{Allowed: false, Remaining: 0, Limit: rec.limit, ResetAt: rec.resetAt(), CheckedAt: now}, nil
			}
			rec.count++
			return Result{Allowed: true, Remaining: rec.limit - rec.count, Limit: rec.limit, ResetAt: rec.resetAt(), CheckedAt: now}, nil
		}

		rec.count = 1
		rec.limit = limit
		rec.window = window
		rec.windowStart = now
		m.order.MoveToBack(el)
		return Result{Allowed: true, Remaining: limit - 1, Limit: limit, ResetAt: rec.resetAt(), CheckedAt: now}, nil
	}

	m.makeRoom(now)
	rec := &record{key: key, count: 1, limit: limit, window: window, windowStart: now}
	m.records[key] = m.order.PushBack(rec)
	return Result{Allowed: true, Remaining: limit - 1, Limit: limit, ResetAt: rec.resetAt(), CheckedAt: now}, nil
}

// Len returns the number of tracked keys, expired or not.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Close stops the background sweep. It is safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// makeRoom frees a slot when MaxKeys is reached. Expired records at the front
// go first; if the map is still full the record with the oldest window start
// is evicted, which resets that key's budget. Caller holds m.mu.
func (m *MemoryLimiter) makeRoom(now time.Time) {
	if m.maxKeys <= 0 || len(m.records) < m.maxKeys {
		return
	}
	for front := m.order.Front(); front != nil && len(m.records) >= m.maxKeys; front = m.order.Front() {
		if !front.Value.(*record).expired(now) {
			break
		}
		m.remove(front)
	}
	if len(m.records) >= m.maxKeys {
		m.remove(m.order.Front())
	}
}

// remove drops el from both indexes. Caller holds m.mu.
func (m *MemoryLimiter) remove(el *list.Element) {
	rec := m.order.Remove(el).(*record)
	delete(m.records, rec.key)
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

// evictExpired removes every record whose window has ended. Records carry
// their own window length, so the whole list is walked.
func (m *MemoryLimiter) evictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	evicted := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*record).expired(now) {
			m.remove(el)
			evicted++
		}
		el = next
	}
	return evicted
}
