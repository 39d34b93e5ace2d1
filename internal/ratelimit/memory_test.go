package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, opts MemoryOptions) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts.Clock = clock.Now
	limiter := NewMemoryLimiter(opts)
	t.Cleanup(func() { limiter.Close() })
	return limiter, clock
}

func TestMemoryLimiter_OrderLookupScenario(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()
	key := "orders:TRK-ABC123"

	steps := []struct {
		at        time.Duration
		allowed   bool
		remaining int
	}{
		{0, true, 2},
		{10 * time.Millisecond, true, 1},
		{20 * time.Millisecond, true, 0},
		{30 * time.Millisecond, false, 0},
		{1050 * time.Millisecond, true, 2},
	}

	var elapsed time.Duration
	for _, step := range steps {
		clock.Advance(step.at - elapsed)
		elapsed = step.at

		res, err := limiter.Check(ctx, key, 3, time.Second)
		require.NoError(t, err)
		assert.Equal(t, step.allowed, res.Allowed, "allowed at t=%s", step.at)
		assert.Equal(t, step.remaining, res.Remaining, "remaining at t=%s", step.at)
		assert.Equal(t, 3, res.Limit)
	}
}

func TestMemoryLimiter_WindowCap(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 25; i++ {
		res, err := limiter.Check(ctx, "history:ACC-7H92Q3KD", 10, time.Minute)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
		clock.Advance(time.Second)
	}
	assert.Equal(t, 10, allowed)
}

func TestMemoryLimiter_ResetAfterWindow(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, "k", 2, time.Second)
		require.NoError(t, err)
	}
	res, err := limiter.Check(ctx, "k", 2, time.Second)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	t.Run("boundary belongs to the window", func(t *testing.T) {
		clock.Advance(time.Second)
		res, err := limiter.Check(ctx, "k", 2, time.Second)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})

	t.Run("first call past the boundary opens a new window", func(t *testing.T) {
		clock.Advance(time.Millisecond)
		res, err := limiter.Check(ctx, "k", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)
		assert.Equal(t, clock.Now().Add(time.Second), res.ResetAt)
	})
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, "order:TRK-A", 2, time.Minute)
		require.NoError(t, err)
	}
	res, err := limiter.Check(ctx, "order:TRK-A", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.Check(ctx, "order:TRK-B", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Keys are case-sensitive.
	res, err = limiter.Check(ctx, "order:trk-a", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_DoubleBurstAtBoundary(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	check := func(n int) int {
		allowed := 0
		for i := 0; i < n; i++ {
			res, err := limiter.Check(ctx, "k", 3, time.Second)
			require.NoError(t, err)
			if res.Allowed {
				allowed++
			}
		}
		return allowed
	}

	require.Equal(t, 1, check(1))

	// Last instant of the first window, then the first of the next one.
	clock.Advance(time.Second)
	burst := check(3)
	clock.Advance(time.Millisecond)
	burst += check(3)

	assert.Equal(t, 5, burst, "two of the first window plus three of the next within 1ms")
}

func TestMemoryLimiter_DenialDoesNotConsume(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, "k", 2, time.Second)
		require.NoError(t, err)
	}
	for i := 0; i < 50; i++ {
		res, err := limiter.Check(ctx, "k", 2, time.Second)
		require.NoError(t, err)
		require.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	}

	limiter.mu.Lock()
	count := limiter.records["k"].Value.(*record).count
	limiter.mu.Unlock()
	assert.Equal(t, 2, count)

	clock.Advance(1001 * time.Millisecond)
	res, err := limiter.Check(ctx, "k", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestMemoryLimiter_StoredParametersGovernWindow(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	res, err := limiter.Check(ctx, "k", 2, time.Second)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// A larger limit mid-window does not raise the cap of the open window.
	res, err = limiter.Check(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, 0, res.Remaining)

	res, err = limiter.Check(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// The stored one second window ends the record, then the new parameters apply.
	clock.Advance(1001 * time.Millisecond)
	res, err = limiter.Check(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, 9, res.Remaining)
}

func TestMemoryLimiter_InvalidArguments(t *testing.T) {
	limiter, _ := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	tests := []struct {
		name   string
		key    string
		limit  int
		window time.Duration
	}{
		{"empty key", "", 1, time.Second},
		{"zero limit", "k", 0, time.Second},
		{"negative limit", "k", -1, time.Second},
		{"zero window", "k", 1, 0},
		{"negative window", "k", 1, -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := limiter.Check(ctx, tt.key, tt.limit, tt.window)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	assert.Equal(t, 0, limiter.Len())
}

func TestMemoryLimiter_ConcurrentCallsNeverExceedLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, err := limiter.Check(ctx, "order:TRK-HOT", 50, time.Minute)
				if err == nil && res.Allowed {
					atomic.AddInt64(&allowed, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed)
}

func TestMemoryLimiter_EvictExpired(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	ctx := context.Background()

	_, err := limiter.Check(ctx, "short", 1, time.Second)
	require.NoError(t, err)
	_, err = limiter.Check(ctx, "long", 1, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, limiter.evictExpired())
	assert.Equal(t, 1, limiter.Len())

	limiter.mu.Lock()
	_, exists := limiter.records["long"]
	limiter.mu.Unlock()
	assert.True(t, exists)
}

func TestMemoryLimiter_MaxKeys(t *testing.T) {
	t.Run("evicts oldest window when full", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, MemoryOptions{MaxKeys: 3})
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := limiter.Check(ctx, fmt.Sprintf("k%d", i), 1, time.Hour)
			require.NoError(t, err)
			clock.Advance(time.Second)
		}

		_, err := limiter.Check(ctx, "k3", 1, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 3, limiter.Len())

		limiter.mu.Lock()
		_, oldest := limiter.records["k0"]
		_, newest := limiter.records["k3"]
		limiter.mu.Unlock()
		assert.False(t, oldest)
		assert.True(t, newest)
	})

	t.Run("prefers expired records", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, MemoryOptions{MaxKeys: 2})
		ctx := context.Background()

		_, err := limiter.Check(ctx, "short", 1, time.Second)
		require.NoError(t, err)
		_, err = limiter.Check(ctx, "long", 1, time.Hour)
		require.NoError(t, err)

		clock.Advance(2 * time.Second)
		_, err = limiter.Check(ctx, "new", 1, time.Hour)
		require.NoError(t, err)

		limiter.mu.Lock()
		_, short := limiter.records["short"]
		_, long := limiter.records["long"]
		limiter.mu.Unlock()
		assert.False(t, short)
		assert.True(t, long)
	})

	t.Run("window reset moves record to the back", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, MemoryOptions{MaxKeys: 2})
		ctx := context.Background()

		_, err := limiter.Check(ctx, "a", 1, time.Second)
		require.NoError(t, err)
		clock.Advance(500 * time.Millisecond)
		_, err = limiter.Check(ctx, "b", 1, time.Hour)
		require.NoError(t, err)

		// "a" reopens its window and becomes the newest record.
		clock.Advance(time.Second)
		_, err = limiter.Check(ctx, "a", 1, time.Hour)
		require.NoError(t, err)

		_, err = limiter.Check(ctx, "c", 1, time.Hour)
		require.NoError(t, err)

		limiter.mu.Lock()
		_, a := limiter.records["a"]
		_, b := limiter.records["b"]
		limiter.mu.Unlock()
		assert.True(t, a)
		assert.False(t, b)
	})
}

func TestMemoryLimiter_BackgroundCleanup(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryOptions{CleanupInterval: 20 * time.Millisecond})
	defer limiter.Close()

	_, err := limiter.Check(context.Background(), "ephemeral", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, limiter.Len())

	assert.Eventually(t, func() bool {
		return limiter.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryOptions{CleanupInterval: 100 * time.Millisecond})
	assert.NoError(t, limiter.Close())
	// Should not panic on double close
	assert.NoError(t, limiter.Close())
}
