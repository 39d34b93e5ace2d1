package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedWindowScript runs the whole check in one round trip so concurrent
// callers on any node see a consistent counter. A window is a hash holding the
// count and the limit that opened it; its TTL is the window length.
//
// Returns {allowed, count, limit, pttl}.
var fixedWindowScript = redis.NewScript(`
local rec = redis.call("HMGET", KEYS[1], "count", "limit")
if not rec[1] then
	redis.call("HSET", KEYS[1], "count", 1, "limit", ARGV[1])
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return {1, 1, tonumber(ARGV[1]), tonumber(ARGV[2])}
end
local count = tonumber(rec[1])
local limit = tonumber(rec[2])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
if count >= limit then
	return {0, count, limit, ttl}
end
count = redis.call("HINCRBY", KEYS[1], "count", 1)
return {1, count, limit, ttl}
`)

// RedisOptions configures a RedisLimiter.
type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// RedisLimiter is a fixed-window limiter whose counters live in Redis, so
// every instance behind a load balancer shares one budget per key. Windows
// end when the key expires, which makes the boundary instant part of the next
// window rather than the current one.
type RedisLimiter struct {
	rdb       *redis.Client
	keyPrefix string
	clock     func() time.Time
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(opts RedisOptions) (*RedisLimiter, error) {
	if opts.Address == "" {
		opts.Address = "localhost:6379"
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLimiter{
		rdb:       rdb,
		keyPrefix: opts.KeyPrefix,
		clock:     time.Now,
	}, nil
}

// Check runs the fixed-window script for key.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := validate(key, limit, window); err != nil {
		return Result{}, err
	}

	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	raw, err := fixedWindowScript.Run(ctx, l.rdb, []string{l.keyPrefix + key}, limit, windowMs).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to check rate limit: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 4 {
		return Result{}, fmt.Errorf("unexpected rate limit script reply %v", raw)
	}
	nums := make([]int64, len(vals))
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return Result{}, fmt.Errorf("unexpected rate limit script reply %v", raw)
		}
		nums[i] = n
	}

	allowed := nums[0] == 1
	count, storedLimit, ttl := int(nums[1]), int(nums[2]), time.Duration(nums[3])*time.Millisecond

	now := l.clock()
	res := Result{
		Allowed:   allowed,
		Limit:     storedLimit,
		ResetAt:   now.Add(ttl),
		CheckedAt: now,
	}
	if allowed {
		res.Remaining = storedLimit - count
	}
	return res, nil
}

// Ping reports whether Redis is reachable.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection pool.
func (l *RedisLimiter) Close() error {
	return l.rdb.Close()
}
