package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func trackingNumberKey(r *http.Request) string {
	return mux.Vars(r)["trackingNumber"]
}

// failingLimiter simulates an unreachable counter store.
type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("connection refused")
}

func (failingLimiter) Close() error { return nil }

func newGuardedRouter(limiter Limiter, rule Rule) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/api/orders/{trackingNumber}", Guard(limiter, rule, trackingNumberKey)(http.HandlerFunc(okHandler)))
	return r
}

func TestGuard_AllowedRequest(t *testing.T) {
	limiter, _ := newTestLimiter(t, MemoryOptions{})
	router := newGuardedRouter(limiter, Rule{Prefix: "order", Limit: 60, Window: time.Minute})

	req := httptest.NewRequest("GET", "/api/orders/TRK-ABC123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestGuard_DeniedRequest(t *testing.T) {
	limiter, _ := newTestLimiter(t, MemoryOptions{})
	router := newGuardedRouter(limiter, Rule{Prefix: "order", Limit: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/orders/TRK-ABC123", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// Third request should be denied
	req := httptest.NewRequest("GET", "/api/orders/TRK-ABC123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)

	// Verify JSON error body
	var errResp map[string]interface{}
	err = json.NewDecoder(rr.Body).Decode(&errResp)
	require.NoError(t, err)
	assert.Equal(t, "Too many requests", errResp["error"])
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errResp["code"])
}

func TestGuard_IdentifiersShareBudgetAfterTrim(t *testing.T) {
	limiter, _ := newTestLimiter(t, MemoryOptions{})
	rule := Rule{Prefix: "order", Limit: 1, Window: time.Minute}

	padded := " TRK-1 "
	handler := Guard(limiter, rule, func(*http.Request) string { return padded })(http.HandlerFunc(okHandler))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	padded = "TRK-1"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestGuard_PrefixesSeparateBudgets(t *testing.T) {
	limiter, _ := newTestLimiter(t, MemoryOptions{})
	id := func(*http.Request) string { return "TRK-1" }

	orders := Guard(limiter, Rule{Prefix: "order", Limit: 1, Window: time.Minute}, id)(http.HandlerFunc(okHandler))
	pages := Guard(limiter, Rule{Prefix: "page", Limit: 1, Window: time.Minute}, id)(http.HandlerFunc(okHandler))

	rr := httptest.NewRecorder()
	orders.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	pages.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGuard_FailsOpen(t *testing.T) {
	router := newGuardedRouter(failingLimiter{}, Rule{Prefix: "order", Limit: 1, Window: time.Minute})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/orders/TRK-ABC123", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestGuard_ClientIPThrottle(t *testing.T) {
	limiter := NewTokenBucket(2, 5*time.Minute)
	defer limiter.Close()

	handler := Guard(limiter, Rule{Prefix: "admin", Limit: 60, Window: time.Minute}, ClientIP)(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/orders", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	req := httptest.NewRequest("POST", "/api/orders", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Another client is unaffected
	req = httptest.NewRequest("POST", "/api/orders", nil)
	req.RemoteAddr = "10.0.0.2:4242"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"x-forwarded-for ignored", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "10.0.0.1"},
		{"x-real-ip ignored", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.99"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestProxyTrust_ClientIP(t *testing.T) {
	trust := NewProxyTrust([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.1/32"),
	})

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		realIP     string
		want       string
	}{
		{"untrusted peer ignores headers", "198.51.100.7:5000", []string{"203.0.113.50"}, "203.0.113.99", "198.51.100.7"},
		{"trusted peer single hop", "10.0.0.5:443", []string{"203.0.113.50"}, "", "203.0.113.50"},
		{"rightmost untrusted hop wins", "10.0.0.5:443", []string{"192.0.2.77, 203.0.113.50"}, "", "203.0.113.50"},
		{"trusted hops are skipped", "10.0.0.5:443", []string{"203.0.113.50, 172.16.0.1, 10.1.2.3"}, "", "203.0.113.50"},
		{"repeated headers are joined", "10.0.0.5:443", []string{"192.0.2.77", "203.0.113.50"}, "", "203.0.113.50"},
		{"all hops trusted", "10.0.0.5:443", []string{"10.9.9.9, 172.16.0.1"}, "", "10.9.9.9"},
		{"x-real-ip from trusted peer", "10.0.0.5:443", nil, "203.0.113.99", "203.0.113.99"},
		{"trusted peer without headers", "10.0.0.5:443", nil, "", "10.0.0.5"},
		{"mapped ipv4 peer is trusted", "[::ffff:10.0.0.5]:443", []string{"203.0.113.50"}, "", "203.0.113.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, trust.ClientIP(req))
		})
	}
}

func TestProxyTrust_NoPrefixesMatchesClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")

	assert.Equal(t, ClientIP(req), NewProxyTrust(nil).ClientIP(req))
}

func TestGuard_RetryAfterFollowsLimiterClock(t *testing.T) {
	limiter, clock := newTestLimiter(t, MemoryOptions{})
	router := newGuardedRouter(limiter, Rule{Prefix: "order", Limit: 1, Window: time.Minute})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/orders/TRK-ABC123", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	clock.Advance(10 * time.Second)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/orders/TRK-ABC123", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "50", rr.Header().Get("Retry-After"))
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 1, retryAfter(now, now))
	assert.Equal(t, 1, retryAfter(now.Add(-time.Second), now))
	assert.Equal(t, 30, retryAfter(now.Add(29500*time.Millisecond), now))
}

func TestRule(t *testing.T) {
	rule := Rule{Prefix: "history", Limit: 60, Window: time.Minute}
	assert.Equal(t, "history:ACC-7H92Q3KD", rule.Key("ACC-7H92Q3KD"))
	assert.NoError(t, rule.Validate())

	assert.ErrorIs(t, Rule{Limit: 1, Window: time.Second}.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, Rule{Prefix: "x", Window: time.Second}.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, Rule{Prefix: "x", Limit: 1}.Validate(), ErrInvalidArgument)
}
