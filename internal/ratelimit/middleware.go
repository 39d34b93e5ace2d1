package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"tracker/internal/models"
)

// KeyFunc extracts the identifier a request is limited by.
type KeyFunc func(r *http.Request) string

// Guard returns HTTP middleware that charges every request against rule
// before the wrapped handler runs. The limiter key is the rule prefix joined
// with the trimmed identifier from keyFn.
//
// Rate limit headers are set on every response. Denied requests get 429 with
// Retry-After. When the limiter itself fails the request is let through and
// the failure is logged.
func Guard(limiter Limiter, rule Rule, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rule.Key(strings.TrimSpace(keyFn(r)))

			res, err := limiter.Check(r.Context(), key, rule.Limit, rule.Window)
			if err != nil {
				slog.Error("Rate limit check failed, allowing request",
					"key", key,
					"error", err,
					"request_id", models.RequestIDFromContext(r.Context()),
				)
				next.ServeHTTP(w, r)
				return
			}

			SetHeaders(w, res)

			if !res.Allowed {
				retryAfterSecs := retryAfter(res.ResetAt, res.checkedAt())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Too many requests", models.ErrorCodeRateLimitExceeded)
				errorResp.RequestID = models.RequestIDFromContext(r.Context())
				json.NewEncoder(w).Encode(errorResp)

				slog.Warn("Rate limit exceeded",
					"key", key,
					"limit", res.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the X-RateLimit-* headers for res.
func SetHeaders(w http.ResponseWriter, res Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// checkedAt is the limiter's own reading of now, so Retry-After follows the
// same clock as ResetAt. Limiters that leave it unset fall back to wall time.
func (r Result) checkedAt() time.Time {
	if r.CheckedAt.IsZero() {
		return time.Now()
	}
	return r.CheckedAt
}

// retryAfter is the whole number of seconds until resetAt, at least one.
func retryAfter(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ClientIP returns the TCP peer address of the request. Forwarding headers
// are ignored; use ProxyTrust when the service sits behind a proxy.
func ClientIP(r *http.Request) string {
	return remoteHost(r.RemoteAddr)
}

// ProxyTrust resolves the client address of a request. X-Forwarded-For and
// X-Real-IP are only honoured when the TCP peer is a trusted proxy, and then
// the client is the rightmost forwarded hop that is not itself trusted.
type ProxyTrust struct {
	trusted []netip.Prefix
}

// NewProxyTrust returns a resolver trusting peers inside the given prefixes.
// With no prefixes it behaves like ClientIP.
func NewProxyTrust(trusted []netip.Prefix) *ProxyTrust {
	return &ProxyTrust{trusted: trusted}
}

// ClientIP is a KeyFunc resolving the client address of r.
func (p *ProxyTrust) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !p.isTrusted(peer) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !p.isTrusted(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (p *ProxyTrust) isTrusted(host string) bool {
	if p == nil || len(p.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
