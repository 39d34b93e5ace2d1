package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"tracker/internal/models"
	"tracker/internal/ratelimit"
)

// Limiter key prefixes. The JSON lookup and the tracking page share a prefix
// and so share one budget per tracking number.
const (
	OrderLookupPrefix   = "order"
	HistoryLookupPrefix = "history"
	AdminPrefix         = "admin"
)

// Limiters are the rate limiters the router guards endpoints with. Lookup is
// required; a nil Admin leaves the admin API unthrottled.
type Limiters struct {
	Lookup ratelimit.Limiter
	Admin  ratelimit.Limiter
}

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/health"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API and pages
func SetupRoutes(handlers *Handlers, config *models.Config, limiters Limiters, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	orderGuard := ratelimit.Guard(limiters.Lookup, ratelimit.Rule{
		Prefix: OrderLookupPrefix,
		Limit:  config.RateLimit.OrderLookup.Limit,
		Window: config.RateLimit.OrderLookup.Window,
	}, pathVar("trackingNumber"))

	historyGuard := ratelimit.Guard(limiters.Lookup, ratelimit.Rule{
		Prefix: HistoryLookupPrefix,
		Limit:  config.RateLimit.HistoryLookup.Limit,
		Window: config.RateLimit.HistoryLookup.Window,
	}, pathVar("accessCode"))

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeAPIDocs).Methods("GET")

	// Public lookups. The limiter runs before the handler validates anything.
	publicAPI := api.PathPrefix("").Subrouter()
	publicAPI.Handle("/orders/{trackingNumber}", orderGuard(http.HandlerFunc(handlers.LookupOrder))).Methods("GET")
	publicAPI.Handle("/history/{accessCode}", historyGuard(http.HandlerFunc(handlers.CustomerHistory))).Methods("GET")

	// Admin API: throttled per client IP, then the shared secret.
	adminAPI := api.PathPrefix("").Subrouter()
	if limiters.Admin != nil && config.Security.AdminRateLimit.RequestsPerMinute > 0 {
		proxies, err := models.ParseTrustedProxies(config.Security.TrustedProxies)
		if err != nil {
			slog.Error("Ignoring trusted proxies, forwarding headers will not be used", "error", err)
			proxies = nil
		}
		clients := ratelimit.NewProxyTrust(proxies)
		adminAPI.Use(ratelimit.Guard(limiters.Admin, ratelimit.Rule{
			Prefix: AdminPrefix,
			Limit:  config.Security.AdminRateLimit.RequestsPerMinute,
			Window: time.Minute,
		}, clients.ClientIP))
	}
	adminAPI.Use(requireAPIKey(config.Security.AdminAPIKey))
	adminAPI.HandleFunc("/orders", handlers.CreateOrder).Methods("POST")
	adminAPI.HandleFunc("/shipments/{trackingNumber}/events", handlers.AddEvent).Methods("POST")

	if handlers.pages != nil {
		pages := handlers.pages
		locales := strings.Join(pages.locales.locales, "|")

		router.HandleFunc("/", pages.RedirectLocalized).Methods("GET")
		router.HandleFunc("/track", pages.RedirectLocalized).Methods("GET")
		router.HandleFunc("/track/{trackingNumber}", pages.RedirectLocalized).Methods("GET")
		router.HandleFunc("/history/{accessCode}", pages.RedirectLocalized).Methods("GET")

		localized := router.PathPrefix("/{locale:" + locales + "}").Subrouter()
		localized.HandleFunc("/track", pages.TrackForm).Methods("GET")
		localized.Handle("/track/{trackingNumber}", orderGuard(http.HandlerFunc(pages.TrackPage))).Methods("GET")
		localized.Handle("/history/{accessCode}", historyGuard(http.HandlerFunc(pages.HistoryPage))).Methods("GET")

		router.NotFoundHandler = requestIDMiddleware(loggingMiddleware(notFoundSwitch(pages.NotFound)))
	} else {
		router.NotFoundHandler = requestIDMiddleware(loggingMiddleware(http.HandlerFunc(apiNotFound)))
	}

	var methodNotAllowed http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeBadRequest, "Method not allowed")
	})
	// Preflight requests never match a route, so CORS answers them here.
	if config.Server.CORS.Enabled {
		methodNotAllowed = corsMiddleware(config.Server.CORS)(methodNotAllowed)
	}
	router.MethodNotAllowedHandler = methodNotAllowed

	return router
}

// pathVar returns a limiter key function reading the named route variable.
func pathVar(name string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		return mux.Vars(r)[name]
	}
}

// notFoundSwitch answers unknown /api paths with JSON and everything else
// with the 404 page.
func notFoundSwitch(page http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			apiNotFound(w, r)
			return
		}
		page(w, r)
	})
}

func apiNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
}
