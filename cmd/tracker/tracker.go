package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracker/internal/api"
	"tracker/internal/config"
	"tracker/internal/logger"
	"tracker/internal/models"
	"tracker/internal/observability"
	"tracker/internal/ratelimit"
	"tracker/internal/storage"
	"tracker/internal/tracking"
	"tracker/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	seedData      = flag.Bool("seed", false, "Load demo customers and orders on startup")
	showVersion   = flag.Bool("version", false, "Print version and exit")
	exampleConfig = flag.String("example-config", "", "Write an example configuration file to this path and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	store, err := initializeStorage(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer store.Close()

	trackingService := tracking.NewService(store)

	if cfg.Storage.Seed || *seedData {
		seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := trackingService.Seed(seedCtx)
		cancel()
		if err != nil {
			slog.Error("Failed to seed demo data", "error", err)
			os.Exit(1)
		}
	}

	// Rate limiters: fixed window on lookups, token bucket on the admin API
	lookupLimiter, limiterHealth, err := initializeLimiter(cfg)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err, "backend", cfg.RateLimit.Backend)
		os.Exit(1)
	}
	defer lookupLimiter.Close()

	adminLimiter := ratelimit.NewTokenBucket(cfg.Security.AdminRateLimit.BurstSize, cfg.Security.AdminRateLimit.CleanupInterval)
	defer adminLimiter.Close()

	if cfg.Security.AdminAPIKey == "" {
		slog.Warn("No admin API key configured; admin endpoints will refuse every request")
	}

	handlerOpts := []api.HandlerOption{api.WithVersion(ver)}
	if limiterHealth != nil {
		handlerOpts = append(handlerOpts, api.WithLimiterHealth(limiterHealth))
	}
	if cfg.Pages.Enabled {
		pages, err := api.NewPages(trackingService, cfg.Pages.DefaultLocale)
		if err != nil {
			slog.Error("Failed to initialize pages", "error", err)
			os.Exit(1)
		}
		handlerOpts = append(handlerOpts, api.WithPages(pages))
	}
	handlers := api.NewHandlers(trackingService, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, api.Limiters{Lookup: lookupLimiter, Admin: adminLimiter}, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"version", ver.Version,
			"storage", cfg.Storage.Type,
			"rate_limit_backend", cfg.RateLimit.Backend,
			"tls", cfg.Server.TLSEnabled)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
	if exitCode != 0 {
		// os.Exit skips deferred cleanup.
		store.Close()
		os.Exit(exitCode)
	}
}

// initializeStorage creates the configured storage backend, wrapped with
// instrumentation when metrics or tracing are on.
func initializeStorage(cfg *models.Config) (storage.Storage, error) {
	store, err := storage.NewFactory().Open(context.Background(), cfg.Storage)
	if err != nil {
		return nil, err
	}

	if !cfg.Metrics.Enabled && !cfg.Observability.Tracing.Enabled {
		return store, nil
	}

	instrumented, err := observability.NewInstrumentedStorage(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to instrument storage: %w", err)
	}
	return instrumented, nil
}

// initializeLimiter creates the lookup limiter for the configured backend.
// Backends with an external store also return a pinger for the health check.
func initializeLimiter(cfg *models.Config) (ratelimit.Limiter, api.Pinger, error) {
	rl := cfg.RateLimit

	var (
		limiter ratelimit.Limiter
		health  api.Pinger
	)
	switch rl.Backend {
	case models.RateLimitBackendMemory:
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryOptions{
			CleanupInterval: rl.CleanupInterval,
			MaxKeys:         rl.MaxKeys,
		})
	case models.RateLimitBackendRedis:
		redisLimiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisOptions{
			Address:   rl.Redis.Addr,
			Password:  rl.Redis.Password,
			DB:        rl.Redis.DB,
			PoolSize:  rl.Redis.PoolSize,
			KeyPrefix: rl.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		limiter = redisLimiter
		health = redisLimiter
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit backend: %s", rl.Backend)
	}

	if !cfg.Metrics.Enabled && !cfg.Observability.Tracing.Enabled {
		return limiter, health, nil
	}

	instrumented, err := observability.NewInstrumentedLimiter(limiter, rl.Backend)
	if err != nil {
		limiter.Close()
		return nil, nil, fmt.Errorf("failed to instrument limiter: %w", err)
	}
	return instrumented, health, nil
}
