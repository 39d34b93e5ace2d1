package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tracker/internal/models"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// warnUnknownKeys logs a warning when the YAML data holds keys the service does
// not understand. They are ignored by the main decoder, so a typo such as
// "rate_limits" would otherwise silently fall back to defaults.
func warnUnknownKeys(data []byte) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var scratch models.Config
	if err := dec.Decode(&scratch); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Config file contains keys that are not recognised and will be ignored", "error", err)
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	warnUnknownKeys(data)
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// loadFromEnvironment loads configuration from environment variables.
// Malformed numbers and durations are ignored and leave the previous value.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("TRACKER_PORT", &config.Server.Port)
	envString("TRACKER_HOST", &config.Server.Host)
	envDuration("TRACKER_READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("TRACKER_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("TRACKER_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TRACKER_TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TRACKER_TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TRACKER_TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envBool("TRACKER_CORS_ENABLED", &config.Server.CORS.Enabled)
	if origins := os.Getenv("TRACKER_CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.CORS.AllowedOrigins = splitList(origins)
	}

	// Storage configuration
	envString("TRACKER_STORAGE_TYPE", &config.Storage.Type)
	envString("TRACKER_STORAGE_PATH", &config.Storage.Path)
	envDuration("TRACKER_STORAGE_CACHE_TTL", &config.Storage.CacheTTL)
	envBool("TRACKER_STORAGE_SEED", &config.Storage.Seed)
	envString("TRACKER_DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("TRACKER_DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("TRACKER_DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Security configuration. ADMIN_API_KEY is accepted for deployments
	// that already export it; the prefixed variable wins.
	envString("ADMIN_API_KEY", &config.Security.AdminAPIKey)
	envString("TRACKER_ADMIN_API_KEY", &config.Security.AdminAPIKey)
	envInt("TRACKER_ADMIN_RATE_LIMIT_RPM", &config.Security.AdminRateLimit.RequestsPerMinute)
	envInt("TRACKER_ADMIN_RATE_LIMIT_BURST", &config.Security.AdminRateLimit.BurstSize)
	if proxies := os.Getenv("TRACKER_TRUSTED_PROXIES"); proxies != "" {
		config.Security.TrustedProxies = splitList(proxies)
	}

	// Rate limit configuration
	envString("TRACKER_RATE_LIMIT_BACKEND", &config.RateLimit.Backend)
	envDuration("TRACKER_RATE_LIMIT_CLEANUP_INTERVAL", &config.RateLimit.CleanupInterval)
	envInt("TRACKER_RATE_LIMIT_MAX_KEYS", &config.RateLimit.MaxKeys)
	envInt("TRACKER_RATE_LIMIT_ORDER_LOOKUP_LIMIT", &config.RateLimit.OrderLookup.Limit)
	envDuration("TRACKER_RATE_LIMIT_ORDER_LOOKUP_WINDOW", &config.RateLimit.OrderLookup.Window)
	envInt("TRACKER_RATE_LIMIT_HISTORY_LOOKUP_LIMIT", &config.RateLimit.HistoryLookup.Limit)
	envDuration("TRACKER_RATE_LIMIT_HISTORY_LOOKUP_WINDOW", &config.RateLimit.HistoryLookup.Window)

	// Redis configuration
	envString("TRACKER_REDIS_ADDR", &config.RateLimit.Redis.Addr)
	envString("TRACKER_REDIS_PASSWORD", &config.RateLimit.Redis.Password)
	envInt("TRACKER_REDIS_DB", &config.RateLimit.Redis.DB)
	envInt("TRACKER_REDIS_POOL_SIZE", &config.RateLimit.Redis.PoolSize)
	envString("TRACKER_REDIS_KEY_PREFIX", &config.RateLimit.Redis.KeyPrefix)

	// Logging configuration
	envString("TRACKER_LOG_LEVEL", &config.Logging.Level)
	envString("TRACKER_LOG_FORMAT", &config.Logging.Format)
	envString("TRACKER_LOG_OUTPUT", &config.Logging.Output)
	envString("TRACKER_LOG_FILE_PATH", &config.Logging.FilePath)
	envInt("TRACKER_LOG_MAX_SIZE", &config.Logging.MaxSize)
	envInt("TRACKER_LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("TRACKER_LOG_MAX_AGE", &config.Logging.MaxAge)
	envBool("TRACKER_LOG_COMPRESS", &config.Logging.Compress)

	// Metrics configuration
	envBool("TRACKER_METRICS_ENABLED", &config.Metrics.Enabled)
	envString("TRACKER_METRICS_PATH", &config.Metrics.Path)
	envInt("TRACKER_METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	envString("TRACKER_SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACKER_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACKER_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("TRACKER_TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACKER_TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	// Pages configuration
	envBool("TRACKER_PAGES_ENABLED", &config.Pages.Enabled)
	envString("TRACKER_PAGES_DEFAULT_LOCALE", &config.Pages.DefaultLocale)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Example persistent storage and TLS configuration
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/tracker.db"
	config.Storage.Seed = true
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	data = append([]byte("# Set the admin key through TRACKER_ADMIN_API_KEY rather than this file.\n"), data...)

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
