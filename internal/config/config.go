package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Metrics cache type constants
const (
	MetricsCacheTypeMemory = "memory"
	MetricsCacheTypeRedis  = "redis"
)

type Config struct {
	// Server settings
	ServerAddr   string
	BaseURL      string
	IsProduction bool

	// Token settings
	JWTSecret    string
	TokenTTLDays int

	// Subscription grace window
	GraceDays int

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string // connection string (DSN or sqlite path)

	// Admin API
	AdminToken string // X-Admin-Token value; empty disables the admin API

	// OTA settings
	OTADownloadSecret     string // empty disables signed download links
	OTADownloadTTLSeconds int
	FirmwareBasePath      string

	// Rate limiting
	EnableRateLimit          bool
	RateLimitStore           string // "memory" or "redis"
	RateLimitCleanupInterval time.Duration
	ActivateRateLimit        int // requests per minute
	RefreshRateLimit         int
	OTARateLimit             int

	// Redis (rate limit store and metrics cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Metrics
	MetricsEnabled             bool
	MetricsToken               string
	MetricsCacheType           string
	MetricsGaugeUpdateEnabled  bool
	MetricsGaugeUpdateInterval time.Duration

	// Audit logging
	EnableAuditLogging bool
	AuditLogBufferSize int
	AuditLogRetention  time.Duration
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", getEnv("DATABASE_PATH", "license.db"))
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		IsProduction: getEnvBool("IS_PRODUCTION", false),

		JWTSecret:    getEnv("JWT_SECRET", "your-256-bit-secret-change-in-production"),
		TokenTTLDays: getEnvInt("TOKEN_TTL_DAYS", 7),
		GraceDays:    getEnvInt("GRACE_DAYS", 7),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		AdminToken: getEnv("ADMIN_TOKEN", ""),

		OTADownloadSecret:     getEnv("OTA_DOWNLOAD_SECRET", ""),
		OTADownloadTTLSeconds: getEnvInt("OTA_DOWNLOAD_TTL_SECONDS", 300),
		FirmwareBasePath:      getEnv("FIRMWARE_BASE_PATH", "firmware"),

		EnableRateLimit:          getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:           getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		RateLimitCleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		ActivateRateLimit:        getEnvInt("RATE_LIMIT_ACTIVATE_PER_MINUTE", 5),
		RefreshRateLimit:         getEnvInt("RATE_LIMIT_REFRESH_PER_MINUTE", 10),
		OTARateLimit:             getEnvInt("RATE_LIMIT_OTA_PER_MINUTE", 30),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MetricsEnabled:             getEnvBool("METRICS_ENABLED", true),
		MetricsToken:               getEnv("METRICS_TOKEN", ""),
		MetricsCacheType:           getEnv("METRICS_CACHE_TYPE", MetricsCacheTypeMemory),
		MetricsGaugeUpdateEnabled:  getEnvBool("METRICS_GAUGE_UPDATE_ENABLED", true),
		MetricsGaugeUpdateInterval: getEnvDuration("METRICS_GAUGE_UPDATE_INTERVAL", time.Minute),

		EnableAuditLogging: getEnvBool("ENABLE_AUDIT_LOGGING", true),
		AuditLogBufferSize: getEnvInt("AUDIT_LOG_BUFFER_SIZE", 1000),
		AuditLogRetention:  getEnvDuration("AUDIT_LOG_RETENTION", 90*24*time.Hour),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction && c.JWTSecret == "your-256-bit-secret-change-in-production" {
		return errors.New("JWT_SECRET must be changed in production")
	}
	if c.TokenTTLDays <= 0 {
		return fmt.Errorf("TOKEN_TTL_DAYS must be positive, got %d", c.TokenTTLDays)
	}
	if c.GraceDays < 0 {
		return fmt.Errorf("GRACE_DAYS must not be negative, got %d", c.GraceDays)
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be: sqlite, postgres)", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if c.RateLimitStore != RateLimitStoreMemory && c.RateLimitStore != RateLimitStoreRedis {
		return fmt.Errorf("invalid RATE_LIMIT_STORE: %s (must be: memory, redis)", c.RateLimitStore)
	}
	if c.OTADownloadTTLSeconds <= 0 {
		return fmt.Errorf("OTA_DOWNLOAD_TTL_SECONDS must be positive, got %d", c.OTADownloadTTLSeconds)
	}
	return nil
}

// TokenTTL returns the access token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLDays) * 24 * time.Hour
}

// OTADownloadTTL returns the signed download link lifetime as a duration.
func (c *Config) OTADownloadTTL() time.Duration {
	return time.Duration(c.OTADownloadTTLSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
