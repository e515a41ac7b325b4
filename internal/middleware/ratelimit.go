package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterRedis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/gimpeliovsky-prog/license-server/internal/metrics"
)

// RateLimitStoreType defines the type of rate limit store
type RateLimitStoreType string

const (
	// RateLimitStoreMemory uses in-memory storage (single instance only)
	RateLimitStoreMemory RateLimitStoreType = "memory"
	// RateLimitStoreRedis uses Redis storage (distributed, multi-pod support)
	RateLimitStoreRedis RateLimitStoreType = "redis"
)

// RateLimitConfig holds the configuration for rate limiting with store support
type RateLimitConfig struct {
	// Rate limit settings
	RequestsPerMinute int           // Number of requests allowed per minute
	CleanupInterval   time.Duration // How often to cleanup (only for memory store)

	// Endpoint is the label used for the rate-limit-exceeded metric
	Endpoint string

	// KeyGetter derives the limit bucket from the request; defaults to
	// client IP when nil
	KeyGetter func(c *gin.Context) string

	// Store settings
	StoreType RateLimitStoreType // "memory" or "redis"

	// RedisClient is an optional shared client; when nil and StoreType is
	// redis, a new client is created from the settings below
	RedisClient *redis.Client

	// Redis settings (only used when StoreType = "redis")
	RedisAddr     string // Redis address (e.g., "localhost:6379")
	RedisPassword string // Redis password (empty for no auth)
	RedisDB       int    // Redis database number (default: 0)
}

// CreateRedisClient creates and pings a Redis client for rate limiting.
func CreateRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRateLimiter creates a new rate limiter with configurable store backend
func NewRateLimiter(config RateLimitConfig, m metrics.Recorder) (gin.HandlerFunc, error) {
	// Create rate from requests per minute
	rate := limiter.Rate{
		Period: 1 * time.Minute,
		Limit:  int64(config.RequestsPerMinute),
	}

	var store limiter.Store
	var err error

	switch config.StoreType {
	case RateLimitStoreRedis:
		client := config.RedisClient
		if client == nil {
			client, err = CreateRedisClient(config.RedisAddr, config.RedisPassword, config.RedisDB)
			if err != nil {
				return nil, err
			}
		}

		// Create Redis store
		store, err = limiterRedis.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix:          "ratelimit:" + config.Endpoint,
			CleanUpInterval: config.CleanupInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis store: %w", err)
		}

	case RateLimitStoreMemory:
		fallthrough
	default:
		// Create memory store
		store = memory.NewStore()
	}

	// Create limiter instance
	instance := limiter.New(store, rate)

	options := []mgin.Option{
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			m.RecordRateLimitExceeded(config.Endpoint)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limit_exceeded",
				"error_description": "Too many requests. Please try again later.",
			})
			c.Abort()
		}),
	}
	if config.KeyGetter != nil {
		options = append(options, mgin.WithKeyGetter(config.KeyGetter))
	}

	return mgin.NewMiddleware(instance, options...), nil
}
