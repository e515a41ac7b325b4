package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gimpeliovsky-prog/license-server/internal/metrics"
)

func newRateLimitedRouter(t *testing.T, requestsPerMinute int) *gin.Engine {
	gin.SetMode(gin.TestMode)

	limiter, err := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: requestsPerMinute,
		StoreType:         RateLimitStoreMemory,
		CleanupInterval:   1 * time.Minute,
		Endpoint:          "test",
	}, metrics.NewNoopMetrics())
	require.NoError(t, err)
	require.NotNil(t, limiter)

	router := gin.New()
	router.Use(limiter)
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	return router
}

func TestNewRateLimiter_MemoryStore(t *testing.T) {
	router := newRateLimitedRouter(t, 5)

	// First requests should succeed
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Forwarded-For", "192.168.1.100")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "Request %d should succeed", i+1)
	}

	// Next request should be rate limited
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.100")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code, "Request should be rate limited")
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestRateLimiter_DifferentIPs(t *testing.T) {
	router := newRateLimitedRouter(t, 2)

	// Each IP gets its own bucket
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("X-Forwarded-For", ip)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
		}
	}
}

func TestNewRateLimiter_CustomKeyGetter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter, err := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 1,
		StoreType:         RateLimitStoreMemory,
		CleanupInterval:   1 * time.Minute,
		Endpoint:          "test",
		KeyGetter: func(c *gin.Context) string {
			return c.GetHeader("X-Device-ID")
		},
	}, metrics.NewNoopMetrics())
	require.NoError(t, err)

	router := gin.New()
	router.Use(limiter)
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(deviceID string) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Device-ID", deviceID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("device-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("device-1"))
	// A different device is a different bucket
	assert.Equal(t, http.StatusOK, send("device-2"))
}

func TestCreateRedisClient_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis connection test in short mode")
	}

	_, err := CreateRedisClient("127.0.0.1:1", "", 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestNewRateLimiter_DefaultsToMemory(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter, err := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 10,
		StoreType:         RateLimitStoreType("bogus"),
		Endpoint:          "test",
	}, metrics.NewNoopMetrics())
	require.NoError(t, err)

	router := gin.New()
	router.Use(limiter)
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
