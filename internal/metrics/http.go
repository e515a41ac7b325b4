package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gimpeliovsky-prog/license-server/internal/models"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

// HTTPMetricsMiddleware creates a Gin middleware that records HTTP metrics
func HTTPMetricsMiddleware(m Recorder) gin.HandlerFunc {
	// If NoopMetrics, return a lightweight middleware that does nothing
	if _, ok := m.(*NoopMetrics); ok {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	// Type assert to concrete Metrics for Prometheus access
	metrics, ok := m.(*Metrics)
	if !ok {
		// Fallback if unknown implementation
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		// Skip metrics endpoint to avoid self-recording
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()

		// Increment in-flight counter
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		// Process request
		c.Next()

		// Record metrics after request completes
		duration := time.Since(start).Seconds()
		method := c.Request.Method
		path := normalizePath(c.FullPath()) // Use route pattern, not actual path
		status := strconv.Itoa(c.Writer.Status())

		// Record request count
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()

		// Record request duration
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// normalizePath converts the actual request path to route pattern
// Returns the route pattern (e.g., "/users/:id") or the path itself if no match
func normalizePath(fullPath string) string {
	if fullPath == "" {
		return "unknown"
	}
	return fullPath
}

// RecordActivation records a device activation attempt
func (m *Metrics) RecordActivation(result string) {
	m.ActivationsTotal.WithLabelValues(result).Inc()
}

// RecordTokenIssued records token issuance
func (m *Metrics) RecordTokenIssued(grantType string, generationTime time.Duration) {
	m.TokensIssuedTotal.WithLabelValues(grantType).Inc()
	m.TokenGenerationDuration.Observe(generationTime.Seconds())
}

// RecordTokenValidation records token validation
func (m *Metrics) RecordTokenValidation(result string, duration time.Duration) {
	// result: valid, invalid, expired
	m.TokenValidationTotal.WithLabelValues(result).Inc()
	m.TokenValidationDuration.Observe(duration.Seconds())
}

// RecordTokenRefresh records token refresh attempt
func (m *Metrics) RecordTokenRefresh(success bool) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.TokensRefreshedTotal.WithLabelValues(result).Inc()
}

// RecordOTACheck records an OTA update check
func (m *Metrics) RecordOTACheck(result string) {
	// result: update_available, up_to_date, gated, error
	m.OTAChecksTotal.WithLabelValues(result).Inc()
}

// RecordOTADownload records a firmware download attempt
func (m *Metrics) RecordOTADownload(success bool) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.OTADownloadsTotal.WithLabelValues(result).Inc()
}

// RecordOTAStatusReport records an OTA status report from a device
func (m *Metrics) RecordOTAStatusReport(status string) {
	switch status {
	case models.OTAStatusDownloading, models.OTAStatusInstalling,
		models.OTAStatusSuccess, models.OTAStatusFailed:
	default:
		status = "other"
	}
	m.OTAStatusReportsTotal.WithLabelValues(status).Inc()
}

// RecordRateLimitExceeded records a rate-limited request
func (m *Metrics) RecordRateLimitExceeded(endpoint string) {
	m.RateLimitExceededTotal.WithLabelValues(endpoint).Inc()
}

// SetActiveDevicesCount sets the current count of active devices (for periodic updates)
func (m *Metrics) SetActiveDevicesCount(count int64) {
	m.DevicesActive.Set(float64(count))
}

// SetActiveTenantsCount sets the current count of active tenants (for periodic updates)
func (m *Metrics) SetActiveTenantsCount(count int64) {
	m.TenantsActive.Set(float64(count))
}

// SetOTAInFlightCount sets the current count of in-flight OTA rollouts (for periodic updates)
func (m *Metrics) SetOTAInFlightCount(count int64) {
	m.OTAUpdatesInFlight.Set(float64(count))
}

// RecordDatabaseQueryError records a database query error during metric collection
func (m *Metrics) RecordDatabaseQueryError(operation string) {
	m.DatabaseQueryErrorsTotal.WithLabelValues(operation).Inc()
}
