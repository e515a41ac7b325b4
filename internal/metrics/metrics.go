package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Activation Metrics
	ActivationsTotal        *prometheus.CounterVec
	TokensIssuedTotal       *prometheus.CounterVec
	TokensRefreshedTotal    *prometheus.CounterVec
	TokenValidationTotal    *prometheus.CounterVec
	TokenGenerationDuration prometheus.Histogram
	TokenValidationDuration prometheus.Histogram

	// OTA Metrics
	OTAChecksTotal        *prometheus.CounterVec
	OTADownloadsTotal     *prometheus.CounterVec
	OTAStatusReportsTotal *prometheus.CounterVec
	OTAUpdatesInFlight    prometheus.Gauge

	// Rate Limit Metrics
	RateLimitExceededTotal *prometheus.CounterVec

	// Fleet Gauges
	DevicesActive prometheus.Gauge
	TenantsActive prometheus.Gauge

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Database Query Metrics
	DatabaseQueryErrorsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag
// If enabled=true, returns Prometheus-based Metrics
// If enabled=false, returns NoopMetrics (zero overhead)
// Uses sync.Once to ensure Prometheus metrics are only registered once
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

// initMetrics creates and registers all Prometheus metrics
func initMetrics() *Metrics {
	m := &Metrics{
		// Activation Metrics
		ActivationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "license_activations_total",
				Help: "Total number of device activation attempts",
			},
			[]string{"result"}, // success, invalid_credential, tenant_disabled, subscription_expired, device_revoked, error
		),
		TokensIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "license_tokens_issued_total",
				Help: "Total number of access tokens issued",
			},
			[]string{"grant_type"}, // activation, refresh
		),
		TokensRefreshedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "license_tokens_refreshed_total",
				Help: "Total number of token refresh attempts",
			},
			[]string{"result"}, // success, error
		),
		TokenValidationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "license_token_validation_total",
				Help: "Total number of token validations",
			},
			[]string{"result"}, // valid, invalid, expired
		),
		TokenGenerationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "license_token_generation_duration_seconds",
				Help:    "Time taken to generate tokens",
				Buckets: prometheus.DefBuckets,
			},
		),
		TokenValidationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "license_token_validation_duration_seconds",
				Help:    "Time taken to validate tokens",
				Buckets: prometheus.DefBuckets,
			},
		),

		// OTA Metrics
		OTAChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_checks_total",
				Help: "Total number of OTA update checks",
			},
			[]string{"result"}, // update_available, up_to_date, gated, error
		),
		OTADownloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_downloads_total",
				Help: "Total number of firmware download attempts",
			},
			[]string{"result"}, // success, error
		),
		OTAStatusReportsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_status_reports_total",
				Help: "Total number of OTA status reports from devices",
			},
			[]string{"status"}, // downloading, installing, success, failed, other
		),
		OTAUpdatesInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ota_updates_in_flight",
				Help: "Current number of OTA rollouts started but not finished",
			},
		),

		// Rate Limit Metrics
		RateLimitExceededTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_exceeded_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"endpoint"}, // activate, refresh, ota
		),

		// Fleet Gauges
		DevicesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "devices_active",
				Help: "Current number of non-revoked devices seen recently",
			},
		),
		TenantsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenants_active",
				Help: "Current number of active tenants",
			},
		),

		// HTTP Request Metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request latency in seconds",
				Buckets: []float64{
					0.001,
					0.005,
					0.010,
					0.025,
					0.050,
					0.100,
					0.250,
					0.500,
					1.0,
					2.5,
					5.0,
					10.0,
				},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
		),

		// Database Query Metrics
		DatabaseQueryErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_query_errors_total",
				Help: "Total number of database query errors during metric collection",
			},
			[]string{"operation"}, // count_active_devices, count_active_tenants, count_ota_in_flight
		),
	}

	return m
}
