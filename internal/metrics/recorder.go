package metrics

import "time"

// Recorder is the interface services use to record metrics. The Prometheus
// implementation and NoopMetrics both satisfy it, so metrics can be
// disabled without branching at every call site.
type Recorder interface {
	// Activation flow
	RecordActivation(result string)
	RecordTokenIssued(grantType string, generationTime time.Duration)
	RecordTokenValidation(result string, duration time.Duration)
	RecordTokenRefresh(success bool)

	// OTA flow
	RecordOTACheck(result string)
	RecordOTADownload(success bool)
	RecordOTAStatusReport(status string)

	// Rate limiting
	RecordRateLimitExceeded(endpoint string)

	// Gauge setters for periodic updates
	SetActiveDevicesCount(count int64)
	SetActiveTenantsCount(count int64)
	SetOTAInFlightCount(count int64)

	// Database operations
	RecordDatabaseQueryError(operation string)
}
