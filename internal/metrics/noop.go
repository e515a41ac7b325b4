package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder
// All methods are empty and do nothing, providing zero overhead when metrics are disabled
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

// Activation flow - noop implementations
func (n *NoopMetrics) RecordActivation(result string)                                      {}
func (n *NoopMetrics) RecordTokenIssued(grantType string, generationTime time.Duration)    {}
func (n *NoopMetrics) RecordTokenValidation(result string, duration time.Duration)         {}
func (n *NoopMetrics) RecordTokenRefresh(success bool)                                     {}

// OTA flow - noop implementations
func (n *NoopMetrics) RecordOTACheck(result string)       {}
func (n *NoopMetrics) RecordOTADownload(success bool)     {}
func (n *NoopMetrics) RecordOTAStatusReport(status string) {}

// Rate limiting - noop implementations
func (n *NoopMetrics) RecordRateLimitExceeded(endpoint string) {}

// Gauge Setters - noop implementations
func (n *NoopMetrics) SetActiveDevicesCount(count int64) {}
func (n *NoopMetrics) SetActiveTenantsCount(count int64) {}
func (n *NoopMetrics) SetOTAInFlightCount(count int64)   {}

// Database Operations - noop implementations
func (n *NoopMetrics) RecordDatabaseQueryError(operation string) {}
