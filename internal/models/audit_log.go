package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types.
const (
	AuditEventActivation        = "activation"
	AuditEventActivationFailed  = "activation_failed"
	AuditEventTokenRefresh      = "token_refresh"
	AuditEventRateLimitExceeded = "rate_limit_exceeded"
	AuditEventOTACheck          = "ota_check"
	AuditEventOTADownload       = "ota_download"
	AuditEventOTAStatus         = "ota_status"
	AuditEventAdminAction       = "admin_action"
)

// AuditDetails holds arbitrary event metadata, stored as JSON.
type AuditDetails map[string]any

// Value implements driver.Valuer for database storage.
func (d AuditDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for database retrieval.
func (d *AuditDetails) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("cannot scan %T into AuditDetails", value)
	}
}

// AuditLog records a security-relevant event.
type AuditLog struct {
	ID        string       `gorm:"primaryKey;type:varchar(36)"     json:"id"`
	EventType string       `gorm:"type:varchar(32);not null;index" json:"event_type"`
	TenantID  string       `gorm:"type:varchar(36);index"          json:"tenant_id,omitempty"`
	DeviceID  string       `gorm:"type:varchar(128);index"         json:"device_id,omitempty"`
	IPAddress string       `gorm:"type:varchar(45)"                json:"ip_address,omitempty"`
	Success   bool         `gorm:"not null"                        json:"success"`
	Details   AuditDetails `gorm:"type:text"                       json:"details,omitempty"`
	CreatedAt time.Time    `gorm:"index"                           json:"created_at"`
}
