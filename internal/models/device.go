package models

import "time"

// Device is an activated endpoint, identified by a device-supplied string
// unique within its tenant. Created lazily on first successful activation.
type Device struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID  string     `gorm:"type:varchar(36);not null;uniqueIndex:uq_device_tenant" json:"tenant_id"`
	DeviceID  string     `gorm:"type:varchar(128);not null;uniqueIndex:uq_device_tenant" json:"device_id"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Revoked   bool       `gorm:"not null;default:false" json:"revoked"`
	CreatedAt time.Time  `json:"created_at"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"-"`
}
