package models

import "time"

// OTAAccess binds one (tenant, license key) pair as the credential a fleet
// of anonymous embedded devices uses for OTA endpoints. At most one binding
// exists at a time, stored as a singleton row.
type OTAAccess struct {
	ID           int64     `gorm:"primaryKey"                json:"id"`
	TenantID     string    `gorm:"type:varchar(36);not null" json:"tenant_id"`
	LicenseKeyID string    `gorm:"type:varchar(36);not null" json:"license_key_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Tenant     *Tenant     `gorm:"foreignKey:TenantID"     json:"-"`
	LicenseKey *LicenseKey `gorm:"foreignKey:LicenseKeyID" json:"-"`
}
