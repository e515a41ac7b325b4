package models

import "time"

// LicenseKeyStatus is the lifecycle status of a license key.
type LicenseKeyStatus string

const (
	LicenseKeyActive  LicenseKeyStatus = "active"
	LicenseKeyRevoked LicenseKeyStatus = "revoked"
)

// LicenseKey stores only a one-way bcrypt hash of the raw secret plus an
// optional deterministic fingerprint of its normalized form. The
// fingerprint is an index used to narrow candidates before the slow hash
// comparison; the hash remains the source of truth. Keys created before
// fingerprinting existed have a NULL fingerprint and are matched by hash
// comparison alone.
type LicenseKey struct {
	ID          string           `gorm:"primaryKey;type:varchar(36)"      json:"id"`
	TenantID    string           `gorm:"type:varchar(36);not null;index"  json:"tenant_id"`
	HashedKey   string           `gorm:"uniqueIndex;type:varchar(255);not null" json:"-"`
	Fingerprint *string          `gorm:"uniqueIndex;type:varchar(64)"     json:"-"`
	Status      LicenseKeyStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	CreatedAt   time.Time        `json:"created_at"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"-"`
}
