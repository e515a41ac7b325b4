package models

import "time"

// TenantStatus is the lifecycle status of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDisabled  TenantStatus = "disabled"
)

// Tenant is a customer account. Subscription expiry is the sole input to
// the grace-period logic; everything else is bookkeeping.
type Tenant struct {
	ID                    string       `gorm:"primaryKey;type:varchar(36)"        json:"id"`
	CompanyCode           string       `gorm:"uniqueIndex;type:varchar(64);not null" json:"company_code"`
	CompanyName           string       `gorm:"type:varchar(255)"                  json:"company_name"`
	Status                TenantStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	SubscriptionExpiresAt time.Time    `gorm:"not null"                           json:"subscription_expires_at"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`

	LicenseKeys []LicenseKey `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"-"`
	Devices     []Device     `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsActive reports whether the tenant may authenticate at all.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantActive
}
