package services

import "errors"

var (
	// ErrInvalidCredential is returned when a license key matches nothing.
	// Unknown company codes collapse into this error too, so responses
	// never reveal whether a tenant exists.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrTenantNotFound is returned when a token references a tenant that
	// no longer exists
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantDisabled is returned when the tenant is suspended or disabled
	ErrTenantDisabled = errors.New("tenant disabled")

	// ErrSubscriptionExpired is returned when neither the subscription nor
	// its grace window permits the operation
	ErrSubscriptionExpired = errors.New("subscription expired")

	// ErrDeviceRevoked is returned when the device has been revoked
	ErrDeviceRevoked = errors.New("device revoked")

	// ErrFirmwareNotFound is returned when the requested firmware does not
	// exist or is inactive
	ErrFirmwareNotFound = errors.New("firmware not found")

	// ErrDownloadSignatureInvalid is returned when a signed download link
	// carries a bad signature
	ErrDownloadSignatureInvalid = errors.New("download signature invalid")

	// ErrDownloadLinkExpired is returned when a signed download link has
	// passed its expiry
	ErrDownloadLinkExpired = errors.New("download link expired")
)
