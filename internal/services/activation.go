package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gimpeliovsky-prog/license-server/internal/license"
	"github.com/gimpeliovsky-prog/license-server/internal/metrics"
	"github.com/gimpeliovsky-prog/license-server/internal/models"
	"github.com/gimpeliovsky-prog/license-server/internal/store"
	"github.com/gimpeliovsky-prog/license-server/internal/subscription"
	"github.com/gimpeliovsky-prog/license-server/internal/token"
	"github.com/gimpeliovsky-prog/license-server/internal/util"

	"github.com/google/uuid"
)

// ActivateInput is the device-facing activation request.
type ActivateInput struct {
	LicenseKey  string
	DeviceID    string
	CompanyCode string // optional tenant hint
}

// TokenResult is the output of a successful activation or refresh.
type TokenResult struct {
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ServerTime  time.Time
}

// StatusResult is the subscription introspection output.
type StatusResult struct {
	TenantStatus          models.TenantStatus
	SubscriptionActive    bool
	GraceActive           bool
	SubscriptionExpiresAt time.Time
	TokenExpiresAt        time.Time
	ServerTime            time.Time
}

// RequestContext is the per-request authentication state built from a
// bearer token. Middleware attaches it to the request for handlers.
type RequestContext struct {
	Tenant *models.Tenant
	Device *models.Device
	Claims *token.Claims
	State  subscription.State
}

// ActivationService orchestrates license key matching, device binding,
// subscription checks and token issuance.
type ActivationService struct {
	store     *store.Store
	codec     *token.Codec
	matcher   *license.Matcher
	audit     *AuditService
	metrics   metrics.Recorder
	graceDays int

	// now is injectable for tests
	now func() time.Time
}

func NewActivationService(
	s *store.Store,
	codec *token.Codec,
	audit *AuditService,
	m metrics.Recorder,
	graceDays int,
) *ActivationService {
	return &ActivationService{
		store:     s,
		codec:     codec,
		matcher:   license.NewMatcher(s),
		audit:     audit,
		metrics:   m,
		graceDays: graceDays,
		now:       time.Now,
	}
}

// Activate performs the device activation state machine: resolve tenant,
// match license key, upsert device, issue token, record audit. The device
// upsert and audit row commit in one transaction.
//
// Activation requires the subscription itself to be unexpired; the grace
// window only applies to token reuse via Refresh.
func (s *ActivationService) Activate(ctx context.Context, in ActivateInput) (*TokenResult, error) {
	now := s.now().UTC()

	tenant, key, err := s.resolveCredential(in.CompanyCode, in.LicenseKey, now)
	if err != nil {
		s.recordActivationFailure(ctx, in, err)
		return nil, err
	}

	start := time.Now()
	signed, claims, err := s.codec.Issue(tenant.ID, in.DeviceID)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(func(tx *store.Store) error {
		device, err := tx.GetDevice(tenant.ID, in.DeviceID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if device != nil && device.Revoked {
			return ErrDeviceRevoked
		}
		if _, err := tx.UpsertDevice(tenant.ID, in.DeviceID, now); err != nil {
			return fmt.Errorf("failed to upsert device: %w", err)
		}

		if s.audit.Enabled() {
			return tx.CreateAuditLog(&models.AuditLog{
				ID:        uuid.New().String(),
				EventType: models.AuditEventActivation,
				TenantID:  tenant.ID,
				DeviceID:  in.DeviceID,
				IPAddress: util.GetIPFromContext(ctx),
				Success:   true,
				Details: models.AuditDetails{
					"key_id":     key.ID,
					"expires_at": claims.ExpiresAt.Unix(),
				},
				CreatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDeviceRevoked) {
			s.recordActivationFailure(ctx, in, ErrDeviceRevoked)
			return nil, ErrDeviceRevoked
		}
		return nil, err
	}

	s.metrics.RecordActivation("success")
	s.metrics.RecordTokenIssued("activation", time.Since(start))

	return &TokenResult{
		AccessToken: signed,
		IssuedAt:    claims.IssuedAt,
		ExpiresAt:   claims.ExpiresAt,
		ServerTime:  now,
	}, nil
}

// resolveCredential finds the tenant and license key for an activation and
// enforces the tenant lifecycle. With a company-code hint the match is
// scoped to that tenant, and the status and subscription checks run before
// the key is matched, so an expired hinted tenant reports its real state
// regardless of the key. Without a hint the key is matched globally, the
// tenant derived from it, and the same checks run afterwards. Unknown
// company codes collapse to ErrInvalidCredential.
func (s *ActivationService) resolveCredential(
	companyCode, rawKey string, now time.Time,
) (*models.Tenant, *models.LicenseKey, error) {
	if companyCode != "" {
		tenant, err := s.store.GetTenantByCompanyCode(companyCode)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCredential
		}
		if err != nil {
			return nil, nil, err
		}
		if err := checkTenantLifecycle(tenant, now); err != nil {
			return nil, nil, err
		}
		key, err := s.matcher.Match(tenant.ID, rawKey)
		if err != nil {
			return nil, nil, err
		}
		if key == nil {
			return nil, nil, ErrInvalidCredential
		}
		return tenant, key, nil
	}

	key, err := s.matcher.Match("", rawKey)
	if err != nil {
		return nil, nil, err
	}
	if key == nil {
		return nil, nil, ErrInvalidCredential
	}
	tenant, err := s.store.GetTenantByID(key.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkTenantLifecycle(tenant, now); err != nil {
		return nil, nil, err
	}
	return tenant, key, nil
}

// checkTenantLifecycle gates activation on tenant status and a strictly
// unexpired subscription. Grace never applies here; it only covers token
// refresh for already-activated devices.
func checkTenantLifecycle(tenant *models.Tenant, now time.Time) error {
	if !tenant.IsActive() {
		return ErrTenantDisabled
	}
	if now.After(tenant.SubscriptionExpiresAt) {
		return ErrSubscriptionExpired
	}
	return nil
}

func (s *ActivationService) recordActivationFailure(ctx context.Context, in ActivateInput, cause error) {
	s.metrics.RecordActivation(activationResult(cause))
	s.audit.Log(ctx, AuditLogEntry{
		EventType: models.AuditEventActivationFailed,
		DeviceID:  in.DeviceID,
		Success:   false,
		Details: models.AuditDetails{
			"company_code": in.CompanyCode,
			"reason":       cause.Error(),
		},
	})
}

func activationResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrTenantDisabled):
		return "tenant_disabled"
	case errors.Is(err, ErrSubscriptionExpired):
		return "subscription_expired"
	case errors.Is(err, ErrDeviceRevoked):
		return "device_revoked"
	default:
		return "error"
	}
}

// Refresh re-evaluates the grace window with the original issued_at and a
// fresh now, then mints a new token with issued_at reset to the refresh
// time. The presented token must itself be unexpired: a stolen token stays
// usable for at most one TTL. Refreshing after subscription expiry yields a
// token that can never ride the grace window again (its issued_at is past
// the subscription expiry), which bounds how long a lapsed fleet keeps
// refreshing.
func (s *ActivationService) Refresh(ctx context.Context, tokenString string) (*TokenResult, error) {
	now := s.now().UTC()

	start := time.Now()
	claims, err := s.codec.Validate(tokenString)
	if err != nil {
		result := "invalid"
		if errors.Is(err, token.ErrTokenExpired) {
			result = "expired"
		}
		s.metrics.RecordTokenValidation(result, time.Since(start))
		s.metrics.RecordTokenRefresh(false)
		return nil, err
	}
	s.metrics.RecordTokenValidation("valid", time.Since(start))

	tenant, device, err := s.checkBinding(claims, now)
	if err != nil {
		s.metrics.RecordTokenRefresh(false)
		return nil, err
	}

	state := subscription.Evaluate(now, claims.IssuedAt, tenant.SubscriptionExpiresAt, s.graceDays)
	if !state.Allowed {
		s.metrics.RecordTokenRefresh(false)
		return nil, ErrSubscriptionExpired
	}

	genStart := time.Now()
	signed, newClaims, err := s.codec.Issue(tenant.ID, claims.DeviceID)
	if err != nil {
		s.metrics.RecordTokenRefresh(false)
		return nil, err
	}

	if device != nil {
		if _, err := s.store.UpsertDevice(tenant.ID, claims.DeviceID, now); err != nil {
			return nil, err
		}
	}

	s.metrics.RecordTokenRefresh(true)
	s.metrics.RecordTokenIssued("refresh", time.Since(genStart))
	s.audit.Log(ctx, AuditLogEntry{
		EventType: models.AuditEventTokenRefresh,
		TenantID:  tenant.ID,
		DeviceID:  claims.DeviceID,
		Success:   true,
		Details: models.AuditDetails{
			"grace_active": state.GraceActive,
		},
	})

	return &TokenResult{
		AccessToken: signed,
		IssuedAt:    newClaims.IssuedAt,
		ExpiresAt:   newClaims.ExpiresAt,
		ServerTime:  now,
	}, nil
}

// Status returns subscription introspection for a valid token.
func (s *ActivationService) Status(ctx context.Context, tokenString string) (*StatusResult, error) {
	now := s.now().UTC()

	claims, err := s.codec.Validate(tokenString)
	if err != nil {
		return nil, err
	}

	tenant, _, err := s.checkBinding(claims, now)
	if err != nil {
		return nil, err
	}

	state := subscription.Evaluate(now, claims.IssuedAt, tenant.SubscriptionExpiresAt, s.graceDays)

	return &StatusResult{
		TenantStatus:          tenant.Status,
		SubscriptionActive:    state.SubscriptionActive,
		GraceActive:           state.GraceActive,
		SubscriptionExpiresAt: tenant.SubscriptionExpiresAt,
		TokenExpiresAt:        claims.ExpiresAt,
		ServerTime:            now,
	}, nil
}

// BuildRequestContext validates a bearer token and re-runs the tenant,
// subscription and device checks that gate every authenticated request.
// Device last_seen advances as a side effect.
func (s *ActivationService) BuildRequestContext(ctx context.Context, tokenString string) (*RequestContext, error) {
	now := s.now().UTC()

	claims, err := s.codec.Validate(tokenString)
	if err != nil {
		return nil, err
	}

	tenant, device, err := s.checkBinding(claims, now)
	if err != nil {
		return nil, err
	}

	state := subscription.Evaluate(now, claims.IssuedAt, tenant.SubscriptionExpiresAt, s.graceDays)
	if !state.Allowed {
		return nil, ErrSubscriptionExpired
	}

	if device != nil {
		device, err = s.store.UpsertDevice(tenant.ID, claims.DeviceID, now)
		if err != nil {
			return nil, err
		}
	}

	return &RequestContext{
		Tenant: tenant,
		Device: device,
		Claims: claims,
		State:  state,
	}, nil
}

// checkBinding re-fetches the tenant and device named by the claims and
// enforces lifecycle state. The device may legitimately be nil when the
// claims carry no device binding.
func (s *ActivationService) checkBinding(
	claims *token.Claims, now time.Time,
) (*models.Tenant, *models.Device, error) {
	tenant, err := s.store.GetTenantByID(claims.TenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !tenant.IsActive() {
		return nil, nil, ErrTenantDisabled
	}

	if claims.DeviceID == "" {
		return tenant, nil, nil
	}

	device, err := s.store.GetDevice(tenant.ID, claims.DeviceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tenant, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if device.Revoked {
		return nil, nil, ErrDeviceRevoked
	}
	return tenant, device, nil
}
