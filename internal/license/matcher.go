package license

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"github.com/gimpeliovsky-prog/license-server/internal/models"
)

// KeyStore is the subset of store operations the matcher needs.
type KeyStore interface {
	GetActiveLicenseKeyByFingerprint(tenantID, fingerprint string) (*models.LicenseKey, error)
	GetLegacyLicenseKeys(tenantID string) ([]*models.LicenseKey, error)
	UpdateLicenseKeyFingerprint(keyID, fingerprint string) error
}

// Matcher resolves a raw license key to its stored row.
type Matcher struct {
	store KeyStore
}

func NewMatcher(store KeyStore) *Matcher {
	return &Matcher{store: store}
}

// Match finds the active license key for the raw input, scoped to tenantID
// when non-empty. Lookup order:
//
//  1. Fingerprint index. A hit still goes through the bcrypt check, the
//     fingerprint only narrows.
//  2. Legacy keys with no fingerprint, each checked with the flexible
//     verifier. On a hit the fingerprint is backfilled so the next lookup
//     takes the fast path.
//
// Returns nil when no key matches.
func (m *Matcher) Match(tenantID, rawKey string) (*models.LicenseKey, error) {
	fingerprint := Fingerprint(rawKey)
	if fingerprint == "" {
		return nil, nil
	}

	key, err := m.store.GetActiveLicenseKeyByFingerprint(tenantID, fingerprint)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if key != nil {
		if VerifyKeyFlexible(key.HashedKey, rawKey) {
			return key, nil
		}
		// Fingerprint collision with a different secret is practically
		// impossible; treat it as no match rather than falling through
		return nil, nil
	}

	legacy, err := m.store.GetLegacyLicenseKeys(tenantID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range legacy {
		if !VerifyKeyFlexible(candidate.HashedKey, rawKey) {
			continue
		}
		// Best effort: a concurrent request may have claimed the
		// fingerprint already, which is fine
		if err := m.store.UpdateLicenseKeyFingerprint(candidate.ID, fingerprint); err != nil {
			log.Printf("Warning: failed to backfill license key fingerprint: %v", err)
		}
		return candidate, nil
	}

	return nil, nil
}
