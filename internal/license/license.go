// Package license handles license key normalization, hashing and
// verification.
package license

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/gimpeliovsky-prog/license-server/internal/util"
)

const compactHexLen = 32

// Normalize canonicalizes a raw license key. Keys whose de-hyphenated,
// de-spaced form is exactly 32 hex characters collapse to lowercase compact
// hex, so "ABCD-1234-..." and "abcd1234..." are the same key. Anything else
// passes through with surrounding whitespace trimmed.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	compact := strings.NewReplacer("-", "", " ", "").Replace(trimmed)
	if len(compact) == compactHexLen && isHex(compact) {
		return strings.ToLower(compact)
	}
	return trimmed
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Fingerprint returns the SHA-256 hex digest of the normalized key, used
// as a deterministic index to narrow candidates before the bcrypt check.
// An empty normalized key has no fingerprint.
func Fingerprint(raw string) string {
	normalized := Normalize(raw)
	if normalized == "" {
		return ""
	}
	return util.SHA256Hex(normalized)
}

// HashKey bcrypt-hashes the normalized form of a key for storage.
func HashKey(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(Normalize(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyKey checks a candidate string against a stored bcrypt hash.
func VerifyKey(hashedKey, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(candidate)) == nil
}

// VerifyKeyFlexible checks the raw input first and the normalized form
// second. Legacy hashes were computed over whatever the customer pasted,
// so both shapes have to be tried.
func VerifyKeyFlexible(hashedKey, raw string) bool {
	if VerifyKey(hashedKey, raw) {
		return true
	}
	normalized := Normalize(raw)
	if normalized == raw {
		return false
	}
	return VerifyKey(hashedKey, normalized)
}
