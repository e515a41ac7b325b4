package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	codec := NewCodec("test-secret", 7*24*time.Hour)

	signed, issued, err := codec.Issue("tenant-1", "device-1")
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	assert.Equal(t, "tenant-1", issued.TenantID)
	assert.Equal(t, "device-1", issued.DeviceID)
	assert.Equal(t, issued.IssuedAt.Add(7*24*time.Hour), issued.ExpiresAt)

	claims, err := codec.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, issued.TenantID, claims.TenantID)
	assert.Equal(t, issued.DeviceID, claims.DeviceID)
	assert.True(t, issued.IssuedAt.Equal(claims.IssuedAt))
	assert.True(t, issued.ExpiresAt.Equal(claims.ExpiresAt))
}

func TestValidateAcceptsDevicelessToken(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	// Tenant-level tokens carry no device binding
	signed, _, err := codec.Issue("tenant-1", "")
	require.NoError(t, err)

	claims, err := codec.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Empty(t, claims.DeviceID)
}

func TestValidateExpiredReturnsClaims(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return issuedAt }

	signed, _, err := codec.Issue("tenant-1", "device-1")
	require.NoError(t, err)

	// Move past expiry; the claims still come back alongside the error
	codec.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }

	claims, err := codec.Validate(signed)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.NotNil(t, claims)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.True(t, issuedAt.Equal(claims.IssuedAt))
	assert.True(t, issuedAt.Add(time.Hour).Equal(claims.ExpiresAt))
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)
	other := NewCodec("other-secret", time.Hour)

	signed, _, err := codec.Issue("tenant-1", "device-1")
	require.NoError(t, err)

	claims, err := other.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Nil(t, claims)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	signed, _, err := codec.Issue("tenant-1", "device-1")
	require.NoError(t, err)

	tampered := signed[:len(signed)-2] + "xx"
	claims, err := codec.Validate(tampered)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Nil(t, claims)
}

func TestValidateRejectsMissingClaims(t *testing.T) {
	secret := []byte("test-secret")
	codec := NewCodec("test-secret", time.Hour)

	// Token signed with the right key but without the custom claims
	bare := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := bare.SignedString(secret)
	require.NoError(t, err)

	claims, err := codec.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Nil(t, claims)
}

func TestValidateRejectsGarbage(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	claims, err := codec.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Nil(t, claims)
}
