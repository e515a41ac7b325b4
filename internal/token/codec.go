package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the validated contents of an access token.
type Claims struct {
	TenantID  string
	DeviceID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// accessClaims is the wire shape. issued_at and expires_at are carried as
// explicit unix-timestamp claims beside the registered iat/exp pair so the
// grace evaluation can read them without re-deriving from registered claims.
type accessClaims struct {
	TenantID  string `json:"tenant_id"`
	DeviceID  string `json:"device_id"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	jwt.RegisteredClaims
}

// Codec issues and validates HMAC-signed access tokens.
type Codec struct {
	secret []byte
	ttl    time.Duration

	// now is injectable for tests
	now func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the Codec's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(secret string, ttl time.Duration, opts ...Option) *Codec {
	c := &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue signs a token for the tenant/device pair. The returned Claims echo
// what was embedded in the token.
func (c *Codec) Issue(tenantID, deviceID string) (string, *Claims, error) {
	now := c.now().UTC().Truncate(time.Second)
	expires := now.Add(c.ttl)

	claims := accessClaims{
		TenantID:  tenantID,
		DeviceID:  deviceID,
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	return signed, &Claims{
		TenantID:  tenantID,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

// Validate parses and verifies a token. Expired tokens return
// ErrTokenExpired with the claims still populated so callers can tell a
// well-formed expired token apart from garbage; any other failure returns
// ErrTokenInvalid.
func (c *Codec) Validate(tokenString string) (*Claims, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))

	expired := false
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenInvalid
		}
		expired = true
	}

	// device_id is optional; tenant-level tokens carry none
	if claims.TenantID == "" || claims.IssuedAt == 0 || claims.ExpiresAt == 0 {
		return nil, ErrTokenInvalid
	}

	out := &Claims{
		TenantID:  claims.TenantID,
		DeviceID:  claims.DeviceID,
		IssuedAt:  time.Unix(claims.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(),
	}
	if expired {
		return out, ErrTokenExpired
	}
	return out, nil
}
