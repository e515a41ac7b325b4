package token

import "errors"

var (
	// ErrTokenExpired is returned when a token's expiry has passed
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for malformed, tampered or foreign tokens
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenGeneration is returned when signing fails
	ErrTokenGeneration = errors.New("failed to generate token")
)
