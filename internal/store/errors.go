package store

import "errors"

var (
	// ErrCompanyCodeConflict is returned when a company code already exists
	ErrCompanyCodeConflict = errors.New("company code already exists")

	// ErrDuplicateFirmware is returned when a firmware release with the same
	// hardware/product/version/build already exists
	ErrDuplicateFirmware = errors.New("firmware release already exists")
)
