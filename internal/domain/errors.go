package domain

import "errors"

var (
	// ErrUnauthorized is returned when an admin-only operation is
	// invoked by anything other than the configured administrator.
	// The rejected call has no partial effect.
	ErrUnauthorized = errors.New("caller is not the administrator")

	// ErrInvalidInput is returned for out-of-range policy values
	// supplied to an admin setter, before any mutation happens.
	ErrInvalidInput = errors.New("invalid input")
)
