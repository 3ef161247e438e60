package auth

import "errors"

// Public, stable errors for callers.
var (
	ErrDisabled      = errors.New("admin auth disabled")
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrForbiddenRole = errors.New("role not allowed")
)
