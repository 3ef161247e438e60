package token

import "errors"

// Public, stable errors for callers.
var (
	ErrHMACKeyMissing  = errors.New("log HMAC key missing")
	ErrHMACKeyTooShort = errors.New("log HMAC key too short")
)
