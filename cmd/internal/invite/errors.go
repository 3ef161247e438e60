package invite

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API responses).
var (
	ErrInvalidInput     = errors.New("invalid_input")
	ErrCodeNotFound     = errors.New("not_found")
	ErrCodeExpired      = errors.New("expired")
	ErrCodeExhausted    = errors.New("exhausted")
	ErrCodeConflict     = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store_unavailable")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel kinds; Err is the underlying cause when there is one.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op string, kind, cause error) error {
	return &OpError{Op: op, Kind: kind, Err: cause}
}

// storeError classifies an error returned by a Store. Known kinds pass through;
// everything else is a persistence failure and must never look like a code outcome.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return opError(op, ErrCodeNotFound, nil)
	case errors.Is(err, ErrCodeConflict):
		return opError(op, ErrCodeConflict, nil)
	case errors.Is(err, ErrInvalidInput):
		return opError(op, ErrInvalidInput, err)
	default:
		return opError(op, ErrStoreUnavailable, err)
	}
}

// Reason maps an error to the wire reason reported to callers.
// Unknown errors map to "store_unavailable" so they are retried, never shown as exhausted.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrCodeExhausted):
		return "exhausted"
	case errors.Is(err, ErrCodeConflict):
		return "conflict"
	default:
		return "store_unavailable"
	}
}

// IsRetryable reports whether the caller may retry the operation.
func IsRetryable(err error) bool {
	return Reason(err) == "store_unavailable"
}
