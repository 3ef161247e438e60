package invite

import (
	"strings"
	"time"
)

const (
	maxCodeLen       = 64
	maxOwnerScopeLen = 128
)

// Token is a limited-use invite/access code record.
type Token struct {
	ID         string
	Code       string
	MaxUses    int
	UsedCount  int
	ExpiresAt  *time.Time
	OwnerScope *string
	CreatedBy  *string
	CreatedAt  time.Time
}

// RemainingUses returns how many successful redemptions are left, ignoring expiry.
func (t Token) RemainingUses() int {
	if t.UsedCount >= t.MaxUses {
		return 0
	}
	return t.MaxUses - t.UsedCount
}

// State derives the lifecycle state of t at now.
func (t Token) State(now time.Time) State {
	switch CheckValidity(t, now) {
	case ValidityExpired:
		return StateExpired
	case ValidityExhausted:
		return StateExhausted
	}
	if t.UsedCount == 0 {
		return StateFresh
	}
	return StatePartiallyUsed
}

// Validity is the outcome of CheckValidity.
type Validity int

const (
	ValidityValid Validity = iota
	ValidityExpired
	ValidityExhausted
)

func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityExpired:
		return "expired"
	case ValidityExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Err returns the error kind matching v, or nil when v is ValidityValid.
func (v Validity) Err() error {
	switch v {
	case ValidityExpired:
		return ErrCodeExpired
	case ValidityExhausted:
		return ErrCodeExhausted
	default:
		return nil
	}
}

// CheckValidity reports whether t can be redeemed at now. It performs no I/O.
//
// Expiry is checked before exhaustion: a token that is both expired and used up
// reports ValidityExpired. A token expires at the instant ExpiresAt is reached.
func CheckValidity(t Token, now time.Time) Validity {
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return ValidityExpired
	}
	if t.UsedCount >= t.MaxUses {
		return ValidityExhausted
	}
	return ValidityValid
}

// State is the derived lifecycle state of a token. It is never stored.
type State string

const (
	StateFresh         State = "fresh"
	StatePartiallyUsed State = "partially_used"
	StateExhausted     State = "exhausted"
	StateExpired       State = "expired"
)

// NormalizeCode canonicalizes a user-entered code for comparison and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validCode(code string) bool {
	return code != "" && len(code) <= maxCodeLen
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
