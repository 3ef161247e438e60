package invite

import (
	"testing"
	"time"
)

func TestCheckValidity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name string
		tok  Token
		want Validity
	}{
		{"fresh no expiry", Token{MaxUses: 5}, ValidityValid},
		{"partially used future expiry", Token{MaxUses: 5, UsedCount: 4, ExpiresAt: &future}, ValidityValid},
		{"exhausted", Token{MaxUses: 5, UsedCount: 5}, ValidityExhausted},
		{"over limit counts as exhausted", Token{MaxUses: 2, UsedCount: 3}, ValidityExhausted},
		{"expired", Token{MaxUses: 5, ExpiresAt: &past}, ValidityExpired},
		{"expired wins over exhausted", Token{MaxUses: 1, UsedCount: 1, ExpiresAt: &past}, ValidityExpired},
		{"expires exactly now", Token{MaxUses: 1, ExpiresAt: &now}, ValidityExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckValidity(tc.tok, now); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCheckValidity_OneNanosecondBeforeExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := Token{MaxUses: 1, ExpiresAt: &exp}
	if got := CheckValidity(tok, exp.Add(-time.Nanosecond)); got != ValidityValid {
		t.Fatalf("expected valid, got %s", got)
	}
}

func TestToken_StateAndRemaining(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	past := now.Add(-time.Second)

	cases := []struct {
		tok       Token
		state     State
		remaining int
	}{
		{Token{MaxUses: 3}, StateFresh, 3},
		{Token{MaxUses: 3, UsedCount: 1}, StatePartiallyUsed, 2},
		{Token{MaxUses: 3, UsedCount: 3}, StateExhausted, 0},
		{Token{MaxUses: 3, UsedCount: 1, ExpiresAt: &past}, StateExpired, 2},
	}
	for _, tc := range cases {
		if got := tc.tok.State(now); got != tc.state {
			t.Fatalf("%+v: expected state %s, got %s", tc.tok, tc.state, got)
		}
		if got := tc.tok.RemainingUses(); got != tc.remaining {
			t.Fatalf("%+v: expected remaining %d, got %d", tc.tok, tc.remaining, got)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	if got := NormalizeCode("  welcome2024 "); got != "WELCOME2024" {
		t.Fatalf("unexpected normalized code: %q", got)
	}
	if NormalizeCode("abc") != NormalizeCode("ABC") {
		t.Fatalf("expected case-insensitive normalization")
	}
}
