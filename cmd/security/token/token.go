package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the fingerprint HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "BACKSTAGE_LOG_HMAC_KEY"

	// MinHMACKeyBytes is the minimum key size enforced in required-HMAC mode.
	MinHMACKeyBytes = 32

	fingerprintLen = 16
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Fingerprinter hashes codes into short log-safe identifiers.
// The zero value uses plain SHA-256.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter returns a Fingerprinter keyed with key. An empty key selects SHA-256 mode.
func NewFingerprinter(key []byte) Fingerprinter {
	if len(key) == 0 {
		return Fingerprinter{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Fingerprinter{key: k}
}

// FingerprinterFromEnv builds a Fingerprinter from BACKSTAGE_LOG_HMAC_KEY.
// With require set, a missing or short key is an error.
func FingerprinterFromEnv(require bool) (Fingerprinter, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch {
	case err == nil:
		return NewFingerprinter(key), nil
	case require:
		return Fingerprinter{}, err
	}
	// Dev mode: accept a short key rather than silently dropping it.
	if raw := strings.TrimSpace(os.Getenv(HMACEnvKey)); raw != "" {
		return NewFingerprinter([]byte(raw)), nil
	}
	return Fingerprinter{}, nil
}

// Keyed reports whether HMAC mode is active.
func (f Fingerprinter) Keyed() bool { return len(f.key) > 0 }

// Code fingerprints a code. Codes are compared case-insensitively, so the input
// is canonicalized first and "abc" and "ABC" share a fingerprint.
func (f Fingerprinter) Code(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	var sum string
	if f.Keyed() {
		sum = HashHMACSHA256Hex(code, f.key)
	} else {
		sum = HashSHA256Hex(code)
	}
	return sum[:fingerprintLen]
}
