package app

import (
	"errors"
	"fmt"

	"backstage/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy and returns the
// fingerprinter used to log invite codes.
//
// Fail-fast: under BACKSTAGE_REQUIRE_LOG_HMAC a missing or short key stops startup
// instead of silently degrading to unkeyed SHA-256 fingerprints.
func ValidateSecurityConfig(cfg Config) (token.Fingerprinter, error) {
	fp, err := token.FingerprinterFromEnv(cfg.RequireLogHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Fingerprinter{}, errors.New("security policy: BACKSTAGE_REQUIRE_LOG_HMAC=true but BACKSTAGE_LOG_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Fingerprinter{}, fmt.Errorf("security policy: BACKSTAGE_REQUIRE_LOG_HMAC=true but BACKSTAGE_LOG_HMAC_KEY is too short (min %d bytes)", token.MinHMACKeyBytes)
		default:
			return token.Fingerprinter{}, err
		}
	}

	if cfg.RequireLogHMAC && !fp.Keyed() {
		return token.Fingerprinter{}, errors.New("security policy: BACKSTAGE_REQUIRE_LOG_HMAC=true but fingerprints are not keyed")
	}

	return fp, nil
}
