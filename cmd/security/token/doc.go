// Package token derives log-safe fingerprints for invite codes.
//
// Raw codes are bearer secrets and never reach logs. Callers log a short,
// stable fingerprint instead so a redemption can still be correlated.
//
// Modes:
// - Default dev mode: SHA-256(code) when no HMAC key is configured.
// - Production mode: HMAC-SHA256(code, key), which resists dictionary reversal of short codes.
//
// Environment:
// - BACKSTAGE_LOG_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If BACKSTAGE_REQUIRE_LOG_HMAC=true, the app refuses to start without a key of >= 32 bytes.
package token
