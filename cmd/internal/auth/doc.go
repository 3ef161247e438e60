// Package auth verifies admin bearer tokens.
//
// Admin callers present an HS256 JWT signed with BACKSTAGE_ADMIN_JWT_SECRET. The token's
// role claim must be one of the configured admin roles; its subject is recorded as the
// creator of invites. With no secret configured the verifier is disabled and every
// admin request is refused.
package auth
