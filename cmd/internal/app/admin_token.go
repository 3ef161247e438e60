package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"backstage/cmd/internal/auth"
)

// IssueAdminToken signs a bearer token for the admin routes using the configured secret.
// role must be one of cfg.AdminRoles so the server will accept the token.
func IssueAdminToken(cfg Config, subject, role string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("admin token: subject required")
	}
	role = strings.TrimSpace(role)
	if !slices.Contains(cfg.AdminRoles, role) {
		return "", fmt.Errorf("admin token: role %q not in BACKSTAGE_ADMIN_ROLES %v", role, cfg.AdminRoles)
	}

	v := auth.NewVerifier(cfg.AdminJWTSecret, cfg.AdminRoles)
	tok, err := v.Issue(subject, role, ttl)
	if errors.Is(err, auth.ErrDisabled) {
		return "", errors.New("admin token: BACKSTAGE_ADMIN_JWT_SECRET is not set")
	}
	return tok, err
}
