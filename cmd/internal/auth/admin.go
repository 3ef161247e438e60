package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

// Claims is the admin JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is an authenticated admin caller.
type Principal struct {
	Subject string
	Role    string
}

// Verifier validates admin JWTs. A Verifier without a secret is disabled.
type Verifier struct {
	secret []byte
	roles  map[string]struct{}
	leeway time.Duration
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for exp/nbf checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLeeway sets the clock skew tolerance for exp/nbf (default: 30s).
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d >= 0 {
			v.leeway = d
		}
	}
}

// NewVerifier constructs a Verifier. Empty role entries are ignored.
func NewVerifier(secret string, roles []string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret: []byte(strings.TrimSpace(secret)),
		roles:  make(map[string]struct{}, len(roles)),
		leeway: defaultLeeway,
		now:    time.Now,
	}
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r != "" {
			v.roles[r] = struct{}{}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Enabled reports whether a signing secret is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses tokenStr and checks signature, expiry and role.
func (v *Verifier) Verify(tokenStr string) (Principal, error) {
	if !v.Enabled() {
		return Principal{}, ErrDisabled
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Principal{}, ErrMissingToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if _, ok := v.roles[claims.Role]; !ok {
		return Principal{}, ErrForbiddenRole
	}
	return Principal{Subject: strings.TrimSpace(claims.Subject), Role: claims.Role}, nil
}

// Authenticate verifies the bearer token carried by r.
// With allowQuery, an access_token query parameter is accepted when no header is present
// (browsers cannot set headers on WebSocket upgrades).
func (v *Verifier) Authenticate(r *http.Request, allowQuery bool) (Principal, error) {
	if !v.Enabled() {
		return Principal{}, ErrDisabled
	}
	tok := BearerToken(r)
	if tok == "" && allowQuery && r != nil {
		tok = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return v.Verify(tok)
}

// Issue signs an admin token. It backs the admin-token CLI command and tests.
func (v *Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrDisabled
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be positive")
	}
	now := v.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return s, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
