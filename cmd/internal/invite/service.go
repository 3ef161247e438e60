package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"backstage/cmd/ids"

	"github.com/dchest/uniuri"
)

const (
	defaultMaxUses           = 5
	defaultCodeLength        = 8
	defaultCodeAttempts      = 5
	defaultIncrementAttempts = 3

	// CodeAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Redemption is the result of a successful Redeem.
type Redemption struct {
	TokenID       string
	Code          string
	OwnerScope    *string
	UsedCount     int
	MaxUses       int
	RemainingUses int
}

// CreateInput describes token creation. A nil MaxUses selects the service default.
type CreateInput struct {
	MaxUses    *int
	ExpiresAt  *time.Time
	OwnerScope *string
	CreatedBy  *string
}

// Service creates, validates, and redeems limited-use tokens.
// It holds no mutable state; every call goes to the injected Store.
type Service struct {
	store Store
	now   func() time.Time

	defaultMaxUses    int
	codeLength        int
	codeAlphabet      []byte
	codeAttempts      int
	incrementAttempts int
}

// Option configures the Service.
type Option func(*Service) error

// WithClock overrides the time source used for expiry checks and creation stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithDefaultMaxUses sets the max uses applied when CreateInput.MaxUses is nil.
func WithDefaultMaxUses(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return ErrInvalidInput
		}
		s.defaultMaxUses = n
		return nil
	}
}

// WithCodeLength sets the length of generated codes.
func WithCodeLength(n int) Option {
	return func(s *Service) error {
		if n < 4 || n > maxCodeLen {
			return ErrInvalidInput
		}
		s.codeLength = n
		return nil
	}
}

// WithCodeAlphabet sets the characters generated codes are drawn from.
// The alphabet must already be in canonical (upper) case.
func WithCodeAlphabet(alphabet string) Option {
	return func(s *Service) error {
		if len(alphabet) < 2 || alphabet != NormalizeCode(alphabet) {
			return ErrInvalidInput
		}
		s.codeAlphabet = []byte(alphabet)
		return nil
	}
}

// WithCodeAttempts sets how many fresh codes Create tries before giving up on collisions.
func WithCodeAttempts(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return ErrInvalidInput
		}
		s.codeAttempts = n
		return nil
	}
}

// WithIncrementAttempts bounds how often Redeem re-issues the conditional update
// when the store reports no update for a token that still looks redeemable.
func WithIncrementAttempts(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return ErrInvalidInput
		}
		s.incrementAttempts = n
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:             store,
		now:               func() time.Time { return time.Now().UTC() },
		defaultMaxUses:    defaultMaxUses,
		codeLength:        defaultCodeLength,
		codeAlphabet:      []byte(CodeAlphabet),
		codeAttempts:      defaultCodeAttempts,
		incrementAttempts: defaultIncrementAttempts,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Lookup returns the token matching code (case-insensitive). It has no side effects.
func (s *Service) Lookup(ctx context.Context, code string) (Token, error) {
	return s.lookup(ctx, "invite.Lookup", code)
}

func (s *Service) lookup(ctx context.Context, op, code string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, opError(op, ErrStoreUnavailable, err)
	}
	code = NormalizeCode(code)
	if !validCode(code) {
		return Token{}, opError(op, ErrInvalidInput, nil)
	}
	t, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return Token{}, storeError(op, err)
	}
	return t, nil
}

// Validity looks up code and evaluates it at the current time without consuming a use.
func (s *Service) Validity(ctx context.Context, code string) (Token, Validity, error) {
	t, err := s.Lookup(ctx, code)
	if err != nil {
		return Token{}, ValidityValid, err
	}
	return t, CheckValidity(t, s.now()), nil
}

// Redeem atomically consumes one use of the token matching code.
//
// Failures carry ErrCodeNotFound, ErrCodeExpired, ErrCodeExhausted, ErrInvalidInput or
// ErrStoreUnavailable. Concurrent redemptions of the same token are linearized by the
// store's conditional update, so used_count never exceeds max_uses.
func (s *Service) Redeem(ctx context.Context, code string) (Redemption, error) {
	const op = "invite.Redeem"

	t, err := s.lookup(ctx, op, code)
	if err != nil {
		return Redemption{}, err
	}

	now := s.now()
	if v := CheckValidity(t, now); v != ValidityValid {
		return Redemption{}, opError(op, v.Err(), nil)
	}

	for attempt := 0; attempt < s.incrementAttempts; attempt++ {
		res, err := s.store.TryIncrement(ctx, t.ID, now)
		if err != nil {
			return Redemption{}, storeError(op, err)
		}
		if res.Updated {
			return redemptionFrom(res.Token), nil
		}

		// Zero rows updated: the stored row decides which failure to report.
		if v := CheckValidity(res.Token, now); v != ValidityValid {
			return Redemption{}, opError(op, v.Err(), nil)
		}
		if err := ctx.Err(); err != nil {
			return Redemption{}, opError(op, ErrStoreUnavailable, err)
		}
	}
	return Redemption{}, opError(op, ErrStoreUnavailable, errors.New("conditional update did not converge"))
}

// Create generates a new token with a unique code and used_count = 0.
func (s *Service) Create(ctx context.Context, in CreateInput) (Token, error) {
	const op = "invite.Create"
	if err := ctx.Err(); err != nil {
		return Token{}, opError(op, ErrStoreUnavailable, err)
	}

	maxUses := s.defaultMaxUses
	if in.MaxUses != nil {
		maxUses = *in.MaxUses
	}
	if maxUses < 1 {
		return Token{}, opError(op, ErrInvalidInput, errors.New("max_uses must be >= 1"))
	}
	scope := trimPtr(in.OwnerScope)
	if scope != nil && len(*scope) > maxOwnerScopeLen {
		return Token{}, opError(op, ErrInvalidInput, errors.New("owner_scope is too long"))
	}
	// Stores keep microsecond precision; truncate so the returned token matches later reads.
	var expiresAt *time.Time
	if in.ExpiresAt != nil {
		e := in.ExpiresAt.UTC().Truncate(time.Microsecond)
		expiresAt = &e
	}

	now := s.now().Truncate(time.Microsecond)
	id, err := ids.NewULID(now)
	if err != nil {
		return Token{}, opError(op, ErrStoreUnavailable, err)
	}

	rec := CreateRecord{
		ID:         id,
		MaxUses:    maxUses,
		ExpiresAt:  expiresAt,
		OwnerScope: scope,
		CreatedBy:  trimPtr(in.CreatedBy),
		CreatedAt:  now,
	}

	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		rec.Code = s.newCode()
		t, err := s.store.Insert(ctx, rec)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, ErrCodeConflict) {
			continue
		}
		return Token{}, storeError(op, err)
	}
	return Token{}, opError(op, ErrCodeConflict, errors.New("could not allocate a unique code"))
}

// List returns tokens newest first, optionally restricted to one owner scope.
func (s *Service) List(ctx context.Context, in ListInput) ([]Token, error) {
	const op = "invite.List"
	if err := ctx.Err(); err != nil {
		return nil, opError(op, ErrStoreUnavailable, err)
	}
	in.OwnerScope = trimPtr(in.OwnerScope)
	in.Limit = clampListLimit(in.Limit)
	out, err := s.store.List(ctx, in)
	if err != nil {
		return nil, storeError(op, err)
	}
	return out, nil
}

// Now returns the service clock reading; callers use it to derive token state consistently.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) newCode() string {
	return strings.ToUpper(uniuri.NewLenChars(s.codeLength, s.codeAlphabet))
}

func redemptionFrom(t Token) Redemption {
	return Redemption{
		TokenID:       t.ID,
		Code:          t.Code,
		OwnerScope:    t.OwnerScope,
		UsedCount:     t.UsedCount,
		MaxUses:       t.MaxUses,
		RemainingUses: t.RemainingUses(),
	}
}
