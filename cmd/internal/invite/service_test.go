package invite

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	s, err := NewService(store, opts...)
	require.NoError(t, err)
	return s
}

func intPtr(n int) *int { return &n }

// faultStore wraps MemoryStore and injects failures.
type faultStore struct {
	*MemoryStore

	conflicts    atomic.Int32 // Insert reports ErrCodeConflict this many times
	findErr      error
	incrementErr error
	staleNoop    bool // TryIncrement never updates but returns a redeemable row
}

func (f *faultStore) FindByCode(ctx context.Context, code string) (Token, error) {
	if f.findErr != nil {
		return Token{}, f.findErr
	}
	return f.MemoryStore.FindByCode(ctx, code)
}

func (f *faultStore) TryIncrement(ctx context.Context, id string, now time.Time) (IncrementResult, error) {
	if f.incrementErr != nil {
		return IncrementResult{}, f.incrementErr
	}
	if f.staleNoop {
		f.mu.Lock()
		t := cloneToken(f.byID[id])
		f.mu.Unlock()
		return IncrementResult{Updated: false, Token: t}, nil
	}
	return f.MemoryStore.TryIncrement(ctx, id, now)
}

func (f *faultStore) Insert(ctx context.Context, in CreateRecord) (Token, error) {
	if f.conflicts.Load() > 0 {
		f.conflicts.Add(-1)
		return Token{}, ErrCodeConflict
	}
	return f.MemoryStore.Insert(ctx, in)
}

func TestService_RedeemUntilExhausted(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	tok, err := s.Create(ctx, CreateInput{MaxUses: intPtr(3)})
	require.NoError(t, err)
	require.Equal(t, 0, tok.UsedCount)

	for _, want := range []int{2, 1, 0} {
		r, err := s.Redeem(ctx, tok.Code)
		require.NoError(t, err)
		require.Equal(t, want, r.RemainingUses)
		require.Equal(t, tok.ID, r.TokenID)
	}

	_, err = s.Redeem(ctx, tok.Code)
	require.ErrorIs(t, err, ErrCodeExhausted)

	got, err := s.Lookup(ctx, tok.Code)
	require.NoError(t, err)
	require.Equal(t, 3, got.UsedCount)
}

func TestService_RedeemUnknownCode(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	_, err := s.Redeem(context.Background(), "NOPE1234")
	require.ErrorIs(t, err, ErrCodeNotFound)
	require.Equal(t, "not_found", Reason(err))
}

func TestService_ConcurrentRedeem(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	tok, err := s.Create(ctx, CreateInput{MaxUses: intPtr(3)})
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		remaining []int
		exhausted int
	)
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			r, err := s.Redeem(ctx, tok.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				remaining = append(remaining, r.RemainingUses)
			case errors.Is(err, ErrCodeExhausted):
				exhausted++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(remaining)
	require.Equal(t, []int{0, 1, 2}, remaining)
	require.Equal(t, 7, exhausted)

	got, err := s.Lookup(ctx, tok.Code)
	require.NoError(t, err)
	require.Equal(t, 3, got.UsedCount)
}

func TestService_RedeemExpired(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	past := testNow.Add(-time.Hour)
	tok, err := s.Create(ctx, CreateInput{MaxUses: intPtr(10), ExpiresAt: &past})
	require.NoError(t, err)

	_, err = s.Redeem(ctx, tok.Code)
	require.ErrorIs(t, err, ErrCodeExpired)

	got, err := s.Lookup(ctx, tok.Code)
	require.NoError(t, err)
	require.Equal(t, 0, got.UsedCount)
}

func TestService_ExpiredAndExhaustedReportsExpired(t *testing.T) {
	t.Parallel()

	clock := testNow
	var mu sync.Mutex
	s, err := NewService(NewMemoryStore(), WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))
	require.NoError(t, err)
	ctx := context.Background()

	exp := testNow.Add(time.Minute)
	tok, err := s.Create(ctx, CreateInput{MaxUses: intPtr(1), ExpiresAt: &exp})
	require.NoError(t, err)
	_, err = s.Redeem(ctx, tok.Code)
	require.NoError(t, err)

	mu.Lock()
	clock = exp
	mu.Unlock()

	_, err = s.Redeem(ctx, tok.Code)
	require.ErrorIs(t, err, ErrCodeExpired)

	_, v, err := s.Validity(ctx, tok.Code)
	require.NoError(t, err)
	require.Equal(t, ValidityExpired, v)
}

func TestService_CaseInsensitiveLookup(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	tok, err := s.Create(ctx, CreateInput{})
	require.NoError(t, err)

	got, err := s.Lookup(ctx, "  "+strings.ToLower(tok.Code)+" ")
	require.NoError(t, err)
	require.Equal(t, tok.ID, got.ID)

	r, err := s.Redeem(ctx, strings.ToLower(tok.Code))
	require.NoError(t, err)
	require.Equal(t, tok.Code, r.Code)
}

func TestService_LookupAndValidityDoNotConsume(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	tok, err := s.Create(ctx, CreateInput{MaxUses: intPtr(1)})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Lookup(ctx, tok.Code)
		require.NoError(t, err)
		_, v, err := s.Validity(ctx, tok.Code)
		require.NoError(t, err)
		require.Equal(t, ValidityValid, v)
	}

	got, err := s.Lookup(ctx, tok.Code)
	require.NoError(t, err)
	require.Equal(t, 0, got.UsedCount)
}

func TestService_ValidityUnknownCode(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	_, _, err := s.Validity(context.Background(), "MISSING1")
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestService_CreateDefaults(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	tok, err := s.Create(context.Background(), CreateInput{})
	require.NoError(t, err)

	require.Equal(t, defaultMaxUses, tok.MaxUses)
	require.Equal(t, 0, tok.UsedCount)
	require.Nil(t, tok.ExpiresAt)
	require.Nil(t, tok.OwnerScope)
	require.Len(t, tok.Code, defaultCodeLength)
	require.Equal(t, NormalizeCode(tok.Code), tok.Code)
	for _, r := range tok.Code {
		require.Contains(t, CodeAlphabet, string(r))
	}
	require.Len(t, tok.ID, 26)
	require.True(t, tok.CreatedAt.Equal(testNow))
}

func TestService_CreateWithScopeAndCreator(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore(), WithCodeLength(12))
	scope := "  org_7  "
	by := "admin@example.com"
	tok, err := s.Create(context.Background(), CreateInput{OwnerScope: &scope, CreatedBy: &by})
	require.NoError(t, err)

	require.Len(t, tok.Code, 12)
	require.NotNil(t, tok.OwnerScope)
	require.Equal(t, "org_7", *tok.OwnerScope)
	require.NotNil(t, tok.CreatedBy)
	require.Equal(t, by, *tok.CreatedBy)
}

func TestService_CreateRejectsInvalidMaxUses(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	for _, n := range []int{0, -1} {
		_, err := s.Create(context.Background(), CreateInput{MaxUses: intPtr(n)})
		require.ErrorIs(t, err, ErrInvalidInput)
	}

	long := strings.Repeat("x", maxOwnerScopeLen+1)
	_, err := s.Create(context.Background(), CreateInput{OwnerScope: &long})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_CreateRetriesCodeCollisions(t *testing.T) {
	t.Parallel()

	fs := &faultStore{MemoryStore: NewMemoryStore()}
	fs.conflicts.Store(2)
	s := newTestService(t, fs)

	tok, err := s.Create(context.Background(), CreateInput{})
	require.NoError(t, err)
	require.NotEmpty(t, tok.Code)

	fs.conflicts.Store(100)
	_, err = s.Create(context.Background(), CreateInput{})
	require.ErrorIs(t, err, ErrCodeConflict)
}

func TestService_StoreFailureIsNotExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := &faultStore{MemoryStore: NewMemoryStore()}
	s := newTestService(t, fs)

	tok, err := s.Create(ctx, CreateInput{})
	require.NoError(t, err)

	fs.incrementErr = errors.New("connection reset by peer")
	_, err = s.Redeem(ctx, tok.Code)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrCodeExhausted)
	require.True(t, IsRetryable(err))

	fs.incrementErr = nil
	fs.findErr = errors.New("pool closed")
	_, err = s.Redeem(ctx, tok.Code)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestService_RedeemBoundedRetries(t *testing.T) {
	t.Parallel()

	fs := &faultStore{MemoryStore: NewMemoryStore(), staleNoop: true}
	s := newTestService(t, fs, WithIncrementAttempts(2))

	tok, err := s.Create(context.Background(), CreateInput{})
	require.NoError(t, err)

	_, err = s.Redeem(context.Background(), tok.Code)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestService_InvalidInput(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	_, err := s.Redeem(ctx, "   ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Lookup(ctx, strings.Repeat("A", maxCodeLen+1))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewService(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewService(NewMemoryStore(), WithCodeAlphabet("abc"))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_CanceledContext(t *testing.T) {
	t.Parallel()

	s := newTestService(t, NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Redeem(ctx, "ABCDEFGH")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, context.Canceled)
}

func TestService_List(t *testing.T) {
	t.Parallel()

	clock := testNow
	var mu sync.Mutex
	s, err := NewService(NewMemoryStore(), WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	require.NoError(t, err)
	ctx := context.Background()

	scope := "team_a"
	var last Token
	for i := 0; i < 4; i++ {
		in := CreateInput{}
		if i%2 == 0 {
			in.OwnerScope = &scope
		}
		last, err = s.Create(ctx, in)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, ListInput{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, last.ID, all[0].ID)

	scoped, err := s.List(ctx, ListInput{OwnerScope: &scope})
	require.NoError(t, err)
	require.Len(t, scoped, 2)

	limited, err := s.List(ctx, ListInput{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestCreate_TruncatesTimesToStorePrecision(t *testing.T) {
	t.Parallel()

	clock := testNow.Add(123456789 * time.Nanosecond)
	s := newTestService(t, NewMemoryStore(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	exp := clock.Add(time.Hour + 999*time.Nanosecond)
	tok, err := s.Create(ctx, CreateInput{ExpiresAt: &exp})
	require.NoError(t, err)

	require.Equal(t, clock.Truncate(time.Microsecond), tok.CreatedAt)
	require.Equal(t, exp.Truncate(time.Microsecond), *tok.ExpiresAt)
	require.Zero(t, tok.CreatedAt.Nanosecond()%1000)
	require.Zero(t, tok.ExpiresAt.Nanosecond()%1000)
}

func TestMemoryStore_InsertRejectsMalformedID(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	_, err := st.Insert(context.Background(), CreateRecord{ID: "not-a-ulid", Code: "ABCDEFGH", MaxUses: 1, CreatedAt: testNow})
	require.ErrorIs(t, err, ErrInvalidInput)
}
