package invite

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used in dev mode and tests.
// A single mutex serializes mutations, which makes TryIncrement atomic.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Token
	byCode map[string]string // normalized code -> id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Token),
		byCode: make(map[string]string),
	}
}

// FindByCode returns a copy of the token stored under code.
func (s *MemoryStore) FindByCode(ctx context.Context, code string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return Token{}, ErrCodeNotFound
	}
	return cloneToken(s.byID[id]), nil
}

// TryIncrement consumes one use when the token is neither exhausted nor expired at now.
func (s *MemoryStore) TryIncrement(ctx context.Context, id string, now time.Time) (IncrementResult, error) {
	if err := ctx.Err(); err != nil {
		return IncrementResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return IncrementResult{}, ErrCodeNotFound
	}
	if CheckValidity(*t, now) != ValidityValid {
		return IncrementResult{Updated: false, Token: cloneToken(t)}, nil
	}
	t.UsedCount++
	return IncrementResult{Updated: true, Token: cloneToken(t)}, nil
}

// Insert stores a new token, rejecting duplicate codes with ErrCodeConflict.
func (s *MemoryStore) Insert(ctx context.Context, in CreateRecord) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if !validRecord(in) {
		return Token{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byCode[in.Code]; dup {
		return Token{}, ErrCodeConflict
	}
	if _, dup := s.byID[in.ID]; dup {
		return Token{}, ErrCodeConflict
	}

	t := tokenFromRecord(in)
	s.byID[in.ID] = &t
	s.byCode[in.Code] = in.ID
	return cloneToken(&t), nil
}

// List returns tokens ordered by id descending (ULIDs sort by creation time).
func (s *MemoryStore) List(ctx context.Context, in ListInput) ([]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := clampListLimit(in.Limit)

	s.mu.Lock()
	out := make([]Token, 0, len(s.byID))
	for _, t := range s.byID {
		if in.OwnerScope != nil && (t.OwnerScope == nil || *t.OwnerScope != *in.OwnerScope) {
			continue
		}
		out = append(out, cloneToken(t))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneToken(t *Token) Token {
	out := *t
	if t.ExpiresAt != nil {
		e := *t.ExpiresAt
		out.ExpiresAt = &e
	}
	if t.OwnerScope != nil {
		v := *t.OwnerScope
		out.OwnerScope = &v
	}
	if t.CreatedBy != nil {
		v := *t.CreatedBy
		out.CreatedBy = &v
	}
	return out
}
