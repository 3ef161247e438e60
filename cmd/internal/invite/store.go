package invite

import (
	"context"
	"time"

	"backstage/cmd/ids"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CreateRecord is a normalized token insert payload.
type CreateRecord struct {
	ID         string
	Code       string
	MaxUses    int
	ExpiresAt  *time.Time
	OwnerScope *string
	CreatedBy  *string
	CreatedAt  time.Time
}

// IncrementResult is the outcome of a conditional increment.
// Token holds the row as stored after the attempt (post-increment when Updated).
type IncrementResult struct {
	Updated bool
	Token   Token
}

// ListInput filters a token listing. A nil OwnerScope lists every token.
type ListInput struct {
	OwnerScope *string
	Limit      int
}

// Store is the persistence boundary for tokens.
//
// Requirements:
//   - FindByCode receives an already-normalized code and returns ErrCodeNotFound when absent.
//   - TryIncrement is a single atomic conditional update: it increments used_count by one
//     only if used_count < max_uses and the token is not expired at now. It returns
//     ErrCodeNotFound when the id does not exist.
//   - Insert enforces code uniqueness and returns ErrCodeConflict on a duplicate code.
//   - List returns tokens newest first, at most Limit rows.
type Store interface {
	FindByCode(ctx context.Context, code string) (Token, error)
	TryIncrement(ctx context.Context, id string, now time.Time) (IncrementResult, error)
	Insert(ctx context.Context, in CreateRecord) (Token, error)
	List(ctx context.Context, in ListInput) ([]Token, error)
}

func clampListLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func tokenFromRecord(in CreateRecord) Token {
	return Token{
		ID:         in.ID,
		Code:       in.Code,
		MaxUses:    in.MaxUses,
		UsedCount:  0,
		ExpiresAt:  in.ExpiresAt,
		OwnerScope: in.OwnerScope,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  in.CreatedAt,
	}
}

func validRecord(in CreateRecord) bool {
	return ids.IsULID(in.ID) && validCode(in.Code) && in.MaxUses >= 1
}
