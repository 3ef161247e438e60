package api

import (
	"strings"
	"time"

	"backstage/cmd/internal/invite"
)

const (
	maxCodeChars  = 64
	maxScopeChars = 128
)

type redeemRequest struct {
	Code string `json:"code"`
}

// Validate returns human-readable problems; empty means valid.
func (r redeemRequest) Validate() []string {
	var out []string
	code := strings.TrimSpace(r.Code)
	switch {
	case code == "":
		out = append(out, "code is required")
	case len(code) > maxCodeChars:
		out = append(out, "code is too long")
	}
	return out
}

type createRequest struct {
	MaxUses          *int       `json:"max_uses"`
	ExpiresAt        *time.Time `json:"expires_at"`
	ExpiresInSeconds *int64     `json:"expires_in_seconds"`
	OwnerScope       *string    `json:"owner_scope"`
}

func (r createRequest) Validate() []string {
	var out []string
	if r.MaxUses != nil && *r.MaxUses < 1 {
		out = append(out, "max_uses must be >= 1")
	}
	if r.ExpiresAt != nil && r.ExpiresInSeconds != nil {
		out = append(out, "expires_at and expires_in_seconds are mutually exclusive")
	}
	if r.ExpiresInSeconds != nil && *r.ExpiresInSeconds <= 0 {
		out = append(out, "expires_in_seconds must be > 0")
	}
	if r.OwnerScope != nil && len(strings.TrimSpace(*r.OwnerScope)) > maxScopeChars {
		out = append(out, "owner_scope is too long")
	}
	return out
}

type redeemResponse struct {
	OK            bool    `json:"ok"`
	OwnerScope    *string `json:"owner_scope"`
	RemainingUses int     `json:"remaining_uses"`
}

type validityResponse struct {
	Valid     bool   `json:"valid"`
	Expired   bool   `json:"expired"`
	Exhausted bool   `json:"exhausted"`
	Reason    string `json:"reason,omitempty"`
}

type createResponse struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	MaxUses    int        `json:"max_uses"`
	ExpiresAt  *time.Time `json:"expires_at"`
	OwnerScope *string    `json:"owner_scope"`
}

type inviteResponse struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	MaxUses       int          `json:"max_uses"`
	UsedCount     int          `json:"used_count"`
	RemainingUses int          `json:"remaining_uses"`
	ExpiresAt     *time.Time   `json:"expires_at"`
	OwnerScope    *string      `json:"owner_scope"`
	CreatedBy     *string      `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	State         invite.State `json:"state"`
}

type listResponse struct {
	Invites []inviteResponse `json:"invites"`
}

func toInviteResponse(t invite.Token, now time.Time) inviteResponse {
	return inviteResponse{
		ID:            t.ID,
		Code:          t.Code,
		MaxUses:       t.MaxUses,
		UsedCount:     t.UsedCount,
		RemainingUses: t.RemainingUses(),
		ExpiresAt:     t.ExpiresAt,
		OwnerScope:    t.OwnerScope,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt,
		State:         t.State(now),
	}
}
