package feed

import (
	"time"

	"backstage/cmd/ids"
)

// Event types.
const (
	TypeReady          = "feed.ready"
	TypeInviteCreated  = "invite.created"
	TypeInviteRedeemed = "invite.redeemed"
)

// Event is one message on the invite feed.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	TokenID       string    `json:"token_id,omitempty"`
	Code          string    `json:"code,omitempty"`
	OwnerScope    *string   `json:"owner_scope,omitempty"`
	UsedCount     int       `json:"used_count"`
	MaxUses       int       `json:"max_uses"`
	RemainingUses int       `json:"remaining_uses"`
	At            time.Time `json:"at"`
}

// NewEvent stamps an event with a ULID and the given time.
func NewEvent(typ string, at time.Time) Event {
	id, err := ids.NewULID(at)
	if err != nil {
		id = ""
	}
	return Event{ID: id, Type: typ, At: at.UTC()}
}
