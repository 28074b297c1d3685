package escrow

import (
	"github.com/google/uuid"
)

// EventPayload is the body of every escrow outbox event.
type EventPayload struct {
	BountyID     uuid.UUID  `json:"bounty_id"`
	PosterID     uuid.UUID  `json:"poster_id"`
	HunterID     *uuid.UUID `json:"hunter_id,omitempty"`
	State        State      `json:"escrow_state"`
	BountyStatus string     `json:"bounty_status"`
	Amount       int64      `json:"amount"`
	PlatformFee  int64      `json:"platform_fee,omitempty"`
	PayeeAmount  int64      `json:"payee_amount,omitempty"`
	Currency     string     `json:"currency"`
	Honor        bool       `json:"honor,omitempty"`
	Operation    string     `json:"operation,omitempty"`
	Reference    string     `json:"gateway_reference,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Recipients lists the users who should hear about the event.
func (p EventPayload) Recipients() []uuid.UUID {
	out := []uuid.UUID{p.PosterID}
	if p.HunterID != nil && *p.HunterID != p.PosterID {
		out = append(out, *p.HunterID)
	}
	return out
}
