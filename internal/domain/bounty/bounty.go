package bounty

import (
	"time"

	"github.com/google/uuid"
)

// Status is the bounty's own workflow status, owned by the marketplace flows.
// The escrow engine reads it as a precondition and moves it on transitions.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusClosed     Status = "closed"
)

// Bounty is the task a poster funds.
type Bounty struct {
	ID              uuid.UUID  `json:"id"`
	PosterID        uuid.UUID  `json:"poster_id"`
	HunterID        *uuid.UUID `json:"hunter_id,omitempty"`
	Title           string     `json:"title"`
	Amount          int64      `json:"amount"` // minor units
	IsForHonor      bool       `json:"is_for_honor"`
	Status          Status     `json:"status"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Honor bounties carry no money and skip the gateway and the ledger.
func (b *Bounty) Honor() bool {
	return b.IsForHonor || b.Amount == 0
}

// IsPoster reports whether userID created the bounty.
func (b *Bounty) IsPoster(userID uuid.UUID) bool {
	return b.PosterID == userID
}

// AcceptsEscrow is true while work has not finished.
func (b *Bounty) AcceptsEscrow() bool {
	return b.Status == StatusOpen || b.Status == StatusInProgress
}

// AcceptsRelease is true once the hunter's work is marked completed.
func (b *Bounty) AcceptsRelease() bool {
	return b.Status == StatusCompleted
}

// AcceptsRefund is true for any bounty that has not been closed. Completed
// work may still be refunded while its escrow is unreleased; the escrow
// state, not the status, rules out refunds after a payout.
func (b *Bounty) AcceptsRefund() bool {
	switch b.Status {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// StatusAfterEscrow is where a funded bounty goes: funding happens as work starts.
func (b *Bounty) StatusAfterEscrow() Status {
	if b.Status == StatusOpen {
		return StatusInProgress
	}
	return b.Status
}
