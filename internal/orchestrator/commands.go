package orchestrator

import (
	"strings"

	"github.com/google/uuid"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/idempotency"
)

// CreateEscrowCommand funds a bounty. PaymentIntentID selects external funding;
// without it the poster's wallet balance is used.
type CreateEscrowCommand struct {
	BountyID        uuid.UUID `json:"bountyId"`
	Amount          int64     `json:"amount"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	CallerID        uuid.UUID `json:"callerId"`
	IdempotencyKey  string    `json:"-"`
	CorrelationID   string    `json:"-"`
}

func (c CreateEscrowCommand) Validate() error {
	if c.BountyID == uuid.Nil {
		return shared.ValidationError{Field: "bountyId", Message: "bounty id is required"}
	}
	if c.CallerID == uuid.Nil {
		return shared.UnauthenticatedError{Reason: "caller is unknown"}
	}
	if c.Amount < 0 {
		return shared.ValidationError{Field: "amount", Message: "amount cannot be negative"}
	}
	return nil
}

func (c CreateEscrowCommand) key() string {
	if k := strings.TrimSpace(c.IdempotencyKey); k != "" {
		return k
	}
	return idempotency.DeriveKey(shared.OperationCreateEscrow, c.BountyID, c.CallerID)
}

type CreateEscrowResult struct {
	EscrowID string `json:"escrowId"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
}

// ReleaseCommand pays a completed bounty out to its hunter.
// Destination is the processor-side payable account; it defaults to the hunter id.
type ReleaseCommand struct {
	BountyID       uuid.UUID `json:"bountyId"`
	HunterID       uuid.UUID `json:"hunterId"`
	Destination    string    `json:"destination,omitempty"`
	CallerID       uuid.UUID `json:"callerId"`
	IdempotencyKey string    `json:"-"`
	CorrelationID  string    `json:"-"`
}

func (c ReleaseCommand) Validate() error {
	if c.BountyID == uuid.Nil {
		return shared.ValidationError{Field: "bountyId", Message: "bounty id is required"}
	}
	if c.HunterID == uuid.Nil {
		return shared.ValidationError{Field: "hunterId", Message: "hunter id is required"}
	}
	if c.CallerID == uuid.Nil {
		return shared.UnauthenticatedError{Reason: "caller is unknown"}
	}
	return nil
}

func (c ReleaseCommand) key() string {
	if k := strings.TrimSpace(c.IdempotencyKey); k != "" {
		return k
	}
	return idempotency.DeriveKey(shared.OperationReleaseEscrow, c.BountyID, c.CallerID)
}

type ReleaseResult struct {
	Amount      int64  `json:"amount"`
	PlatformFee int64  `json:"platformFee"`
	PayeeAmount int64  `json:"payeeAmount"`
	Status      string `json:"status"`
	TransferID  string `json:"transferId,omitempty"`
}

// RefundCommand returns escrowed funds to the poster.
type RefundCommand struct {
	BountyID       uuid.UUID `json:"bountyId"`
	Reason         string    `json:"reason,omitempty"`
	CallerID       uuid.UUID `json:"callerId"`
	IdempotencyKey string    `json:"-"`
	CorrelationID  string    `json:"-"`
}

func (c RefundCommand) Validate() error {
	if c.BountyID == uuid.Nil {
		return shared.ValidationError{Field: "bountyId", Message: "payment reference (bounty id) is required"}
	}
	if c.CallerID == uuid.Nil {
		return shared.UnauthenticatedError{Reason: "caller is unknown"}
	}
	if len(c.Reason) > 500 {
		return shared.ValidationError{Field: "reason", Message: "reason must be at most 500 characters"}
	}
	return nil
}

func (c RefundCommand) key() string {
	if k := strings.TrimSpace(c.IdempotencyKey); k != "" {
		return k
	}
	return idempotency.DeriveKey(shared.OperationRefundEscrow, c.BountyID, c.CallerID)
}

type RefundResult struct {
	RefundID string `json:"refundId"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
}

// Result statuses reported to clients.
const (
	statusHeld      = "held"
	statusHonor     = "honor"
	statusCompleted = "completed"
	statusSucceeded = "succeeded"
)
