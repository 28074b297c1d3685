package wallet

import (
	"errors"
	"time"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/google/uuid"
)

var (
	ErrZeroAmount      = errors.New("transaction amount cannot be zero")
	ErrSignMismatch    = errors.New("transaction amount sign does not match its type")
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
	ErrMissingUser     = errors.New("transaction user is required")
)

// Transaction is an immutable ledger entry. Amount is signed minor units:
// negative is an outflow from the user, positive an inflow.
type Transaction struct {
	ID               uuid.UUID                `json:"id"`
	UserID           uuid.UUID                `json:"user_id"`
	Type             shared.TransactionType   `json:"type"`
	Amount           int64                    `json:"amount"`
	Currency         string                   `json:"currency"`
	BountyID         *uuid.UUID               `json:"bounty_id,omitempty"`
	Status           shared.TransactionStatus `json:"status"`
	GatewayReference *string                  `json:"gateway_reference,omitempty"`
	Description      string                   `json:"description,omitempty"`
	Metadata         map[string]string        `json:"metadata,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// NewTransaction builds a completed entry after checking that the sign of
// amount agrees with the type.
func NewTransaction(userID uuid.UUID, txType shared.TransactionType, amount int64, currency string) (*Transaction, error) {
	if userID == uuid.Nil {
		return nil, ErrMissingUser
	}
	if !txType.Valid() {
		return nil, ErrInvalidType
	}
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if outflow(txType) != (amount < 0) {
		return nil, ErrSignMismatch
	}

	return &Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      txType,
		Amount:    amount,
		Currency:  currency,
		Status:    shared.TransactionStatusCompleted,
		Metadata:  map[string]string{},
		CreatedAt: time.Now().UTC(),
	}, nil
}

func outflow(t shared.TransactionType) bool {
	return t == shared.TransactionTypeEscrow || t == shared.TransactionTypeWithdrawal
}

// ForBounty scopes the entry to a bounty.
func (t *Transaction) ForBounty(id uuid.UUID) *Transaction {
	t.BountyID = &id
	return t
}

// WithGatewayReference records the processor-side reference of the movement.
func (t *Transaction) WithGatewayReference(ref string) *Transaction {
	if ref != "" {
		t.GatewayReference = &ref
	}
	return t
}

// WithMeta adds an opaque metadata entry.
func (t *Transaction) WithMeta(key, value string) *Transaction {
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata[key] = value
	return t
}

// Describe sets the human readable description shown in transaction lists.
func (t *Transaction) Describe(description string) *Transaction {
	t.Description = description
	return t
}

// Failed marks the entry as a failed attempt. Failed entries never count toward balance.
func (t *Transaction) Failed() *Transaction {
	t.Status = shared.TransactionStatusFailed
	return t
}

// Counts reports whether the entry contributes to the user's balance.
func (t *Transaction) Counts() bool {
	return t.Status == shared.TransactionStatusCompleted
}

// Sum adds up the completed entries. It is the definition of balance.
func Sum(txs []*Transaction) int64 {
	var total int64
	for _, tx := range txs {
		if tx.Counts() {
			total += tx.Amount
		}
	}
	return total
}
