// Package escrow holds the escrow state derived from the wallet ledger and the
// platform fee arithmetic. Nothing here is persisted: escrow state is a view.
package escrow

import (
	"errors"
	"fmt"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/domain/wallet"
	"github.com/google/uuid"
)

// State of a bounty's escrow.
type State string

const (
	StateOpen     State = "open"
	StateEscrowed State = "escrowed"
	StateReleased State = "released"
	StateRefunded State = "refunded"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateRefunded
}

// Funding says where escrowed money physically sits.
type Funding string

const (
	// FundingWallet means the poster's wallet balance was moved into custody;
	// the ledger itself is the hold.
	FundingWallet Funding = "wallet"
	// FundingExternal means the processor holds an authorization against the
	// poster's payment method.
	FundingExternal Funding = "external"
)

// Metadata keys written on escrow ledger rows.
const (
	MetaFunding   = "funding"
	MetaIntentID  = "payment_intent_id"
	MetaHunterID  = "hunter_id"
	MetaLeg       = "leg"
	MetaOperation = "operation"
	MetaReason    = "reason"
)

// ErrInconsistentLedger means the ledger rows of a bounty break the escrow
// rules. It should be impossible given the storage constraints.
var ErrInconsistentLedger = errors.New("inconsistent escrow ledger")

// View is the escrow record of one bounty, computed from its ledger rows.
type View struct {
	BountyID            uuid.UUID
	State               State
	Amount              int64 // escrowed amount, positive
	PosterID            uuid.UUID
	Funding             Funding
	HoldReference       string
	EscrowTransactionID uuid.UUID
}

// Derive computes the escrow view from all ledger rows of the bounty. Rows
// that are not completed are ignored.
func Derive(bountyID uuid.UUID, txs []*wallet.Transaction) (View, error) {
	view := View{BountyID: bountyID, State: StateOpen}

	var escrows, releases, refunds int
	for _, tx := range txs {
		if !tx.Counts() || tx.BountyID == nil || *tx.BountyID != bountyID {
			continue
		}
		switch tx.Type {
		case shared.TransactionTypeEscrow:
			escrows++
			view.Amount = -tx.Amount
			view.PosterID = tx.UserID
			view.EscrowTransactionID = tx.ID
			view.Funding = Funding(tx.Metadata[MetaFunding])
			if view.Funding == "" {
				view.Funding = FundingWallet
			}
			if tx.GatewayReference != nil {
				view.HoldReference = *tx.GatewayReference
			}
		case shared.TransactionTypeRelease:
			releases++
		case shared.TransactionTypeRefund:
			refunds++
		}
	}

	switch {
	case escrows > 1:
		return view, fmt.Errorf("%w: %d escrow entries for bounty %s", ErrInconsistentLedger, escrows, bountyID)
	case releases > 0 && refunds > 0:
		return view, fmt.Errorf("%w: bounty %s is both released and refunded", ErrInconsistentLedger, bountyID)
	case escrows == 0 && (releases > 0 || refunds > 0):
		return view, fmt.Errorf("%w: bounty %s settled without escrow", ErrInconsistentLedger, bountyID)
	case releases > 0:
		view.State = StateReleased
	case refunds > 0:
		view.State = StateRefunded
	case escrows == 1:
		view.State = StateEscrowed
	}

	return view, nil
}
