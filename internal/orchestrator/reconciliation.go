package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/domain/escrow"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/domain/wallet"
)

// attempt describes a money movement the gateway could not confirm.
type attempt struct {
	operation string
	bountyID  uuid.UUID
	userID    uuid.UUID
	txType    shared.TransactionType
	amount    int64 // signed, as the completed row would have been
	reference string
	reason    string
	payload   escrow.EventPayload
}

// recordForReconciliation writes a failed ledger row and a reconciliation event
// in one transaction, then reports the gateway as temporarily unavailable.
// The failed row never counts toward balance.
func (o *Orchestrator) recordForReconciliation(ctx context.Context, logger *slog.Logger, a attempt) error {
	logger.Warn("Gateway outcome unresolved, recording for reconciliation", "reason", a.reason)

	// The caller's context may already be gone; the record must still land.
	ctx = context.WithoutCancel(ctx)

	entry, err := wallet.NewTransaction(a.userID, a.txType, a.amount, o.currency)
	if err != nil {
		logger.Error("Failed to build failed ledger entry", "error", err)
		return shared.GatewayTransientError{Operation: a.operation, Reason: a.reason}
	}
	entry.ForBounty(a.bountyID).
		WithGatewayReference(a.reference).
		WithMeta(escrow.MetaOperation, a.operation).
		WithMeta(escrow.MetaReason, a.reason).
		Describe("Awaiting reconciliation").
		Failed()

	payload := a.payload
	payload.Operation = a.operation
	payload.Reason = a.reason
	payload.Reference = a.reference

	err = o.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		uow := o.unitOfWork(tx, logger)
		if err := uow.ledger.Append(ctx, entry); err != nil {
			return err
		}
		return uow.emit(ctx, shared.EventReconciliationRequired, payload)
	})
	if err != nil {
		logger.Error("Failed to record gateway failure for reconciliation", "error", err)
	} else {
		logger.Info("Gateway failure recorded for reconciliation", "transaction_id", entry.ID.String())
	}

	return shared.GatewayTransientError{Operation: a.operation, Reason: a.reason}
}
