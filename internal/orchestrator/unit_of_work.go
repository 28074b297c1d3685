package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/domain/bounty"
	"github.com/bounty-escrow-ledger/internal/domain/escrow"
	"github.com/bounty-escrow-ledger/internal/domain/outbox"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/domain/wallet"
)

// unitOfWork binds the repositories to one database transaction. Everything an
// escrow transition writes goes through it, so it commits or rolls back as one.
type unitOfWork struct {
	bounties bounty.Repository
	ledger   wallet.Repository
	outbox   outbox.Repository
	logger   *slog.Logger
}

func (o *Orchestrator) unitOfWork(tx pgx.Tx, logger *slog.Logger) *unitOfWork {
	return &unitOfWork{
		bounties: o.bounties.WithTx(tx),
		ledger:   o.ledger.WithTx(tx),
		outbox:   o.outbox.WithTx(tx),
		logger:   logger,
	}
}

// lock takes the bounty row lock and derives the escrow state under it.
func (u *unitOfWork) lock(ctx context.Context, bountyID uuid.UUID) (*bounty.Bounty, escrow.View, error) {
	locked, err := u.bounties.LockForUpdate(ctx, bountyID)
	if err != nil {
		if errors.Is(err, bounty.ErrBountyNotFound{}) {
			return nil, escrow.View{}, shared.NotFoundError{Resource: "bounty", ID: bountyID.String()}
		}
		u.logger.Error("Failed to lock bounty", "error", err)
		return nil, escrow.View{}, fmt.Errorf("failed to lock bounty %s: %w", bountyID, err)
	}

	rows, err := u.ledger.ListByBounty(ctx, bountyID)
	if err != nil {
		return nil, escrow.View{}, fmt.Errorf("failed to read escrow ledger of bounty %s: %w", bountyID, err)
	}
	view, err := escrow.Derive(bountyID, rows)
	if err != nil {
		u.logger.Error("Escrow ledger is inconsistent", "error", err)
		return nil, escrow.View{}, err
	}

	u.logger.Debug("Bounty locked", "bounty_status", locked.Status, "escrow_state", view.State, "version", locked.Version)
	return locked, view, nil
}

// append writes ledger rows in order. Storage rule violations become domain errors.
func (u *unitOfWork) append(ctx context.Context, bountyID uuid.UUID, txs ...*wallet.Transaction) error {
	for _, tx := range txs {
		err := u.ledger.Append(ctx, tx)
		if err == nil {
			continue
		}

		var dup wallet.ErrDuplicateEntry
		if errors.As(err, &dup) {
			u.logger.Warn("Ledger rejected duplicate entry", "constraint", dup.Constraint, "type", tx.Type)
			return shared.ConflictError{Resource: "escrow", ID: bountyID.String(), Reason: duplicateReason(dup.Constraint)}
		}
		if errors.Is(err, wallet.ErrOverdraft{}) {
			u.logger.Warn("Ledger rejected overdraft", "user_id", tx.UserID.String(), "amount", tx.Amount)
			return shared.InsufficientFundsError{UserID: tx.UserID.String(), Required: -tx.Amount}
		}
		u.logger.Error("Failed to append ledger entry", "type", tx.Type, "error", err)
		return fmt.Errorf("failed to append %s entry for bounty %s: %w", tx.Type, bountyID, err)
	}
	return nil
}

func duplicateReason(constraint string) string {
	switch constraint {
	case "ux_wallet_tx_active_escrow":
		return "bounty is already escrowed"
	case "ux_wallet_tx_release":
		return "escrow already released"
	case "ux_wallet_tx_refund":
		return "escrow already refunded"
	}
	return "escrow already settled"
}

// moveStatus is a no-op when the bounty is already there.
func (u *unitOfWork) moveStatus(ctx context.Context, b *bounty.Bounty, next bounty.Status) error {
	if b.Status == next {
		return nil
	}
	if err := u.bounties.UpdateStatus(ctx, b.ID, next, b.Version); err != nil {
		if errors.Is(err, bounty.ErrConcurrentModification{}) {
			return shared.ConflictError{Resource: "bounty", ID: b.ID.String(), Reason: "bounty changed concurrently"}
		}
		u.logger.Error("Failed to update bounty status", "from", b.Status, "to", next, "error", err)
		return fmt.Errorf("failed to move bounty %s to %s: %w", b.ID, next, err)
	}
	u.logger.Info("Bounty status moved", "from", b.Status, "to", next)
	b.Status = next
	b.Version++
	return nil
}

func (u *unitOfWork) emit(ctx context.Context, eventType shared.EventType, payload escrow.EventPayload) error {
	event, err := outbox.NewEvent(eventType, payload.BountyID, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	if err := u.outbox.Enqueue(ctx, event); err != nil {
		u.logger.Error("Failed to enqueue outbox event", "event_type", eventType, "error", err)
		return fmt.Errorf("failed to enqueue %s event: %w", eventType, err)
	}
	u.logger.Info("Outbox event enqueued", "event_type", eventType, "event_id", event.EventID.String())
	return nil
}

func stateConflict(bountyID uuid.UUID, state escrow.State) error {
	reason := "escrow is " + string(state)
	switch state {
	case escrow.StateReleased:
		reason = "escrow already released"
	case escrow.StateRefunded:
		reason = "escrow already refunded"
	case escrow.StateEscrowed:
		reason = "bounty is already escrowed"
	case escrow.StateOpen:
		reason = "bounty has no escrowed funds"
	}
	return shared.ConflictError{Resource: "escrow", ID: bountyID.String(), Reason: reason}
}

func statusConflict(b *bounty.Bounty, want string) error {
	return shared.ConflictError{
		Resource: "bounty",
		ID:       b.ID.String(),
		Reason:   fmt.Sprintf("bounty is %s, %s", b.Status, want),
	}
}
