// Package orchestrator runs the escrow lifecycle of a bounty: funding, release
// to the hunter and refund to the poster. Each operation passes the
// idempotency guard, talks to the payment processor outside any database
// transaction, then commits ledger rows, the bounty status, the outbox event
// and the cached result together under the bounty row lock.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/domain/bounty"
	"github.com/bounty-escrow-ledger/internal/domain/escrow"
	"github.com/bounty-escrow-ledger/internal/domain/outbox"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/domain/wallet"
	"github.com/bounty-escrow-ledger/internal/idempotency"
	"github.com/bounty-escrow-ledger/internal/platform/gateway"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

type Orchestrator struct {
	db       persistence.TxRunner
	bounties bounty.Repository
	ledger   wallet.Repository
	outbox   outbox.Repository
	guard    Guard
	gateway  gateway.Processor
	fees     escrow.FeePolicy
	platform uuid.UUID
	currency string
	recorder Recorder
	logger   *slog.Logger
}

var _ Service = (*Orchestrator)(nil)

func New(
	db persistence.TxRunner,
	bounties bounty.Repository,
	ledger wallet.Repository,
	outboxRepo outbox.Repository,
	guard Guard,
	processor gateway.Processor,
	cfg *config.EscrowConfig,
	recorder Recorder,
	logger *slog.Logger,
) (*Orchestrator, error) {
	fees, err := escrow.NewFeePolicy(cfg.PlatformFeeRate)
	if err != nil {
		return nil, err
	}
	platform, err := uuid.Parse(cfg.PlatformAccountID)
	if err != nil {
		return nil, fmt.Errorf("invalid platform account id: %w", err)
	}
	return &Orchestrator{
		db:       db,
		bounties: bounties,
		ledger:   ledger,
		outbox:   outboxRepo,
		guard:    guard,
		gateway:  processor,
		fees:     fees,
		platform: platform,
		currency: cfg.Currency,
		recorder: recorder,
		logger:   logger,
	}, nil
}

func (o *Orchestrator) scoped(operation string, bountyID uuid.UUID, correlationID, key string) *slog.Logger {
	logger := o.logger.With("operation", operation, "bounty_id", bountyID.String(), "idempotency_key", key)
	if correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}
	return logger
}

// CreateEscrow moves a bounty's amount into custody.
func (o *Orchestrator) CreateEscrow(ctx context.Context, cmd CreateEscrowCommand) (CreateEscrowResult, error) {
	if err := cmd.Validate(); err != nil {
		return CreateEscrowResult{}, err
	}
	key := cmd.key()
	logger := o.scoped(shared.OperationCreateEscrow, cmd.BountyID, cmd.CorrelationID, key)

	return execute(ctx, o, logger, shared.OperationCreateEscrow, key, cmd, func() (CreateEscrowResult, error) {
		return o.createEscrow(ctx, logger, key, cmd)
	})
}

func (o *Orchestrator) createEscrow(ctx context.Context, logger *slog.Logger, key string, cmd CreateEscrowCommand) (CreateEscrowResult, error) {
	b, view, err := o.load(ctx, cmd.BountyID)
	if err != nil {
		return CreateEscrowResult{}, err
	}
	if !b.IsPoster(cmd.CallerID) {
		return CreateEscrowResult{}, shared.AuthorizationError{Action: "fund escrow", Reason: "only the bounty poster can fund it"}
	}
	if !b.AcceptsEscrow() {
		return CreateEscrowResult{}, statusConflict(b, "escrow can only be created for open or in-progress bounties")
	}

	if b.Honor() {
		check := func(_ *unitOfWork, locked *bounty.Bounty, _ escrow.View) error {
			if !locked.AcceptsEscrow() {
				return statusConflict(locked, "escrow can only be created for open or in-progress bounties")
			}
			return nil
		}
		result := CreateEscrowResult{Status: statusHonor, Amount: 0}
		return honorTransition(ctx, o, logger, key, shared.OperationCreateEscrow, b.ID, check, b.StatusAfterEscrow(), result)
	}

	if cmd.Amount == 0 {
		return CreateEscrowResult{}, shared.ValidationError{Field: "amount", Message: "amount is required"}
	}
	if cmd.Amount != b.Amount {
		return CreateEscrowResult{}, shared.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("amount %d does not match the bounty amount %d", cmd.Amount, b.Amount),
		}
	}
	if view.State != escrow.StateOpen {
		return CreateEscrowResult{}, stateConflict(b.ID, view.State)
	}

	funding := escrow.FundingWallet
	intentID := cmd.PaymentIntentID
	if intentID == "" && b.PaymentIntentID != nil {
		intentID = *b.PaymentIntentID
	}

	var holdReference string
	if intentID != "" {
		funding = escrow.FundingExternal
		res := o.gateway.CreateHold(ctx, gateway.HoldRequest{
			IntentID:         intentID,
			Amount:           cmd.Amount,
			Currency:         o.currency,
			IdempotencyToken: gateway.Token(shared.OperationCreateEscrow, b.ID),
		})
		switch r := res.(type) {
		case gateway.HoldCreated:
			holdReference = r.HoldReference
			logger.Info("Gateway hold placed", "hold_reference", holdReference)
		case gateway.Declined:
			logger.Warn("Gateway declined hold", "code", r.Code)
			return CreateEscrowResult{}, shared.GatewayDefinitiveError{Operation: shared.OperationCreateEscrow, Code: r.Code, Message: r.Message}
		case gateway.TransientFailure:
			return CreateEscrowResult{}, o.recordForReconciliation(ctx, logger, attempt{
				operation: shared.OperationCreateEscrow,
				bountyID:  b.ID,
				userID:    b.PosterID,
				txType:    shared.TransactionTypeEscrow,
				amount:    -cmd.Amount,
				reason:    r.Reason,
				payload:   o.payload(b, escrow.StateOpen, cmd.Amount),
			})
		default:
			return CreateEscrowResult{}, fmt.Errorf("unexpected hold result %T", res)
		}
	}

	var result CreateEscrowResult
	err = o.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		uow := o.unitOfWork(tx, logger)
		locked, current, err := uow.lock(ctx, b.ID)
		if err != nil {
			return err
		}
		if !locked.AcceptsEscrow() {
			return statusConflict(locked, "escrow can only be created for open or in-progress bounties")
		}
		if current.State != escrow.StateOpen {
			return stateConflict(locked.ID, current.State)
		}

		escrowTx, err := wallet.NewTransaction(locked.PosterID, shared.TransactionTypeEscrow, -cmd.Amount, o.currency)
		if err != nil {
			return err
		}
		escrowTx.ForBounty(locked.ID).
			WithGatewayReference(holdReference).
			WithMeta(escrow.MetaFunding, string(funding)).
			Describe("Escrow for bounty " + locked.Title)

		entries := []*wallet.Transaction{escrowTx}
		if funding == escrow.FundingExternal {
			deposit, err := wallet.NewTransaction(locked.PosterID, shared.TransactionTypeDeposit, cmd.Amount, o.currency)
			if err != nil {
				return err
			}
			deposit.ForBounty(locked.ID).
				WithGatewayReference(holdReference).
				WithMeta(escrow.MetaFunding, string(funding)).
				WithMeta(escrow.MetaIntentID, intentID).
				Describe("Card authorization for bounty " + locked.Title)
			escrowTx.WithMeta(escrow.MetaIntentID, intentID)
			entries = []*wallet.Transaction{deposit, escrowTx}
		} else {
			available, err := uow.ledger.SumCompleted(ctx, locked.PosterID)
			if err != nil {
				return fmt.Errorf("failed to read poster balance: %w", err)
			}
			if available < cmd.Amount {
				logger.Warn("Insufficient wallet balance for escrow", "available", available, "required", cmd.Amount)
				return shared.InsufficientFundsError{UserID: locked.PosterID.String(), Available: available, Required: cmd.Amount}
			}
		}

		if err := uow.append(ctx, locked.ID, entries...); err != nil {
			return err
		}
		if err := uow.moveStatus(ctx, locked, locked.StatusAfterEscrow()); err != nil {
			return err
		}

		payload := o.payload(locked, escrow.StateEscrowed, cmd.Amount)
		payload.Reference = holdReference
		if err := uow.emit(ctx, shared.EventEscrowCreated, payload); err != nil {
			return err
		}

		result = CreateEscrowResult{EscrowID: escrowTx.ID.String(), Status: statusHeld, Amount: cmd.Amount}
		return o.guard.CompleteTx(ctx, tx, key, result)
	})
	if err != nil {
		return CreateEscrowResult{}, err
	}

	logger.Info("Escrow created", "escrow_id", result.EscrowID, "amount", cmd.Amount, "funding", funding)
	return result, nil
}

// Release pays the escrow out to the hunter minus the platform fee.
func (o *Orchestrator) Release(ctx context.Context, cmd ReleaseCommand) (ReleaseResult, error) {
	if err := cmd.Validate(); err != nil {
		return ReleaseResult{}, err
	}
	if cmd.HunterID == o.platform {
		return ReleaseResult{}, shared.ValidationError{Field: "hunterId", Message: "the platform account cannot be paid out"}
	}
	key := cmd.key()
	logger := o.scoped(shared.OperationReleaseEscrow, cmd.BountyID, cmd.CorrelationID, key)

	return execute(ctx, o, logger, shared.OperationReleaseEscrow, key, cmd, func() (ReleaseResult, error) {
		return o.release(ctx, logger, key, cmd)
	})
}

func (o *Orchestrator) release(ctx context.Context, logger *slog.Logger, key string, cmd ReleaseCommand) (ReleaseResult, error) {
	b, view, err := o.load(ctx, cmd.BountyID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !b.IsPoster(cmd.CallerID) {
		return ReleaseResult{}, shared.AuthorizationError{Action: "release escrow", Reason: "only the bounty poster can release it"}
	}
	if view.State.Terminal() {
		return ReleaseResult{}, stateConflict(b.ID, view.State)
	}

	precheck := func(locked *bounty.Bounty) error {
		if !locked.AcceptsRelease() {
			return statusConflict(locked, "only completed bounties can be released")
		}
		if locked.HunterID != nil && *locked.HunterID != cmd.HunterID {
			return shared.ConflictError{Resource: "bounty", ID: locked.ID.String(), Reason: "hunter does not match the bounty's assigned hunter"}
		}
		return nil
	}
	if err := precheck(b); err != nil {
		return ReleaseResult{}, err
	}

	if b.Honor() {
		check := func(uow *unitOfWork, locked *bounty.Bounty, current escrow.View) error {
			if current.State.Terminal() {
				return stateConflict(locked.ID, current.State)
			}
			return assignHunter(ctx, uow, locked, cmd.HunterID, precheck)
		}
		result := ReleaseResult{Status: statusCompleted}
		return honorTransition(ctx, o, logger, key, shared.OperationReleaseEscrow, b.ID, check, bounty.StatusClosed, result)
	}

	if view.State != escrow.StateEscrowed {
		return ReleaseResult{}, stateConflict(b.ID, view.State)
	}

	split, err := o.fees.Split(view.Amount)
	if err != nil {
		return ReleaseResult{}, err
	}

	var transferID string
	if view.Funding == escrow.FundingExternal {
		destination := cmd.Destination
		if destination == "" {
			destination = cmd.HunterID.String()
		}
		res := o.gateway.CaptureOrTransfer(ctx, gateway.CaptureRequest{
			HoldReference:    view.HoldReference,
			Destination:      destination,
			Amount:           view.Amount,
			Currency:         o.currency,
			IdempotencyToken: gateway.Token(shared.OperationReleaseEscrow, b.ID),
		})
		switch r := res.(type) {
		case gateway.Captured:
			transferID = r.Reference
			logger.Info("Gateway capture succeeded", "reference", transferID, "destination", destination)
		case gateway.Declined:
			logger.Warn("Gateway declined capture", "code", r.Code)
			return ReleaseResult{}, shared.GatewayDefinitiveError{Operation: shared.OperationReleaseEscrow, Code: r.Code, Message: r.Message}
		case gateway.TransientFailure:
			payload := o.payload(b, escrow.StateEscrowed, view.Amount)
			payload.HunterID = &cmd.HunterID
			return ReleaseResult{}, o.recordForReconciliation(ctx, logger, attempt{
				operation: shared.OperationReleaseEscrow,
				bountyID:  b.ID,
				userID:    cmd.HunterID,
				txType:    shared.TransactionTypeRelease,
				amount:    view.Amount,
				reference: view.HoldReference,
				reason:    r.Reason,
				payload:   payload,
			})
		default:
			return ReleaseResult{}, fmt.Errorf("unexpected capture result %T", res)
		}
	}

	var result ReleaseResult
	err = o.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		uow := o.unitOfWork(tx, logger)
		locked, current, err := uow.lock(ctx, b.ID)
		if err != nil {
			return err
		}
		if current.State != escrow.StateEscrowed {
			return stateConflict(locked.ID, current.State)
		}
		if err := assignHunter(ctx, uow, locked, cmd.HunterID, precheck); err != nil {
			return err
		}

		var entries []*wallet.Transaction
		if split.PayeeAmount > 0 {
			payout, err := wallet.NewTransaction(cmd.HunterID, shared.TransactionTypeRelease, split.PayeeAmount, o.currency)
			if err != nil {
				return err
			}
			payout.ForBounty(locked.ID).
				WithGatewayReference(transferID).
				WithMeta(escrow.MetaLeg, "payee").
				WithMeta(escrow.MetaFunding, string(current.Funding)).
				Describe("Payout for bounty " + locked.Title)
			entries = append(entries, payout)
		}
		if split.PlatformFee > 0 {
			fee, err := wallet.NewTransaction(o.platform, shared.TransactionTypeRelease, split.PlatformFee, o.currency)
			if err != nil {
				return err
			}
			fee.ForBounty(locked.ID).
				WithGatewayReference(transferID).
				WithMeta(escrow.MetaLeg, "fee").
				WithMeta(escrow.MetaHunterID, cmd.HunterID.String()).
				Describe("Platform fee for bounty " + locked.Title)
			entries = append(entries, fee)
		}

		if err := uow.append(ctx, locked.ID, entries...); err != nil {
			return err
		}
		if err := uow.moveStatus(ctx, locked, bounty.StatusClosed); err != nil {
			return err
		}

		payload := o.payload(locked, escrow.StateReleased, current.Amount)
		payload.HunterID = &cmd.HunterID
		payload.PlatformFee = split.PlatformFee
		payload.PayeeAmount = split.PayeeAmount
		payload.Reference = transferID
		if err := uow.emit(ctx, shared.EventEscrowReleased, payload); err != nil {
			return err
		}

		result = ReleaseResult{
			Amount:      split.Amount,
			PlatformFee: split.PlatformFee,
			PayeeAmount: split.PayeeAmount,
			Status:      statusCompleted,
			TransferID:  transferID,
		}
		return o.guard.CompleteTx(ctx, tx, key, result)
	})
	if err != nil {
		return ReleaseResult{}, err
	}

	logger.Info("Escrow released", "hunter_id", cmd.HunterID.String(), "payee_amount", split.PayeeAmount, "platform_fee", split.PlatformFee)
	return result, nil
}

// assignHunter re-runs the release precheck under the lock and records the
// hunter when the bounty had none.
func assignHunter(ctx context.Context, uow *unitOfWork, locked *bounty.Bounty, hunterID uuid.UUID, precheck func(*bounty.Bounty) error) error {
	if err := precheck(locked); err != nil {
		return err
	}
	if locked.HunterID != nil {
		return nil
	}
	if err := uow.bounties.SetHunter(ctx, locked.ID, hunterID); err != nil {
		if errors.Is(err, bounty.ErrConcurrentModification{}) {
			return shared.ConflictError{Resource: "bounty", ID: locked.ID.String(), Reason: "hunter was assigned concurrently"}
		}
		return fmt.Errorf("failed to assign hunter: %w", err)
	}
	locked.HunterID = &hunterID
	return nil
}

// Refund returns the escrow to the poster.
func (o *Orchestrator) Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error) {
	if err := cmd.Validate(); err != nil {
		return RefundResult{}, err
	}
	key := cmd.key()
	logger := o.scoped(shared.OperationRefundEscrow, cmd.BountyID, cmd.CorrelationID, key)

	return execute(ctx, o, logger, shared.OperationRefundEscrow, key, cmd, func() (RefundResult, error) {
		return o.refund(ctx, logger, key, cmd)
	})
}

func (o *Orchestrator) refund(ctx context.Context, logger *slog.Logger, key string, cmd RefundCommand) (RefundResult, error) {
	b, view, err := o.load(ctx, cmd.BountyID)
	if err != nil {
		return RefundResult{}, err
	}
	if !b.IsPoster(cmd.CallerID) {
		return RefundResult{}, shared.AuthorizationError{Action: "refund escrow", Reason: "only the bounty poster can request a refund"}
	}
	if view.State.Terminal() {
		return RefundResult{}, stateConflict(b.ID, view.State)
	}
	if !b.AcceptsRefund() {
		return RefundResult{}, statusConflict(b, "closed bounties cannot be refunded")
	}

	if b.Honor() {
		check := func(_ *unitOfWork, locked *bounty.Bounty, current escrow.View) error {
			if current.State.Terminal() {
				return stateConflict(locked.ID, current.State)
			}
			if !locked.AcceptsRefund() {
				return statusConflict(locked, "closed bounties cannot be refunded")
			}
			return nil
		}
		result := RefundResult{Status: statusSucceeded}
		return honorTransition(ctx, o, logger, key, shared.OperationRefundEscrow, b.ID, check, bounty.StatusCancelled, result)
	}

	if view.State != escrow.StateEscrowed {
		return RefundResult{}, stateConflict(b.ID, view.State)
	}

	var reference string
	if view.Funding == escrow.FundingExternal {
		res := o.gateway.Refund(ctx, gateway.RefundRequest{
			HoldReference:    view.HoldReference,
			Amount:           view.Amount,
			Currency:         o.currency,
			Reason:           cmd.Reason,
			IdempotencyToken: gateway.Token(shared.OperationRefundEscrow, b.ID),
		})
		switch r := res.(type) {
		case gateway.Refunded:
			reference = r.Reference
			logger.Info("Gateway hold voided", "reference", reference)
		case gateway.Declined:
			logger.Warn("Gateway declined refund", "code", r.Code)
			return RefundResult{}, shared.GatewayDefinitiveError{Operation: shared.OperationRefundEscrow, Code: r.Code, Message: r.Message}
		case gateway.TransientFailure:
			return RefundResult{}, o.recordForReconciliation(ctx, logger, attempt{
				operation: shared.OperationRefundEscrow,
				bountyID:  b.ID,
				userID:    b.PosterID,
				txType:    shared.TransactionTypeRefund,
				amount:    view.Amount,
				reference: view.HoldReference,
				reason:    r.Reason,
				payload:   o.payload(b, escrow.StateEscrowed, view.Amount),
			})
		default:
			return RefundResult{}, fmt.Errorf("unexpected refund result %T", res)
		}
	}

	var result RefundResult
	err = o.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		uow := o.unitOfWork(tx, logger)
		locked, current, err := uow.lock(ctx, b.ID)
		if err != nil {
			return err
		}
		if current.State != escrow.StateEscrowed {
			return stateConflict(locked.ID, current.State)
		}
		if !locked.AcceptsRefund() {
			return statusConflict(locked, "closed bounties cannot be refunded")
		}

		refundTx, err := wallet.NewTransaction(current.PosterID, shared.TransactionTypeRefund, current.Amount, o.currency)
		if err != nil {
			return err
		}
		refundTx.ForBounty(locked.ID).
			WithGatewayReference(reference).
			WithMeta(escrow.MetaFunding, string(current.Funding)).
			Describe("Refund for bounty " + locked.Title)
		if cmd.Reason != "" {
			refundTx.WithMeta(escrow.MetaReason, cmd.Reason)
		}
		entries := []*wallet.Transaction{refundTx}

		if current.Funding == escrow.FundingExternal {
			cardReturn, err := wallet.NewTransaction(current.PosterID, shared.TransactionTypeWithdrawal, -current.Amount, o.currency)
			if err != nil {
				return err
			}
			cardReturn.ForBounty(locked.ID).
				WithGatewayReference(reference).
				WithMeta(escrow.MetaFunding, string(current.Funding)).
				WithMeta(escrow.MetaLeg, "card_return").
				Describe("Authorization released to card for bounty " + locked.Title)
			entries = append(entries, cardReturn)
		}

		if err := uow.append(ctx, locked.ID, entries...); err != nil {
			return err
		}
		if err := uow.moveStatus(ctx, locked, bounty.StatusCancelled); err != nil {
			return err
		}

		payload := o.payload(locked, escrow.StateRefunded, current.Amount)
		payload.Reference = reference
		payload.Reason = cmd.Reason
		if err := uow.emit(ctx, shared.EventEscrowRefunded, payload); err != nil {
			return err
		}

		result = RefundResult{RefundID: refundTx.ID.String(), Amount: current.Amount, Status: statusSucceeded}
		return o.guard.CompleteTx(ctx, tx, key, result)
	})
	if err != nil {
		return RefundResult{}, err
	}

	logger.Info("Escrow refunded", "refund_id", result.RefundID, "amount", result.Amount)
	return result, nil
}

// load reads the bounty and its escrow view without locks, for prechecks.
func (o *Orchestrator) load(ctx context.Context, bountyID uuid.UUID) (*bounty.Bounty, escrow.View, error) {
	b, err := o.bounties.GetByID(ctx, bountyID)
	if err != nil {
		if errors.Is(err, bounty.ErrBountyNotFound{}) {
			return nil, escrow.View{}, shared.NotFoundError{Resource: "bounty", ID: bountyID.String()}
		}
		return nil, escrow.View{}, fmt.Errorf("failed to load bounty %s: %w", bountyID, err)
	}
	rows, err := o.ledger.ListByBounty(ctx, bountyID)
	if err != nil {
		return nil, escrow.View{}, fmt.Errorf("failed to read escrow ledger of bounty %s: %w", bountyID, err)
	}
	view, err := escrow.Derive(bountyID, rows)
	if err != nil {
		return nil, escrow.View{}, err
	}
	return b, view, nil
}

func (o *Orchestrator) payload(b *bounty.Bounty, state escrow.State, amount int64) escrow.EventPayload {
	return escrow.EventPayload{
		BountyID:     b.ID,
		PosterID:     b.PosterID,
		HunterID:     b.HunterID,
		State:        state,
		BountyStatus: string(b.Status),
		Amount:       amount,
		Currency:     o.currency,
		Honor:        b.Honor(),
	}
}

// honorTransition moves an honor bounty without touching the gateway or the ledger.
func honorTransition[R any](
	ctx context.Context,
	o *Orchestrator,
	logger *slog.Logger,
	key, operation string,
	bountyID uuid.UUID,
	check func(*unitOfWork, *bounty.Bounty, escrow.View) error,
	next bounty.Status,
	result R,
) (R, error) {
	var zero R
	err := o.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		uow := o.unitOfWork(tx, logger)
		locked, current, err := uow.lock(ctx, bountyID)
		if err != nil {
			return err
		}
		if err := check(uow, locked, current); err != nil {
			return err
		}
		if err := uow.moveStatus(ctx, locked, next); err != nil {
			return err
		}

		payload := o.payload(locked, current.State, 0)
		payload.Operation = operation
		if err := uow.emit(ctx, shared.EventHonorTransitioned, payload); err != nil {
			return err
		}
		return o.guard.CompleteTx(ctx, tx, key, result)
	})
	if err != nil {
		return zero, err
	}
	logger.Info("Honor bounty transitioned", "status", next)
	return result, nil
}

// execute runs an operation behind the idempotency guard. Only a Proceed
// decision reaches run; repeats get the stored result.
func execute[R any](
	ctx context.Context,
	o *Orchestrator,
	logger *slog.Logger,
	operation, key string,
	command any,
	run func() (R, error),
) (R, error) {
	var zero R

	hash, err := idempotency.RequestHash(command)
	if err != nil {
		return zero, err
	}

	outcome, err := o.guard.Begin(ctx, key, operation, hash)
	if err != nil {
		logger.Error("Idempotency check failed", "error", err)
		o.record(operation, err)
		return zero, fmt.Errorf("idempotency check failed: %w", err)
	}

	switch outcome.Decision {
	case idempotency.Replay:
		logger.Info("Replaying stored result")
		o.record(operation, nil)
		return decode[R](outcome.Payload)
	case idempotency.Conflict:
		err := shared.ConflictError{Resource: "idempotency_key", ID: key, Reason: "key was already used for a different request"}
		o.record(operation, err)
		return zero, err
	case idempotency.InFlight:
		logger.Info("Request already in flight, waiting for it")
		awaited, err := o.guard.Await(ctx, key)
		if err != nil {
			o.record(operation, err)
			return zero, err
		}
		o.record(operation, nil)
		return decode[R](awaited.Payload)
	}

	result, err := run()
	if err != nil {
		o.guard.Fail(ctx, key, err)
		o.record(operation, err)
		return zero, err
	}
	o.record(operation, nil)
	return result, nil
}

func decode[R any](payload json.RawMessage) (R, error) {
	var result R
	if err := json.Unmarshal(payload, &result); err != nil {
		return result, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) record(operation string, err error) {
	if o.recorder != nil {
		o.recorder.EscrowOperation(operation, resultLabel(err))
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ValidationError{}):
		return "invalid"
	case errors.Is(err, shared.AuthorizationError{}):
		return "forbidden"
	case errors.Is(err, shared.NotFoundError{}):
		return "not_found"
	case errors.Is(err, shared.ConflictError{}):
		return "conflict"
	case errors.Is(err, shared.InsufficientFundsError{}):
		return "insufficient_funds"
	case errors.Is(err, shared.GatewayDefinitiveError{}):
		return "declined"
	case errors.Is(err, shared.GatewayTransientError{}):
		return "gateway_unavailable"
	}
	return "error"
}
