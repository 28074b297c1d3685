package orchestrator

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/idempotency"
)

// Service is the escrow engine as seen by the HTTP layer.
type Service interface {
	CreateEscrow(ctx context.Context, cmd CreateEscrowCommand) (CreateEscrowResult, error)
	Release(ctx context.Context, cmd ReleaseCommand) (ReleaseResult, error)
	Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error)
}

// Guard is the idempotency guard every operation runs through.
type Guard interface {
	Begin(ctx context.Context, key, operation, requestHash string) (idempotency.Outcome, error)
	Await(ctx context.Context, key string) (idempotency.Outcome, error)
	CompleteTx(ctx context.Context, tx pgx.Tx, key string, result any) error
	Fail(ctx context.Context, key string, cause error)
}

// Recorder counts operation outcomes.
type Recorder interface {
	EscrowOperation(operation, result string)
}

var _ Guard = (*idempotency.Guard)(nil)
