package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository is the wallet ledger. Append also moves the materialized balance
// inside the same database transaction, so it must be called through WithTx
// whenever it is part of a larger unit of work.
type Repository interface {
	Append(ctx context.Context, tx *Transaction) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ListByBounty(ctx context.Context, bountyID uuid.UUID) ([]*Transaction, error)

	// SumCompleted derives the balance from the ledger itself.
	SumCompleted(ctx context.Context, userID uuid.UUID) (int64, error)
	// CachedBalance reads the running total; ok is false when no row exists yet.
	CachedBalance(ctx context.Context, userID uuid.UUID) (balance int64, ok bool, err error)
	// RebuildBalance replaces the running total with SumCompleted.
	RebuildBalance(ctx context.Context, userID uuid.UUID) (int64, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrDuplicateEntry is returned when a uniqueness rule on the ledger rejects an append,
// e.g. a second active escrow for the same bounty.
type ErrDuplicateEntry struct {
	Constraint string
}

func (e ErrDuplicateEntry) Error() string {
	return "duplicate ledger entry rejected by " + e.Constraint
}

// Is matches any ErrDuplicateEntry when the target has no constraint name.
func (e ErrDuplicateEntry) Is(target error) bool {
	t, ok := target.(ErrDuplicateEntry)
	if !ok {
		return false
	}
	return t.Constraint == "" || t.Constraint == e.Constraint
}

// ErrOverdraft is returned when an append would take the user's balance below zero.
type ErrOverdraft struct {
	UserID uuid.UUID
}

func (e ErrOverdraft) Error() string {
	return "wallet balance would become negative for user " + e.UserID.String()
}

func (e ErrOverdraft) Is(target error) bool {
	_, ok := target.(ErrOverdraft)
	return ok
}
