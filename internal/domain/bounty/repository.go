package bounty

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository gives the escrow engine the slice of bounty persistence it needs.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Bounty, error)

	// LockForUpdate takes a row lock held until the surrounding transaction ends.
	// All escrow transitions for a bounty serialize on it.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Bounty, error)

	// UpdateStatus uses the version column as an optimistic guard.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, version int) error
	SetHunter(ctx context.Context, id uuid.UUID, hunterID uuid.UUID) error
	WithTx(tx pgx.Tx) Repository
}

// ErrBountyNotFound indicates a missing bounty
type ErrBountyNotFound struct {
	BountyID uuid.UUID
}

func (e ErrBountyNotFound) Error() string {
	return "bounty not found: " + e.BountyID.String()
}

// Is matches any ErrBountyNotFound when the target ID is nil.
func (e ErrBountyNotFound) Is(target error) bool {
	t, ok := target.(ErrBountyNotFound)
	if !ok {
		return false
	}
	return t.BountyID == uuid.Nil || t.BountyID == e.BountyID
}

// ErrConcurrentModification indicates the version guard failed
type ErrConcurrentModification struct {
	BountyID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for bounty: " + e.BountyID.String()
}

func (e ErrConcurrentModification) Is(target error) bool {
	_, ok := target.(ErrConcurrentModification)
	return ok
}
