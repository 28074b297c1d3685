// Package postgres provides PostgreSQL implementations of the domain repositories.
// Every repository can be bound to a pgx.Tx with WithTx so the escrow engine
// can compose ledger, bounty, outbox and idempotency writes in one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bounty-escrow-ledger/internal/domain/bounty"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const bountyColumns = `id, poster_id, hunter_id, title, amount, is_for_honor, status, payment_intent_id, version, created_at, updated_at`

// BountyRepository implements the bounty.Repository interface for PostgreSQL
type BountyRepository struct {
	querier persistence.Querier // *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewBountyRepository creates a new PostgreSQL bounty repository.
func NewBountyRepository(logger *slog.Logger, db *persistence.PostgresDB) bounty.Repository {
	return &BountyRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository that runs every statement on tx.
func (r *BountyRepository) WithTx(tx pgx.Tx) bounty.Repository {
	return &BountyRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// GetByID retrieves a bounty without locking it
func (r *BountyRepository) GetByID(ctx context.Context, id uuid.UUID) (*bounty.Bounty, error) {
	query := `SELECT ` + bountyColumns + `
		FROM bounties
		WHERE id = $1
	`
	b, err := scanBounty(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bounty.ErrBountyNotFound{BountyID: id}
		}
		r.logger.Error("Failed to get bounty", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get bounty: %w", err)
	}
	return b, nil
}

// LockForUpdate obtains a row lock on the bounty and returns its current state.
// Must be called on a repository bound to a transaction.
func (r *BountyRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*bounty.Bounty, error) {
	query := `SELECT ` + bountyColumns + `
		FROM bounties
		WHERE id = $1
		FOR UPDATE
	`
	b, err := scanBounty(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bounty.ErrBountyNotFound{BountyID: id}
		}
		r.logger.Error("Failed to lock bounty for update", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock bounty for update: %w", err)
	}
	return b, nil
}

// UpdateStatus moves the bounty to status if version is still current.
func (r *BountyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status bounty.Status, version int) error {
	query := `
		UPDATE bounties
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`

	result, err := r.querier.Exec(ctx, query, status, id, version)
	if err != nil {
		r.logger.Error("Failed to update bounty status", "id", id.String(), "status", status, "error", err)
		return fmt.Errorf("failed to update bounty status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return bounty.ErrConcurrentModification{BountyID: id}
	}

	return nil
}

// SetHunter records the payee of a bounty that had none assigned.
func (r *BountyRepository) SetHunter(ctx context.Context, id uuid.UUID, hunterID uuid.UUID) error {
	query := `
		UPDATE bounties
		SET hunter_id = $1, updated_at = NOW()
		WHERE id = $2 AND (hunter_id IS NULL OR hunter_id = $1)
	`

	result, err := r.querier.Exec(ctx, query, hunterID, id)
	if err != nil {
		r.logger.Error("Failed to set bounty hunter", "id", id.String(), "error", err)
		return fmt.Errorf("failed to set bounty hunter: %w", err)
	}

	if result.RowsAffected() == 0 {
		return bounty.ErrConcurrentModification{BountyID: id}
	}

	return nil
}

func scanBounty(row pgx.Row) (*bounty.Bounty, error) {
	var b bounty.Bounty
	err := row.Scan(
		&b.ID,
		&b.PosterID,
		&b.HunterID,
		&b.Title,
		&b.Amount,
		&b.IsForHonor,
		&b.Status,
		&b.PaymentIntentID,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
