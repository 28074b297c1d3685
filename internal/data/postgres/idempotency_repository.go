package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bounty-escrow-ledger/internal/domain/idempotency"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// IdempotencyRepository implements idempotency.Repository. The primary key on
// idempotency_keys.key is what serializes concurrent first requests.
type IdempotencyRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewIdempotencyRepository(logger *slog.Logger, db *persistence.PostgresDB) idempotency.Repository {
	return &IdempotencyRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *IdempotencyRepository) WithTx(tx pgx.Tx) idempotency.Repository {
	return &IdempotencyRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Reserve claims the key. An expired row is overwritten in the same statement;
// a live row makes the upsert a no-op and Reserve returns false.
func (r *IdempotencyRepository) Reserve(ctx context.Context, rec *idempotency.Record) (bool, error) {
	query := `
		INSERT INTO idempotency_keys (key, operation, request_hash, status, result_payload, error_message, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, NULL, '', $5, $5, $6)
		ON CONFLICT (key) DO UPDATE
		SET operation = EXCLUDED.operation,
			request_hash = EXCLUDED.request_hash,
			status = EXCLUDED.status,
			result_payload = NULL,
			error_message = '',
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= NOW()
	`

	result, err := r.querier.Exec(ctx, query, rec.Key, rec.Operation, rec.RequestHash, rec.Status, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		if _, ok := persistence.UniqueViolation(err); ok {
			return false, idempotency.ErrKeyContention{Key: rec.Key}
		}
		r.logger.Error("Failed to reserve idempotency key", "key", rec.Key, "error", err)
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	query := `
		SELECT key, operation, request_hash, status, result_payload, error_message, created_at, updated_at, expires_at
		FROM idempotency_keys
		WHERE key = $1
	`

	var (
		rec     idempotency.Record
		payload []byte
	)
	err := r.querier.QueryRow(ctx, query, key).Scan(
		&rec.Key,
		&rec.Operation,
		&rec.RequestHash,
		&rec.Status,
		&payload,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrRecordNotFound{Key: key}
		}
		r.logger.Error("Failed to get idempotency record", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	if len(payload) > 0 {
		rec.ResultPayload = json.RawMessage(payload)
	}

	return &rec, nil
}

// Retry reopens a failed record for a resubmission under the same key. The
// previous hash is part of the predicate so only one resubmission wins.
func (r *IdempotencyRepository) Retry(ctx context.Context, key, previousHash, requestHash string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE idempotency_keys
		SET status = $1, request_hash = $2, error_message = '', updated_at = NOW(), expires_at = $3
		WHERE key = $4 AND request_hash = $5 AND status = $6
	`

	result, err := r.querier.Exec(ctx, query, idempotency.StatusInFlight, requestHash, expiresAt, key, previousHash, idempotency.StatusFailed)
	if err != nil {
		r.logger.Error("Failed to reopen idempotency record", "key", key, "error", err)
		return false, fmt.Errorf("failed to reopen idempotency record: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Complete stores the result. Bound to the transaction of the operation, it
// commits or rolls back together with the operation's writes.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, payload json.RawMessage) error {
	query := `
		UPDATE idempotency_keys
		SET status = $1, result_payload = $2, updated_at = NOW()
		WHERE key = $3 AND status = $4
	`

	result, err := r.querier.Exec(ctx, query, idempotency.StatusCompleted, []byte(payload), key, idempotency.StatusInFlight)
	if err != nil {
		r.logger.Error("Failed to complete idempotency record", "key", key, "error", err)
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("idempotency record %s is not in flight: %w", key, idempotency.ErrRecordNotFound{Key: key})
	}
	return nil
}

func (r *IdempotencyRepository) Fail(ctx context.Context, key string, reason string) error {
	query := `
		UPDATE idempotency_keys
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE key = $3 AND status = $4
	`

	result, err := r.querier.Exec(ctx, query, idempotency.StatusFailed, reason, key, idempotency.StatusInFlight)
	if err != nil {
		r.logger.Error("Failed to mark idempotency record failed", "key", key, "error", err)
		return fmt.Errorf("failed to mark idempotency record failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		r.logger.Warn("Idempotency record was not in flight when failing", "key", key)
	}
	return nil
}

// PurgeExpired deletes records whose retention window has passed.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM idempotency_keys WHERE expires_at <= $1`

	result, err := r.querier.Exec(ctx, query, now)
	if err != nil {
		r.logger.Error("Failed to purge idempotency records", "error", err)
		return 0, fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	return result.RowsAffected(), nil
}
