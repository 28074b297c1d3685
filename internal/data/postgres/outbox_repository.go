package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bounty-escrow-ledger/internal/domain/outbox"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// OutboxRepository implements the outbox.Repository interface for PostgreSQL
type OutboxRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewOutboxRepository creates a new PostgreSQL outbox repository
func NewOutboxRepository(logger *slog.Logger, db *persistence.PostgresDB) outbox.Repository {
	return &OutboxRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx binds the repository to tx so events commit with the state they describe.
func (r *OutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	return &OutboxRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, event *outbox.Event) error {
	query := `
		INSERT INTO outbox_events (event_id, event_type, aggregate_id, payload, created_at, attempt_count, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		event.EventID,
		event.EventType,
		event.AggregateID,
		[]byte(event.Payload),
		event.CreatedAt,
		event.AttemptCount,
		event.NextAttemptAt,
	).Scan(&event.ID)
	if err != nil {
		r.logger.Error("Failed to enqueue outbox event",
			"event_id", event.EventID.String(),
			"event_type", string(event.EventType),
			"error", err,
		)
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}

	return nil
}

// ClaimPending returns due events in id order. Rows stay locked until the
// surrounding transaction ends, so parallel dispatchers never publish the same row.
// An event is only claimed once every older event of its aggregate went out,
// which keeps per-bounty order on the stream.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*outbox.Event, error) {
	query := `
		SELECT e.id, e.event_id, e.event_type, e.aggregate_id, e.payload, e.created_at,
		       e.dispatched_at, e.attempt_count, e.next_attempt_at, e.last_error
		FROM outbox_events e
		WHERE e.dispatched_at IS NULL AND e.next_attempt_at <= NOW() AND e.attempt_count < $1
		  AND NOT EXISTS (
			SELECT 1 FROM outbox_events older
			WHERE older.aggregate_id = e.aggregate_id
			  AND older.dispatched_at IS NULL
			  AND older.id < e.id
		  )
		ORDER BY e.id ASC
		LIMIT $2
		FOR UPDATE OF e SKIP LOCKED
	`

	rows, err := r.querier.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		r.logger.Error("Failed to claim pending outbox events", "error", err)
		return nil, fmt.Errorf("failed to claim pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		var (
			event   outbox.Event
			payload []byte
		)
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.EventType,
			&event.AggregateID,
			&payload,
			&event.CreatedAt,
			&event.DispatchedAt,
			&event.AttemptCount,
			&event.NextAttemptAt,
			&event.LastError,
		)
		if err != nil {
			r.logger.Error("Failed to scan outbox event", "error", err)
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.Payload = payload
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over outbox events", "error", err)
		return nil, fmt.Errorf("error iterating over outbox events: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET dispatched_at = $1, last_error = ''
		WHERE id = $2 AND dispatched_at IS NULL
	`

	result, err := r.querier.Exec(ctx, query, at, id)
	if err != nil {
		r.logger.Error("Failed to mark outbox event dispatched", "id", id, "error", err)
		return fmt.Errorf("failed to mark outbox event dispatched: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrEventNotFound{ID: id}
	}

	return nil
}

func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, reason string, nextAttemptAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET attempt_count = attempt_count + 1, last_error = $1, next_attempt_at = $2
		WHERE id = $3
	`

	result, err := r.querier.Exec(ctx, query, reason, nextAttemptAt, id)
	if err != nil {
		r.logger.Error("Failed to record outbox delivery failure", "id", id, "error", err)
		return fmt.Errorf("failed to record outbox delivery failure: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrEventNotFound{ID: id}
	}

	return nil
}

func (r *OutboxRepository) CountExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM outbox_events
		WHERE dispatched_at IS NULL AND attempt_count >= $1
	`

	var count int64
	if err := r.querier.QueryRow(ctx, query, maxAttempts).Scan(&count); err != nil {
		r.logger.Error("Failed to count exhausted outbox events", "error", err)
		return 0, fmt.Errorf("failed to count exhausted outbox events: %w", err)
	}
	return count, nil
}
