package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository manages transactional outbox persistence
type Repository interface {
	// Enqueue must run on a repository bound to the transaction of the state change.
	Enqueue(ctx context.Context, event *Event) error

	// ClaimPending locks up to limit due, undispatched events in creation order,
	// skipping rows another dispatcher already holds. Call it inside a transaction.
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*Event, error)
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
	RecordFailure(ctx context.Context, id int64, reason string, nextAttemptAt time.Time) error

	// CountExhausted returns how many events gave up and wait for inspection.
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrEventNotFound indicates missing outbox event
type ErrEventNotFound struct {
	ID int64
}

func (e ErrEventNotFound) Error() string {
	return "outbox event not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrEventNotFound) Is(target error) bool {
	t, ok := target.(ErrEventNotFound)
	if !ok {
		return false
	}
	return t.ID == 0 || t.ID == e.ID
}
