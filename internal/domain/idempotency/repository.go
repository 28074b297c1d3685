package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository persists idempotency records. Uniqueness of Key is enforced by storage.
type Repository interface {
	// Reserve inserts rec, or takes over an expired row with the same key.
	// It returns false without error when a live row already holds the key.
	Reserve(ctx context.Context, rec *Record) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)

	// Retry moves a failed record still holding previousHash back to
	// in-flight under requestHash. A failed attempt left no effects, so a
	// corrected request may take its key over.
	Retry(ctx context.Context, key, previousHash, requestHash string, expiresAt time.Time) (bool, error)
	Complete(ctx context.Context, key string, payload json.RawMessage) error
	Fail(ctx context.Context, key string, reason string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrRecordNotFound indicates a missing idempotency record
type ErrRecordNotFound struct {
	Key string
}

func (e ErrRecordNotFound) Error() string {
	return "idempotency record not found: " + e.Key
}

func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	return t.Key == "" || t.Key == e.Key
}

// ErrKeyContention is returned by Reserve when a concurrent insert won the
// unique-key race. The caller re-reads the record instead of executing.
type ErrKeyContention struct {
	Key string
}

func (e ErrKeyContention) Error() string {
	return "idempotency key contended: " + e.Key
}

func (e ErrKeyContention) Is(target error) bool {
	_, ok := target.(ErrKeyContention)
	return ok
}
