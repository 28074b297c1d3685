// Package idempotency implements the request guard that makes every money
// movement safe to retry: a key maps to at most one execution, and repeats of
// the same request replay the stored result.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/domain/idempotency"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
)

// Decision tells the caller what to do with a request.
type Decision int

const (
	// Proceed: this request owns the key and must execute.
	Proceed Decision = iota + 1
	// Replay: the same request already completed; return the stored result.
	Replay
	// Conflict: the key was used for a different request.
	Conflict
	// InFlight: the same request is executing elsewhere; Await its result.
	InFlight
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Replay:
		return "replay"
	case Conflict:
		return "conflict"
	case InFlight:
		return "in_flight"
	}
	return "unknown"
}

// Outcome is the result of Begin and Await.
type Outcome struct {
	Decision Decision
	Payload  json.RawMessage
}

// DecisionObserver receives every decision the guard takes.
type DecisionObserver interface {
	IdempotencyDecision(operation, decision string)
}

// maxSettleAttempts bounds the reserve/read loop when rows vanish between the two.
const maxSettleAttempts = 3

var errStillInFlight = errors.New("original request still in flight")

type Guard struct {
	repo         idempotency.Repository
	ttl          time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	observer     DecisionObserver
	logger       *slog.Logger
}

func NewGuard(repo idempotency.Repository, cfg *config.IdempotencyConfig, observer DecisionObserver, logger *slog.Logger) *Guard {
	return &Guard{
		repo:         repo,
		ttl:          cfg.TTL,
		waitTimeout:  cfg.WaitTimeout,
		pollInterval: 50 * time.Millisecond,
		observer:     observer,
		logger:       logger,
	}
}

// Begin reserves key for operation, or reports what an earlier request with
// the same key left behind.
func (g *Guard) Begin(ctx context.Context, key, operation, requestHash string) (Outcome, error) {
	rec := idempotency.NewInFlight(key, operation, requestHash, g.ttl)

	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		reserved, err := g.repo.Reserve(ctx, rec)
		if err != nil && !errors.Is(err, idempotency.ErrKeyContention{}) {
			return Outcome{}, err
		}
		if reserved {
			return g.decide(operation, Outcome{Decision: Proceed}), nil
		}

		existing, err := g.repo.Get(ctx, key)
		if errors.Is(err, idempotency.ErrRecordNotFound{}) {
			// Purged between the two statements.
			continue
		}
		if err != nil {
			return Outcome{}, err
		}

		out, err := g.classify(ctx, existing, operation, requestHash)
		if err != nil {
			return Outcome{}, err
		}
		return g.decide(operation, out), nil
	}

	return Outcome{}, fmt.Errorf("could not settle idempotency key %s after %d attempts", key, maxSettleAttempts)
}

func (g *Guard) classify(ctx context.Context, existing *idempotency.Record, operation, requestHash string) (Outcome, error) {
	if existing.Operation != operation {
		return Outcome{Decision: Conflict}, nil
	}

	// A failed attempt moved no money, so any request for the same
	// operation may take the key over. Completed and in-flight keys stay
	// bound to their original request.
	if existing.Status != idempotency.StatusFailed && !existing.Matches(operation, requestHash) {
		return Outcome{Decision: Conflict}, nil
	}

	switch existing.Status {
	case idempotency.StatusCompleted:
		return Outcome{Decision: Replay, Payload: existing.ResultPayload}, nil
	case idempotency.StatusFailed:
		reopened, err := g.repo.Retry(ctx, existing.Key, existing.RequestHash, requestHash, time.Now().UTC().Add(g.ttl))
		if err != nil {
			return Outcome{}, err
		}
		if reopened {
			g.logger.Info("Retrying previously failed request", "idempotency_key", existing.Key, "operation", operation)
			return Outcome{Decision: Proceed}, nil
		}
		// Another retry reopened it first.
		return Outcome{Decision: InFlight}, nil
	default:
		return Outcome{Decision: InFlight}, nil
	}
}

func (g *Guard) decide(operation string, out Outcome) Outcome {
	if g.observer != nil {
		g.observer.IdempotencyDecision(operation, out.Decision.String())
	}
	return out
}

// Await polls an in-flight key until the original request settles. It never
// executes anything itself. A completed original yields Replay; a failed one,
// or one that outlives the wait budget, yields a ConflictError.
func (g *Guard) Await(ctx context.Context, key string) (Outcome, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.pollInterval
	b.MaxInterval = time.Second
	b.MaxElapsedTime = g.waitTimeout

	var out Outcome
	poll := func() error {
		rec, err := g.repo.Get(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch rec.Status {
		case idempotency.StatusCompleted:
			out = Outcome{Decision: Replay, Payload: rec.ResultPayload}
			return nil
		case idempotency.StatusFailed:
			return backoff.Permanent(shared.ConflictError{
				Resource: "idempotency_key",
				ID:       key,
				Reason:   "the original request failed; retry it",
			})
		}
		return errStillInFlight
	}

	err := backoff.Retry(poll, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, errStillInFlight):
		return Outcome{}, shared.ConflictError{
			Resource: "idempotency_key",
			ID:       key,
			Reason:   "a request with this key is still in progress",
		}
	case errors.Is(err, idempotency.ErrRecordNotFound{}):
		return Outcome{}, shared.ConflictError{
			Resource: "idempotency_key",
			ID:       key,
			Reason:   "the original request is no longer tracked; retry it",
		}
	}
	return Outcome{}, err
}

// CompleteTx stores result under key inside tx, so the cached response commits
// or rolls back together with the ledger rows it describes.
func (g *Guard) CompleteTx(ctx context.Context, tx pgx.Tx, key string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode idempotent result: %w", err)
	}
	return g.repo.WithTx(tx).Complete(ctx, key, payload)
}

// Fail marks key failed. It runs even if ctx was cancelled, since a record left
// in flight would block retries until it expires.
func (g *Guard) Fail(ctx context.Context, key string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := g.repo.Fail(ctx, key, cause.Error()); err != nil {
		g.logger.Error("Failed to mark idempotency record failed", "idempotency_key", key, "error", err)
	}
}

// PurgeExpired deletes records past their retention window.
func (g *Guard) PurgeExpired(ctx context.Context) (int64, error) {
	return g.repo.PurgeExpired(ctx, time.Now().UTC())
}

// RequestHash fingerprints a normalized command. encoding/json emits struct
// fields in declaration order and map keys sorted, so equal commands hash equally.
func RequestHash(command any) (string, error) {
	raw, err := json.Marshal(command)
	if err != nil {
		return "", fmt.Errorf("failed to encode request for hashing: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// DeriveKey is the key used when the caller supplied none.
func DeriveKey(operation string, bountyID, callerID uuid.UUID) string {
	return operation + ":" + bountyID.String() + ":" + callerID.String()
}
