package outbox_dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/domain/outbox"
	"github.com/bounty-escrow-ledger/internal/platform/messaging/producers"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

// Recorder receives dispatch counters.
type Recorder interface {
	OutboxDispatched(n int)
	OutboxFailed()
	SetOutboxExhausted(n int64)
}

// Poller moves committed outbox events onto the event stream.
type Poller struct {
	db          persistence.TxRunner
	outboxRepo  outbox.Repository
	publisher   producers.EventPublisher
	metrics     Recorder
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	now         func() time.Time
}

func NewPoller(
	cfg *config.OutboxConfig,
	db persistence.TxRunner,
	outboxRepo outbox.Repository,
	publisher producers.EventPublisher,
	metrics Recorder,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		db:          db,
		outboxRepo:  outboxRepo,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		interval:    cfg.PollingInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxRetryAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.RetryMaxDelay,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start polls until ctx is canceled.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting outbox dispatcher",
		"poll_interval", p.interval.String(),
		"batch_size", p.batchSize,
		"max_attempts", p.maxAttempts,
	)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox dispatcher stopping")
			return
		case <-ticker.C:
			if _, err := p.dispatchPending(ctx); err != nil {
				p.logger.Error("Outbox dispatch round failed", "error", err)
			}
			p.refreshExhausted(ctx)
		}
	}
}

// dispatchPending claims one batch and publishes it. Claimed rows stay locked
// until the transaction ends, so concurrent dispatchers skip them.
func (p *Poller) dispatchPending(ctx context.Context) (int, error) {
	dispatched := 0
	err := p.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := p.outboxRepo.WithTx(tx)

		events, err := repo.ClaimPending(ctx, p.batchSize, p.maxAttempts)
		if err != nil {
			return fmt.Errorf("failed to claim pending outbox events: %w", err)
		}
		if len(events) == 0 {
			p.logger.Debug("No pending outbox events")
			return nil
		}
		p.logger.Info("Claimed pending outbox events", "count", len(events))

		// Once an aggregate's event fails, its later events wait for the retry.
		blocked := make(map[uuid.UUID]bool)
		for _, event := range events {
			if blocked[event.AggregateID] {
				p.logger.Debug("Holding back event behind a failed one of the same aggregate",
					"outbox_id", event.ID, "aggregate_id", event.AggregateID.String())
				continue
			}
			ok, err := p.dispatch(ctx, repo, event)
			if err != nil {
				return err
			}
			if ok {
				dispatched++
			} else {
				blocked[event.AggregateID] = true
			}
		}
		return nil
	})
	if dispatched > 0 {
		p.metrics.OutboxDispatched(dispatched)
	}
	return dispatched, err
}

// dispatch reports whether the event went out. A returned error means the
// outcome could not be recorded and the whole batch rolls back.
func (p *Poller) dispatch(ctx context.Context, repo outbox.Repository, event *outbox.Event) (bool, error) {
	logger := p.logger.With(
		"outbox_id", event.ID,
		"event_id", event.EventID.String(),
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID.String(),
	)

	value, err := json.Marshal(event.Envelope())
	if err == nil {
		err = p.publisher.Publish(ctx, event.AggregateID.String(), value, map[string]string{
			"event_id":   event.EventID.String(),
			"event_type": string(event.EventType),
		})
	}

	if err != nil {
		next := p.now().Add(p.retryDelay(event.AttemptCount))
		logger.Warn("Failed to publish outbox event",
			"attempt", event.AttemptCount+1, "next_attempt_at", next, "error", err)
		p.metrics.OutboxFailed()

		if err := repo.RecordFailure(ctx, event.ID, err.Error(), next); err != nil {
			logger.Error("Failed to record outbox delivery failure", "error", err)
			return false, fmt.Errorf("failed to record failure of outbox event %d: %w", event.ID, err)
		}
		if event.AttemptCount+1 >= p.maxAttempts {
			logger.Error("Outbox event exhausted its delivery attempts, leaving it for inspection",
				"attempts", event.AttemptCount+1)
		}
		return false, nil
	}

	if err := repo.MarkDispatched(ctx, event.ID, p.now()); err != nil {
		logger.Error("Event published but marking it dispatched failed", "error", err)
		return false, fmt.Errorf("failed to mark outbox event %d dispatched: %w", event.ID, err)
	}
	logger.Debug("Outbox event dispatched")
	return true, nil
}

// retryDelay doubles from the base delay per failed attempt, capped at the max.
func (p *Poller) retryDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempts && delay < p.maxDelay; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (p *Poller) refreshExhausted(ctx context.Context) {
	n, err := p.outboxRepo.CountExhausted(ctx, p.maxAttempts)
	if err != nil {
		p.logger.Warn("Failed to count exhausted outbox events", "error", err)
		return
	}
	if n > 0 {
		p.logger.Warn("Outbox events awaiting inspection", "count", n)
	}
	p.metrics.SetOutboxExhausted(n)
}
