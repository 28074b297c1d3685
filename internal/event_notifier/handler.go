package event_notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bounty-escrow-ledger/internal/domain/escrow"
	"github.com/bounty-escrow-ledger/internal/domain/notification"
	"github.com/bounty-escrow-ledger/internal/domain/outbox"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/platform/messaging/consumers"
	"github.com/bounty-escrow-ledger/internal/platform/messaging/producers"
)

const (
	resultProcessed    = "processed"
	resultIgnored      = "ignored"
	resultDeadLettered = "dead_lettered"
	resultFailed       = "failed"
)

type Broadcaster interface {
	Broadcast(ctx context.Context, bountyID uuid.UUID, msg StatusMessage) error
}

type Inbox interface {
	Deliver(ctx context.Context, notes []*notification.Notification) error
}

type Runner interface {
	Run(ctx context.Context, tasks ...Task) error
}

type Recorder interface {
	NotifierEvent(eventType, result string)
}

// EventHandler turns escrow events into realtime broadcasts and inbox entries.
type EventHandler struct {
	pool        Runner
	broadcaster Broadcaster
	inbox       Inbox
	dlq         producers.DeadLetterPublisher
	metrics     Recorder
	logger      *slog.Logger
}

func NewEventHandler(
	logger *slog.Logger,
	pool Runner,
	broadcaster Broadcaster,
	inbox Inbox,
	dlq producers.DeadLetterPublisher,
	metrics Recorder,
) *EventHandler {
	return &EventHandler{
		pool:        pool,
		broadcaster: broadcaster,
		inbox:       inbox,
		dlq:         dlq,
		metrics:     metrics,
		logger:      logger,
	}
}

// HandleMessage returns an error only for failures worth retrying; the
// consumer then keeps the offset uncommitted.
func (h *EventHandler) HandleMessage(ctx context.Context, msg consumers.Message) error {
	var env outbox.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || env.EventID == uuid.Nil {
		if err == nil {
			err = errors.New("envelope has no event id")
		}
		return h.deadLetter(ctx, msg, "unknown", fmt.Sprintf("undecodable envelope: %s", err))
	}

	logger := h.logger.With(
		"event_id", env.EventID.String(),
		"event_type", env.EventType,
		"bounty_id", env.AggregateID.String(),
	)

	switch env.EventType {
	case shared.EventEscrowCreated, shared.EventEscrowReleased, shared.EventEscrowRefunded, shared.EventHonorTransitioned:
	default:
		logger.Debug("Event needs no notification")
		h.metrics.NotifierEvent(string(env.EventType), resultIgnored)
		return nil
	}

	var payload escrow.EventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.BountyID == uuid.Nil {
		if err == nil {
			err = errors.New("payload has no bounty id")
		}
		return h.deadLetter(ctx, msg, string(env.EventType), fmt.Sprintf("undecodable %s payload: %s", env.EventType, err))
	}

	status := StatusMessage{
		EventID:      env.EventID.String(),
		EventType:    env.EventType,
		BountyID:     payload.BountyID.String(),
		EscrowState:  string(payload.State),
		BountyStatus: payload.BountyStatus,
		Amount:       payload.Amount,
		Currency:     payload.Currency,
		OccurredAt:   env.OccurredAt,
	}
	notes := notification.Compose(env.EventID, env.EventType, payload, time.Now().UTC())

	err := h.pool.Run(ctx,
		func(ctx context.Context) error { return h.broadcaster.Broadcast(ctx, payload.BountyID, status) },
		func(ctx context.Context) error { return h.inbox.Deliver(ctx, notes) },
	)
	if err != nil {
		logger.Error("Failed to notify about escrow event", "error", err)
		h.metrics.NotifierEvent(string(env.EventType), resultFailed)
		return fmt.Errorf("notifying event %s failed: %w", env.EventID, err)
	}

	logger.Info("Escrow event delivered", "recipients", len(notes))
	h.metrics.NotifierEvent(string(env.EventType), resultProcessed)
	return nil
}

func (h *EventHandler) deadLetter(ctx context.Context, msg consumers.Message, eventType, reason string) error {
	h.logger.Error("Unprocessable event", "message_key", string(msg.Key), "offset", msg.Offset, "reason", reason)

	if err := h.dlq.PublishToDLQ(ctx, string(msg.Key), msg.Value, reason); err != nil {
		if errors.Is(err, producers.ErrDLQDisabled) {
			h.logger.Warn("DLQ disabled, dropping unprocessable event", "message_key", string(msg.Key))
			h.metrics.NotifierEvent(eventType, resultDeadLettered)
			return nil
		}
		h.logger.Error("Failed to publish unprocessable event to DLQ", "error", err)
		return fmt.Errorf("dead-lettering message %s failed: %w", string(msg.Key), err)
	}

	h.metrics.NotifierEvent(eventType, resultDeadLettered)
	return nil
}
