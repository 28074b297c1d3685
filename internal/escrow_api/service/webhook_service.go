package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bounty-escrow-ledger/internal/domain/outbox"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/idempotency"
	"github.com/bounty-escrow-ledger/internal/platform/gateway"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

// Guard is the subset of the idempotency guard webhooks and intents need.
type Guard interface {
	Begin(ctx context.Context, key, operation, requestHash string) (idempotency.Outcome, error)
	Await(ctx context.Context, key string) (idempotency.Outcome, error)
	CompleteTx(ctx context.Context, tx pgx.Tx, key string, result any) error
	Fail(ctx context.Context, key string, cause error)
}

var _ Guard = (*idempotency.Guard)(nil)

// WebhookServiceImpl implements the WebhookService interface
type WebhookServiceImpl struct {
	processor gateway.Processor
	db        persistence.TxRunner
	outbox    outbox.Repository
	guard     Guard
	logger    *slog.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(processor gateway.Processor, db persistence.TxRunner, outboxRepo outbox.Repository, guard Guard, logger *slog.Logger) WebhookService {
	return &WebhookServiceImpl{
		processor: processor,
		db:        db,
		outbox:    outboxRepo,
		guard:     guard,
		logger:    logger,
	}
}

type webhookPayload struct {
	WebhookID  string `json:"webhookId"`
	Type       string `json:"eventType"`
	ResourceID string `json:"resourceId,omitempty"`
}

// Receive hands a verified notification to the outbox. Redeliveries of the
// same processor event id are acknowledged without a second event.
func (s *WebhookServiceImpl) Receive(ctx context.Context, headers http.Header, body []byte) error {
	event, err := s.processor.VerifyWebhook(ctx, headers, body)
	if err != nil {
		if errors.Is(err, gateway.ErrMissingSignature) || errors.Is(err, gateway.ErrInvalidSignature) {
			s.logger.Warn("Webhook signature rejected", "error", err)
			return shared.ValidationError{Field: "signature", Message: "Missing or invalid webhook signature"}
		}
		if errors.Is(err, gateway.ErrMalformedWebhook) {
			s.logger.Warn("Webhook payload rejected", "error", err)
			return shared.ValidationError{Field: "body", Message: "Malformed webhook payload"}
		}
		// The processor should redeliver once verification is reachable again.
		s.logger.Error("Webhook could not be verified", "error", err)
		return shared.GatewayTransientError{Operation: "verify_webhook", Reason: err.Error()}
	}

	logger := s.logger.With("webhook_id", event.ID, "event_type", event.Type)
	key := "webhook:" + event.ID

	hash, err := idempotency.RequestHash(webhookPayload{WebhookID: event.ID, Type: event.Type, ResourceID: event.ResourceID})
	if err != nil {
		return err
	}
	outcome, err := s.guard.Begin(ctx, key, shared.OperationWebhook, hash)
	if err != nil {
		return err
	}
	if outcome.Decision != idempotency.Proceed {
		logger.Info("Webhook already received", "decision", outcome.Decision.String())
		return nil
	}

	aggregate := uuid.NewSHA1(uuid.NameSpaceURL, []byte("webhook-resource:"+event.ResourceID))
	if event.ResourceID == "" {
		aggregate = uuid.NewSHA1(uuid.NameSpaceURL, []byte("webhook:"+event.ID))
	}

	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		ev, err := outbox.NewEvent(shared.EventWebhookReceived, aggregate, webhookPayload{
			WebhookID:  event.ID,
			Type:       event.Type,
			ResourceID: event.ResourceID,
		})
		if err != nil {
			return err
		}
		if err := s.outbox.WithTx(tx).Enqueue(ctx, ev); err != nil {
			return err
		}
		return s.guard.CompleteTx(ctx, tx, key, map[string]bool{"received": true})
	})
	if err != nil {
		logger.Error("Failed to record webhook", "error", err)
		s.guard.Fail(ctx, key, err)
		return err
	}

	logger.Info("Webhook recorded")
	return nil
}
