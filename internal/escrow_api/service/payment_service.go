package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bounty-escrow-ledger/internal/config"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/bounty-escrow-ledger/internal/idempotency"
	"github.com/bounty-escrow-ledger/internal/platform/gateway"
	"github.com/bounty-escrow-ledger/internal/platform/persistence"
)

// PaymentServiceImpl implements the PaymentService interface
type PaymentServiceImpl struct {
	processor gateway.Processor
	db        persistence.TxRunner
	guard     Guard
	currency  string
	minAmount int64
	maxAmount int64
	logger    *slog.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(processor gateway.Processor, db persistence.TxRunner, guard Guard, cfg *config.EscrowConfig, logger *slog.Logger) PaymentService {
	return &PaymentServiceImpl{
		processor: processor,
		db:        db,
		guard:     guard,
		currency:  strings.ToUpper(cfg.Currency),
		minAmount: cfg.MinIntentAmount,
		maxAmount: cfg.MaxIntentAmount,
		logger:    logger,
	}
}

type intentRequest struct {
	UserID   string `json:"userId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateIntent validates the amount against the configured bounds before
// contacting the processor. With an idempotency key the processor token is
// derived from it, so a resubmission never opens a second intent.
func (s *PaymentServiceImpl) CreateIntent(ctx context.Context, userID uuid.UUID, amount int64, currency, idempotencyKey string) (PaymentIntent, error) {
	if userID == uuid.Nil {
		return PaymentIntent{}, shared.UnauthenticatedError{Reason: "caller is unknown"}
	}
	if amount < s.minAmount {
		return PaymentIntent{}, shared.ValidationError{Field: "amount", Message: "Amount must be at least $" + dollars(s.minAmount)}
	}
	if s.maxAmount > 0 && amount > s.maxAmount {
		return PaymentIntent{}, shared.ValidationError{Field: "amount", Message: "Amount cannot exceed $" + dollars(s.maxAmount)}
	}
	if currency != "" && !strings.EqualFold(currency, s.currency) {
		return PaymentIntent{}, shared.ValidationError{Field: "currency", Message: "Unsupported currency " + currency}
	}

	logger := s.logger.With("user_id", userID.String(), "amount", amount)

	// Intents are not tied to a bounty, so there is nothing to derive a key
	// from. Keyless requests get a fresh token per call.
	if idempotencyKey == "" {
		return s.createIntent(ctx, logger, userID, amount, uuid.NewString())
	}

	// Keys are scoped per caller.
	key := shared.OperationCreateIntent + ":" + userID.String() + ":" + idempotencyKey
	logger = logger.With("idempotency_key", key)

	hash, err := idempotency.RequestHash(intentRequest{UserID: userID.String(), Amount: amount, Currency: s.currency})
	if err != nil {
		return PaymentIntent{}, err
	}
	outcome, err := s.guard.Begin(ctx, key, shared.OperationCreateIntent, hash)
	if err != nil {
		logger.Error("Idempotency check failed", "error", err)
		return PaymentIntent{}, fmt.Errorf("idempotency check failed: %w", err)
	}

	switch outcome.Decision {
	case idempotency.Replay:
		logger.Info("Replaying stored payment intent")
		return decodeIntent(outcome.Payload)
	case idempotency.Conflict:
		return PaymentIntent{}, shared.ConflictError{Resource: "idempotency_key", ID: idempotencyKey, Reason: "key was already used for a different request"}
	case idempotency.InFlight:
		logger.Info("Payment intent already in flight, waiting for it")
		awaited, err := s.guard.Await(ctx, key)
		if err != nil {
			return PaymentIntent{}, err
		}
		return decodeIntent(awaited.Payload)
	}

	token := uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
	intent, err := s.createIntent(ctx, logger, userID, amount, token)
	if err != nil {
		s.guard.Fail(ctx, key, err)
		return PaymentIntent{}, err
	}

	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		return s.guard.CompleteTx(ctx, tx, key, intent)
	})
	if err != nil {
		// The processor deduplicates on the token, so a retry gets the same intent back.
		logger.Error("Failed to store payment intent result", "payment_intent_id", intent.IntentID, "error", err)
		s.guard.Fail(ctx, key, err)
		return PaymentIntent{}, err
	}
	return intent, nil
}

func (s *PaymentServiceImpl) createIntent(ctx context.Context, logger *slog.Logger, userID uuid.UUID, amount int64, token string) (PaymentIntent, error) {
	result := s.processor.CreatePaymentIntent(ctx, gateway.IntentRequest{
		Amount:           amount,
		Currency:         s.currency,
		CustomerID:       userID.String(),
		IdempotencyToken: token,
	})

	switch r := result.(type) {
	case gateway.IntentCreated:
		logger.Info("Payment intent created", "payment_intent_id", r.IntentID)
		return PaymentIntent{IntentID: r.IntentID, ClientSecret: r.ClientSecret}, nil
	case gateway.Declined:
		logger.Warn("Payment intent declined", "code", r.Code, "message", r.Message)
		return PaymentIntent{}, shared.GatewayDefinitiveError{Operation: "create_payment_intent", Code: r.Code, Message: r.Message}
	case gateway.TransientFailure:
		logger.Error("Payment intent creation failed", "reason", r.Reason)
		return PaymentIntent{}, shared.GatewayTransientError{Operation: "create_payment_intent", Reason: r.Reason}
	}
	return PaymentIntent{}, shared.GatewayTransientError{Operation: "create_payment_intent", Reason: "unexpected processor result"}
}

func decodeIntent(payload json.RawMessage) (PaymentIntent, error) {
	var intent PaymentIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return PaymentIntent{}, fmt.Errorf("failed to decode stored payment intent: %w", err)
	}
	return intent, nil
}

func dollars(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
