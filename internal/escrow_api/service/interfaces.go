package service

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/bounty-escrow-ledger/internal/domain/wallet"
)

// WalletService defines the read side of the wallet ledger
type WalletService interface {
	// GetBalance returns the materialized balance, rebuilding it from the ledger
	// when no running total exists yet
	GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error)

	// ListTransactions returns one page of the user's ledger, newest first, and the total count
	ListTransactions(ctx context.Context, userID uuid.UUID, page, perPage int) ([]*wallet.Transaction, int64, error)
}

// PaymentService defines the interface for payment intent creation
type PaymentService interface {
	// CreateIntent asks the processor for an intent the client can confirm.
	// A repeated idempotency key returns the intent created the first time.
	// Returns ValidationError when the amount is outside the configured bounds
	CreateIntent(ctx context.Context, userID uuid.UUID, amount int64, currency, idempotencyKey string) (PaymentIntent, error)
}

// WebhookService defines the interface for processor notifications
type WebhookService interface {
	// Receive verifies the signature and records the event once, however many
	// times the processor delivers it
	Receive(ctx context.Context, headers http.Header, body []byte) error
}

type Balance struct {
	Amount   int64
	Currency string
}

type PaymentIntent struct {
	IntentID     string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
}
