// Package gateway talks to the external payment processor. Every call returns a
// tagged result instead of an error so callers must handle the decline and the
// transient case explicitly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// Processor is the contract of a payment processor.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) IntentResult
	CreateHold(ctx context.Context, req HoldRequest) HoldResult
	CaptureOrTransfer(ctx context.Context, req CaptureRequest) CaptureResult
	Refund(ctx context.Context, req RefundRequest) RefundResult
	InspectIntent(ctx context.Context, intentID string) (HoldState, error)
	InspectHold(ctx context.Context, holdReference string) (HoldState, error)
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (WebhookEvent, error)
}

type IntentRequest struct {
	Amount           int64
	Currency         string
	CustomerID       string
	IdempotencyToken string
}

type HoldRequest struct {
	IntentID         string
	Amount           int64
	Currency         string
	IdempotencyToken string
}

// CaptureRequest moves held funds. Destination is an opaque payee reference.
type CaptureRequest struct {
	HoldReference    string
	Destination      string
	Amount           int64
	Currency         string
	IdempotencyToken string
}

type RefundRequest struct {
	HoldReference    string
	Amount           int64
	Currency         string
	Reason           string
	IdempotencyToken string
}

// IntentResult is IntentCreated, Declined or TransientFailure.
type IntentResult interface{ intentResult() }

// HoldResult is HoldCreated, Declined or TransientFailure.
type HoldResult interface{ holdResult() }

// CaptureResult is Captured, Declined or TransientFailure.
type CaptureResult interface{ captureResult() }

// RefundResult is Refunded, Declined or TransientFailure.
type RefundResult interface{ refundResult() }

type IntentCreated struct {
	IntentID     string
	ClientSecret string
}

type HoldCreated struct {
	HoldReference string
}

type Captured struct {
	Reference string
}

type Refunded struct {
	Reference string
}

// Declined is a definitive answer from the processor. Retrying will not help.
type Declined struct {
	Code    string
	Message string
}

// TransientFailure means the call may succeed if retried. Unknown is set when
// the outcome could not be observed (timeout), so the operation may have taken effect.
type TransientFailure struct {
	Reason  string
	Unknown bool
}

func (IntentCreated) intentResult() {}
func (HoldCreated) holdResult() {}
func (Captured) captureResult() {}
func (Refunded) refundResult() {}
func (Declined) intentResult() {}
func (Declined) holdResult() {}
func (Declined) captureResult() {}
func (Declined) refundResult() {}
func (TransientFailure) intentResult() {}
func (TransientFailure) holdResult() {}
func (TransientFailure) captureResult() {}
func (TransientFailure) refundResult() {}

// HoldStatus is the processor-side state of an intent or hold.
type HoldStatus string

const (
	HoldStatusNone       HoldStatus = "none"
	HoldStatusPending    HoldStatus = "pending"
	HoldStatusAuthorized HoldStatus = "authorized"
	HoldStatusCaptured   HoldStatus = "captured"
	HoldStatusVoided     HoldStatus = "voided"
)

// HoldState is what InspectIntent and InspectHold report.
type HoldState struct {
	Status    HoldStatus
	Reference string
}

// WebhookEvent is a verified notification from the processor.
type WebhookEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"event_type"`
	ResourceID string          `json:"resource_id"`
	Raw        json.RawMessage `json:"-"`
}

var (
	ErrMissingSignature = errors.New("webhook signature headers are missing")
	ErrInvalidSignature = errors.New("webhook signature is invalid")
	ErrMalformedWebhook = errors.New("webhook body is malformed")
	ErrUnknownIntent    = errors.New("payment intent not found")
)

var tokenNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("bounty-escrow-ledger/gateway"))

// Token derives the processor idempotency token for an operation on a bounty.
// It is stable across retries and independent of the client-supplied key.
func Token(operation string, bountyID uuid.UUID) string {
	return uuid.NewSHA1(tokenNamespace, []byte(operation+":"+bountyID.String())).String()
}
