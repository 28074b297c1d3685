package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/bounty-escrow-ledger/internal/config"
)

// PayPalProcessor maps the escrow contract onto PayPal orders with intent
// AUTHORIZE: an order is the payment intent, its authorization is the hold,
// capturing the authorization settles and voiding it refunds.
type PayPalProcessor struct {
	client    *paypal.Client
	webhookID string
	logger    *slog.Logger
}

func NewPayPalProcessor(cfg *config.GatewayConfig, logger *slog.Logger) (*PayPalProcessor, error) {
	base := cfg.APIBase
	if base == "" {
		base = paypal.APIBaseSandBox
	}

	client, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal client: %w", err)
	}
	client.Client = &http.Client{Timeout: cfg.RequestTimeout}

	return &PayPalProcessor{
		client:    client,
		webhookID: cfg.WebhookID,
		logger:    logger,
	}, nil
}

type ppMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type ppLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type ppAuthorization struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Amount ppMoney `json:"amount"`
}

type ppOrder struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Links         []ppLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Authorizations []ppAuthorization `json:"authorizations"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type ppCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func toPayPalMoney(amount int64, currency string) ppMoney {
	return ppMoney{CurrencyCode: currency, Value: decimal.New(amount, -2).StringFixed(2)}
}

// send performs an authenticated call. token becomes PayPal-Request-Id, which
// PayPal uses to deduplicate retried POSTs.
func (p *PayPalProcessor) send(ctx context.Context, method, path, token string, body, out any) error {
	req, err := p.client.NewRequest(ctx, method, p.client.APIBase+path, body)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("PayPal-Request-Id", token)
	}
	req.Header.Set("Prefer", "return=representation")
	return p.client.SendWithAuth(req, out)
}

// failure is satisfied by Declined and TransientFailure.
type failure interface {
	IntentResult
	HoldResult
	CaptureResult
	RefundResult
}

// classify turns a transport or API error into a tagged failure. 4xx answers
// are definitive; 429, 5xx and network errors are transient, and timeouts
// leave the outcome unknown.
func classify(err error) failure {
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		code := apiErr.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return TransientFailure{Reason: fmt.Sprintf("paypal %d %s", code, apiErr.Name)}
		}
		return Declined{Code: apiErr.Name, Message: apiErr.Message}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return TransientFailure{Reason: err.Error(), Unknown: true}
	}
	return TransientFailure{Reason: err.Error()}
}

func (p *PayPalProcessor) CreatePaymentIntent(ctx context.Context, req IntentRequest) IntentResult {
	body := map[string]any{
		"intent": "AUTHORIZE",
		"purchase_units": []map[string]any{{
			"custom_id": req.CustomerID,
			"amount":    toPayPalMoney(req.Amount, req.Currency),
		}},
	}

	var order ppOrder
	if err := p.send(ctx, http.MethodPost, "/v2/checkout/orders", req.IdempotencyToken, body, &order); err != nil {
		return classify(err)
	}

	secret := ""
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			secret = l.Href
		}
	}
	return IntentCreated{IntentID: order.ID, ClientSecret: secret}
}

func (p *PayPalProcessor) CreateHold(ctx context.Context, req HoldRequest) HoldResult {
	var order ppOrder
	path := "/v2/checkout/orders/" + req.IntentID + "/authorize"
	if err := p.send(ctx, http.MethodPost, path, req.IdempotencyToken, struct{}{}, &order); err != nil {
		return classify(err)
	}

	auth, ok := firstAuthorization(order)
	if !ok {
		return Declined{Code: "NO_AUTHORIZATION", Message: "order " + req.IntentID + " returned no authorization"}
	}
	if auth.Amount.Value != "" && auth.Amount.Value != toPayPalMoney(req.Amount, req.Currency).Value {
		p.logger.Warn("PayPal authorization amount differs from escrow amount",
			"intent_id", req.IntentID,
			"authorized", auth.Amount.Value,
			"expected", req.Amount,
		)
		return Declined{Code: "AMOUNT_MISMATCH", Message: "authorized amount " + auth.Amount.Value + " does not match escrow"}
	}
	return HoldCreated{HoldReference: auth.ID}
}

// CaptureOrTransfer captures the authorization into the platform merchant
// account. The payee is credited by the wallet ledger, so Destination is only logged.
func (p *PayPalProcessor) CaptureOrTransfer(ctx context.Context, req CaptureRequest) CaptureResult {
	body := map[string]any{
		"amount":        toPayPalMoney(req.Amount, req.Currency),
		"final_capture": true,
	}

	var capture ppCapture
	path := "/v2/payments/authorizations/" + req.HoldReference + "/capture"
	if err := p.send(ctx, http.MethodPost, path, req.IdempotencyToken, body, &capture); err != nil {
		return classify(err)
	}

	p.logger.Info("PayPal authorization captured",
		"hold_reference", req.HoldReference,
		"capture_id", capture.ID,
		"destination", req.Destination,
	)
	return Captured{Reference: capture.ID}
}

// Refund voids the authorization, releasing the hold on the payer's funds.
func (p *PayPalProcessor) Refund(ctx context.Context, req RefundRequest) RefundResult {
	path := "/v2/payments/authorizations/" + req.HoldReference + "/void"
	if err := p.send(ctx, http.MethodPost, path, req.IdempotencyToken, nil, nil); err != nil {
		return classify(err)
	}
	return Refunded{Reference: req.HoldReference}
}

func (p *PayPalProcessor) InspectIntent(ctx context.Context, intentID string) (HoldState, error) {
	var order ppOrder
	if err := p.send(ctx, http.MethodGet, "/v2/checkout/orders/"+intentID, "", nil, &order); err != nil {
		return HoldState{Status: HoldStatusNone}, fmt.Errorf("failed to get paypal order: %w", err)
	}

	if auth, ok := firstAuthorization(order); ok {
		return HoldState{Status: authorizationStatus(auth.Status), Reference: auth.ID}, nil
	}
	return HoldState{Status: HoldStatusPending}, nil
}

func (p *PayPalProcessor) InspectHold(ctx context.Context, holdReference string) (HoldState, error) {
	var auth ppAuthorization
	if err := p.send(ctx, http.MethodGet, "/v2/payments/authorizations/"+holdReference, "", nil, &auth); err != nil {
		return HoldState{Status: HoldStatusNone}, fmt.Errorf("failed to get paypal authorization: %w", err)
	}
	return HoldState{Status: authorizationStatus(auth.Status), Reference: auth.ID}, nil
}

func (p *PayPalProcessor) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (WebhookEvent, error) {
	transmissionID := headers.Get("PAYPAL-TRANSMISSION-ID")
	signature := headers.Get("PAYPAL-TRANSMISSION-SIG")
	if transmissionID == "" || signature == "" {
		return WebhookEvent{}, ErrMissingSignature
	}

	var raw struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if raw.ID == "" || raw.EventType == "" {
		return WebhookEvent{}, fmt.Errorf("%w: id or event_type is missing", ErrMalformedWebhook)
	}

	verifyBody := map[string]any{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   transmissionID,
		"transmission_sig":  signature,
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var verification struct {
		Status string `json:"verification_status"`
	}
	if err := p.send(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", verifyBody, &verification); err != nil {
		// PayPal answers 4xx for headers it cannot check against the event.
		if _, rejected := classify(err).(Declined); rejected {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return WebhookEvent{}, fmt.Errorf("failed to verify paypal webhook: %w", err)
	}
	if verification.Status != "SUCCESS" {
		return WebhookEvent{}, ErrInvalidSignature
	}

	return WebhookEvent{
		ID:         raw.ID,
		Type:       raw.EventType,
		ResourceID: raw.Resource.ID,
		Raw:        json.RawMessage(body),
	}, nil
}

func firstAuthorization(order ppOrder) (ppAuthorization, bool) {
	for _, unit := range order.PurchaseUnits {
		if len(unit.Payments.Authorizations) > 0 {
			return unit.Payments.Authorizations[0], true
		}
	}
	return ppAuthorization{}, false
}

func authorizationStatus(s string) HoldStatus {
	switch s {
	case "CREATED", "PENDING":
		return HoldStatusAuthorized
	case "CAPTURED", "PARTIALLY_CAPTURED":
		return HoldStatusCaptured
	case "VOIDED", "EXPIRED", "DENIED":
		return HoldStatusVoided
	}
	return HoldStatusPending
}

var _ Processor = (*PayPalProcessor)(nil)
