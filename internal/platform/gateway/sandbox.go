package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SandboxSignatureHeader carries the hex HMAC-SHA256 of a sandbox webhook body.
const SandboxSignatureHeader = "X-Sandbox-Signature"

// Outcome forces the result of the next sandbox call for an operation.
type Outcome int

const (
	OutcomeDecline Outcome = iota + 1
	// OutcomeTransient fails without applying the operation.
	OutcomeTransient
	// OutcomeLostResponse applies the operation but reports an Unknown failure.
	OutcomeLostResponse
)

const (
	OpCreateIntent = "create_payment_intent"
	OpCreateHold   = "create_hold"
	OpCapture      = "capture"
	OpRefund       = "refund"
)

type sandboxIntent struct {
	amount int64
	hold   string
	status HoldStatus
}

type sandboxHold struct {
	amount  int64
	status  HoldStatus
	capture string
}

// SandboxProcessor is a deterministic in-process processor used for local runs
// and tests. Tokens are honoured: repeating a call with the same token returns
// the original result.
type SandboxProcessor struct {
	mu      sync.Mutex
	secret  []byte
	seq     int
	intents map[string]*sandboxIntent
	holds   map[string]*sandboxHold
	tokens  map[string]any
	script  map[string][]Outcome
	calls   map[string]int
}

func NewSandboxProcessor(webhookSecret string) *SandboxProcessor {
	return &SandboxProcessor{
		secret:  []byte(webhookSecret),
		intents: make(map[string]*sandboxIntent),
		holds:   make(map[string]*sandboxHold),
		tokens:  make(map[string]any),
		script:  make(map[string][]Outcome),
		calls:   make(map[string]int),
	}
}

// Script queues forced outcomes for the next calls of operation.
func (s *SandboxProcessor) Script(operation string, outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[operation] = append(s.script[operation], outcomes...)
}

// Calls reports how many times operation reached the sandbox.
func (s *SandboxProcessor) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

// AuthorizeIntent marks an intent approved and authorized, as the payer would
// through the processor's checkout page.
func (s *SandboxProcessor) AuthorizeIntent(intentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return "", ErrUnknownIntent
	}
	if in.hold == "" {
		in.hold = s.nextID("HOLD")
		s.holds[in.hold] = &sandboxHold{amount: in.amount, status: HoldStatusAuthorized}
	}
	in.status = HoldStatusAuthorized
	return in.hold, nil
}

func (s *SandboxProcessor) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%06d", prefix, s.seq)
}

// begin records the call and pops the scripted outcome, if any.
func (s *SandboxProcessor) begin(operation string) (Outcome, bool) {
	s.calls[operation]++
	queue := s.script[operation]
	if len(queue) == 0 {
		return 0, false
	}
	s.script[operation] = queue[1:]
	return queue[0], true
}

func (s *SandboxProcessor) CreatePaymentIntent(_ context.Context, req IntentRequest) IntentResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, scripted := s.begin(OpCreateIntent)
	if prev, ok := s.tokens[req.IdempotencyToken].(IntentCreated); ok && req.IdempotencyToken != "" {
		return prev
	}
	switch {
	case scripted && outcome == OutcomeDecline:
		return Declined{Code: "INSTRUMENT_DECLINED", Message: "sandbox decline"}
	case scripted && outcome == OutcomeTransient:
		return TransientFailure{Reason: "sandbox unavailable"}
	}

	id := s.nextID("PI")
	s.intents[id] = &sandboxIntent{amount: req.Amount, status: HoldStatusPending}
	result := IntentCreated{IntentID: id, ClientSecret: id + "_secret"}
	if req.IdempotencyToken != "" {
		s.tokens[req.IdempotencyToken] = result
	}
	if scripted && outcome == OutcomeLostResponse {
		return TransientFailure{Reason: "sandbox timeout", Unknown: true}
	}
	return result
}

func (s *SandboxProcessor) CreateHold(_ context.Context, req HoldRequest) HoldResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, scripted := s.begin(OpCreateHold)
	if prev, ok := s.tokens[req.IdempotencyToken].(HoldCreated); ok {
		return prev
	}
	switch {
	case scripted && outcome == OutcomeDecline:
		return Declined{Code: "INSTRUMENT_DECLINED", Message: "sandbox decline"}
	case scripted && outcome == OutcomeTransient:
		return TransientFailure{Reason: "sandbox unavailable"}
	}

	in, ok := s.intents[req.IntentID]
	if !ok {
		return Declined{Code: "RESOURCE_NOT_FOUND", Message: "unknown payment intent " + req.IntentID}
	}
	if in.amount != req.Amount {
		return Declined{Code: "AMOUNT_MISMATCH", Message: fmt.Sprintf("intent amount %d does not match %d", in.amount, req.Amount)}
	}
	if in.hold == "" {
		in.hold = s.nextID("HOLD")
		s.holds[in.hold] = &sandboxHold{amount: in.amount, status: HoldStatusAuthorized}
	}
	in.status = HoldStatusAuthorized

	result := HoldCreated{HoldReference: in.hold}
	s.tokens[req.IdempotencyToken] = result
	if scripted && outcome == OutcomeLostResponse {
		return TransientFailure{Reason: "sandbox timeout", Unknown: true}
	}
	return result
}

func (s *SandboxProcessor) CaptureOrTransfer(_ context.Context, req CaptureRequest) CaptureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, scripted := s.begin(OpCapture)
	if prev, ok := s.tokens[req.IdempotencyToken].(Captured); ok {
		return prev
	}
	switch {
	case scripted && outcome == OutcomeDecline:
		return Declined{Code: "PAYEE_ACCOUNT_RESTRICTED", Message: "sandbox decline"}
	case scripted && outcome == OutcomeTransient:
		return TransientFailure{Reason: "sandbox unavailable"}
	}

	h, ok := s.holds[req.HoldReference]
	if !ok {
		return Declined{Code: "RESOURCE_NOT_FOUND", Message: "unknown hold " + req.HoldReference}
	}
	switch h.status {
	case HoldStatusAuthorized:
		h.status = HoldStatusCaptured
		h.capture = s.nextID("CAP")
	case HoldStatusCaptured:
	default:
		return Declined{Code: "AUTHORIZATION_VOIDED", Message: "hold is " + string(h.status)}
	}

	result := Captured{Reference: h.capture}
	s.tokens[req.IdempotencyToken] = result
	if scripted && outcome == OutcomeLostResponse {
		return TransientFailure{Reason: "sandbox timeout", Unknown: true}
	}
	return result
}

func (s *SandboxProcessor) Refund(_ context.Context, req RefundRequest) RefundResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, scripted := s.begin(OpRefund)
	if prev, ok := s.tokens[req.IdempotencyToken].(Refunded); ok {
		return prev
	}
	switch {
	case scripted && outcome == OutcomeDecline:
		return Declined{Code: "REFUND_NOT_ALLOWED", Message: "sandbox decline"}
	case scripted && outcome == OutcomeTransient:
		return TransientFailure{Reason: "sandbox unavailable"}
	}

	h, ok := s.holds[req.HoldReference]
	if !ok {
		return Declined{Code: "RESOURCE_NOT_FOUND", Message: "unknown hold " + req.HoldReference}
	}
	switch h.status {
	case HoldStatusAuthorized:
		h.status = HoldStatusVoided
	case HoldStatusVoided:
	default:
		return Declined{Code: "AUTHORIZATION_ALREADY_CAPTURED", Message: "hold is " + string(h.status)}
	}

	result := Refunded{Reference: req.HoldReference}
	s.tokens[req.IdempotencyToken] = result
	if scripted && outcome == OutcomeLostResponse {
		return TransientFailure{Reason: "sandbox timeout", Unknown: true}
	}
	return result
}

func (s *SandboxProcessor) InspectIntent(_ context.Context, intentID string) (HoldState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return HoldState{Status: HoldStatusNone}, ErrUnknownIntent
	}
	return HoldState{Status: in.status, Reference: in.hold}, nil
}

func (s *SandboxProcessor) InspectHold(_ context.Context, holdReference string) (HoldState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdReference]
	if !ok {
		return HoldState{Status: HoldStatusNone}, fmt.Errorf("hold %s not found", holdReference)
	}
	ref := holdReference
	if h.status == HoldStatusCaptured {
		ref = h.capture
	}
	return HoldState{Status: h.status, Reference: ref}, nil
}

// Sign computes the signature header value for body.
func (s *SandboxProcessor) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *SandboxProcessor) VerifyWebhook(_ context.Context, headers http.Header, body []byte) (WebhookEvent, error) {
	sig := headers.Get(SandboxSignatureHeader)
	if sig == "" {
		return WebhookEvent{}, ErrMissingSignature
	}
	if !hmac.Equal([]byte(sig), []byte(s.Sign(body))) {
		return WebhookEvent{}, ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if event.ID == "" || event.Type == "" {
		return WebhookEvent{}, fmt.Errorf("%w: id or event_type is missing", ErrMalformedWebhook)
	}
	event.Raw = json.RawMessage(body)
	return event, nil
}

var _ Processor = (*SandboxProcessor)(nil)
