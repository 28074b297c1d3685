package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveGatewayCall(operation, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, operation+":"+outcome)
}

func newRetrying(t *testing.T, next Processor, retries int) (*Retrying, *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	policy := RetryPolicy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return NewRetrying(next, policy, obs, slog.New(slog.NewTextHandler(io.Discard, nil))), obs
}

func fundedSandbox(t *testing.T, amount int64) (*SandboxProcessor, string, string) {
	t.Helper()
	ctx := context.Background()
	s := NewSandboxProcessor("secret")
	created := s.CreatePaymentIntent(ctx, IntentRequest{Amount: amount, Currency: "USD"}).(IntentCreated)
	hold, err := s.AuthorizeIntent(created.IntentID)
	require.NoError(t, err)
	return s, created.IntentID, hold
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	s, _, hold := fundedSandbox(t, 50000)
	s.Script(OpCapture, OutcomeTransient, OutcomeTransient)
	r, obs := newRetrying(t, s, 3)

	res := r.CaptureOrTransfer(context.Background(), CaptureRequest{HoldReference: hold, Amount: 50000, IdempotencyToken: "cap"})

	_, ok := res.(Captured)
	assert.True(t, ok)
	assert.Equal(t, 3, s.Calls(OpCapture))
	assert.Equal(t, []string{"capture:transient", "capture:transient", "capture:success"}, obs.outcomes)
}

func TestRetrying_GivesUpAfterMaxRetries(t *testing.T) {
	s, _, hold := fundedSandbox(t, 50000)
	s.Script(OpRefund, OutcomeTransient, OutcomeTransient, OutcomeTransient)
	r, _ := newRetrying(t, s, 2)

	res := r.Refund(context.Background(), RefundRequest{HoldReference: hold, Amount: 50000, IdempotencyToken: "ref"})

	failure, ok := res.(TransientFailure)
	require.True(t, ok)
	assert.False(t, failure.Unknown)
	assert.Equal(t, 3, s.Calls(OpRefund), "one call plus two retries")
}

func TestRetrying_DeclineIsNotRetried(t *testing.T) {
	s, intent, _ := fundedSandbox(t, 50000)
	s.Script(OpCreateHold, OutcomeDecline)
	r, obs := newRetrying(t, s, 5)

	res := r.CreateHold(context.Background(), HoldRequest{IntentID: intent, Amount: 50000, IdempotencyToken: "hold"})

	_, ok := res.(Declined)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Calls(OpCreateHold))
	assert.Equal(t, []string{"create_hold:declined"}, obs.outcomes)
}

func TestRetrying_LostResponseIsReconciledByInspection(t *testing.T) {
	s, _, hold := fundedSandbox(t, 50000)
	s.Script(OpCapture, OutcomeLostResponse)
	r, obs := newRetrying(t, s, 3)

	res := r.CaptureOrTransfer(context.Background(), CaptureRequest{HoldReference: hold, Amount: 50000, IdempotencyToken: "cap"})

	captured, ok := res.(Captured)
	require.True(t, ok)
	assert.NotEmpty(t, captured.Reference)
	assert.Equal(t, 1, s.Calls(OpCapture), "no second capture after the state shows it applied")
	assert.Equal(t, []string{"capture:reconciled"}, obs.outcomes)
}

func TestRetrying_LostHoldResponseIsReconciled(t *testing.T) {
	ctx := context.Background()
	s := NewSandboxProcessor("secret")
	created := s.CreatePaymentIntent(ctx, IntentRequest{Amount: 700, Currency: "USD"}).(IntentCreated)
	s.Script(OpCreateHold, OutcomeLostResponse)
	r, _ := newRetrying(t, s, 3)

	res := r.CreateHold(ctx, HoldRequest{IntentID: created.IntentID, Amount: 700, IdempotencyToken: "hold"})

	hold, ok := res.(HoldCreated)
	require.True(t, ok)
	state, err := s.InspectIntent(ctx, created.IntentID)
	require.NoError(t, err)
	assert.Equal(t, state.Reference, hold.HoldReference)
}

func TestRetrying_CancelledContext(t *testing.T) {
	s, _, hold := fundedSandbox(t, 50000)
	s.Script(OpCapture, OutcomeTransient, OutcomeTransient, OutcomeTransient)
	r, _ := newRetrying(t, s, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.CaptureOrTransfer(ctx, CaptureRequest{HoldReference: hold, Amount: 50000, IdempotencyToken: "cap"})

	_, ok := res.(TransientFailure)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Calls(OpCapture))
}
