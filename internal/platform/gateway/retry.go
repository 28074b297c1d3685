package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Observer is notified of every processor attempt, retries included.
type Observer interface {
	ObserveGatewayCall(operation, outcome string, elapsed time.Duration)
}

// RetryPolicy bounds how hard Retrying tries before giving up.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Retrying decorates a Processor with bounded exponential backoff on
// TransientFailure. Declines are returned immediately. After an Unknown
// failure the processor is asked for the current state first, so an operation
// that already took effect is reported as a success instead of being repeated.
type Retrying struct {
	next     Processor
	policy   RetryPolicy
	observer Observer
	logger   *slog.Logger
}

func NewRetrying(next Processor, policy RetryPolicy, observer Observer, logger *slog.Logger) *Retrying {
	return &Retrying{
		next:     next,
		policy:   policy,
		observer: observer,
		logger:   logger,
	}
}

func (r *Retrying) CreatePaymentIntent(ctx context.Context, req IntentRequest) IntentResult {
	return retry(ctx, r, "create_payment_intent",
		func() IntentResult { return r.next.CreatePaymentIntent(ctx, req) },
		nil,
	)
}

func (r *Retrying) CreateHold(ctx context.Context, req HoldRequest) HoldResult {
	return retry(ctx, r, "create_hold",
		func() HoldResult { return r.next.CreateHold(ctx, req) },
		func() (HoldResult, bool) {
			state, err := r.next.InspectIntent(ctx, req.IntentID)
			if err != nil || state.Status != HoldStatusAuthorized {
				return nil, false
			}
			return HoldCreated{HoldReference: state.Reference}, true
		},
	)
}

func (r *Retrying) CaptureOrTransfer(ctx context.Context, req CaptureRequest) CaptureResult {
	return retry(ctx, r, "capture",
		func() CaptureResult { return r.next.CaptureOrTransfer(ctx, req) },
		func() (CaptureResult, bool) {
			state, err := r.next.InspectHold(ctx, req.HoldReference)
			if err != nil || state.Status != HoldStatusCaptured {
				return nil, false
			}
			return Captured{Reference: state.Reference}, true
		},
	)
}

func (r *Retrying) Refund(ctx context.Context, req RefundRequest) RefundResult {
	return retry(ctx, r, "refund",
		func() RefundResult { return r.next.Refund(ctx, req) },
		func() (RefundResult, bool) {
			state, err := r.next.InspectHold(ctx, req.HoldReference)
			if err != nil || state.Status != HoldStatusVoided {
				return nil, false
			}
			return Refunded{Reference: state.Reference}, true
		},
	)
}

func (r *Retrying) InspectIntent(ctx context.Context, intentID string) (HoldState, error) {
	return r.next.InspectIntent(ctx, intentID)
}

func (r *Retrying) InspectHold(ctx context.Context, holdReference string) (HoldState, error) {
	return r.next.InspectHold(ctx, holdReference)
}

func (r *Retrying) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (WebhookEvent, error) {
	return r.next.VerifyWebhook(ctx, headers, body)
}

func (r *Retrying) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialDelay
	b.MaxInterval = r.policy.MaxDelay
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxRetries)), ctx)
}

func (r *Retrying) observe(operation, outcome string, started time.Time) {
	if r.observer != nil {
		r.observer.ObserveGatewayCall(operation, outcome, time.Since(started))
	}
}

// retry returns the first non-transient result, the reconciled result after
// an Unknown failure, or the last TransientFailure once retries run out.
func retry[T any](ctx context.Context, r *Retrying, operation string, call func() T, reconcile func() (T, bool)) T {
	var result T
	attempt := 0

	op := func() error {
		attempt++
		started := time.Now()
		result = call()

		failure, transient := any(result).(TransientFailure)
		if !transient {
			outcome := "success"
			if _, declined := any(result).(Declined); declined {
				outcome = "declined"
			}
			r.observe(operation, outcome, started)
			return nil
		}

		if failure.Unknown && reconcile != nil {
			if settled, ok := reconcile(); ok {
				r.observe(operation, "reconciled", started)
				r.logger.Info("Gateway call took effect despite lost response",
					"operation", operation,
					"attempt", attempt,
				)
				result = settled
				return nil
			}
		}

		r.observe(operation, "transient", started)
		return fmt.Errorf("%s attempt %d: %s", operation, attempt, failure.Reason)
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("Retrying gateway call", "operation", operation, "error", err, "backoff", wait)
	}

	if err := backoff.RetryNotify(op, r.backOff(ctx), notify); err != nil {
		r.logger.Error("Gateway call failed after retries", "operation", operation, "attempts", attempt, "error", err)
		if any(result) == nil {
			return any(TransientFailure{Reason: err.Error()}).(T)
		}
	}

	return result
}

var _ Processor = (*Retrying)(nil)
