package shared

import (
	"fmt"
)

// The error taxonomy below is what the HTTP layer maps to status codes.
// Each type matches any other instance of itself through errors.Is, so callers
// can test the category with a zero value, e.g. errors.Is(err, shared.ConflictError{}).

// ValidationError reports bad input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	return ok
}

// UnauthenticatedError means the caller could not be identified.
type UnauthenticatedError struct {
	Reason string
}

func (e UnauthenticatedError) Error() string {
	return "unauthenticated: " + e.Reason
}

func (e UnauthenticatedError) Is(target error) bool {
	_, ok := target.(UnauthenticatedError)
	return ok
}

// AuthorizationError means the caller is known but is the wrong actor.
type AuthorizationError struct {
	Action string
	Reason string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Reason)
}

func (e AuthorizationError) Is(target error) bool {
	_, ok := target.(AuthorizationError)
	return ok
}

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

func (e NotFoundError) Is(target error) bool {
	t, ok := target.(NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// ConflictError means the state already moved on, or an idempotency key was
// reused for a different request. The client must re-fetch state.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Reason)
}

func (e ConflictError) Is(target error) bool {
	_, ok := target.(ConflictError)
	return ok
}

// InsufficientFundsError is returned when the available balance does not cover an escrow.
type InsufficientFundsError struct {
	UserID    string
	Available int64
	Required  int64
}

func (e InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for user %s: available %d, required %d", e.UserID, e.Available, e.Required)
}

func (e InsufficientFundsError) Is(target error) bool {
	_, ok := target.(InsufficientFundsError)
	return ok
}

// GatewayTransientError is a network or availability failure of the payment
// processor that survived the retry budget.
type GatewayTransientError struct {
	Operation string
	Reason    string
}

func (e GatewayTransientError) Error() string {
	return fmt.Sprintf("payment gateway temporarily unavailable during %s: %s", e.Operation, e.Reason)
}

func (e GatewayTransientError) Is(target error) bool {
	_, ok := target.(GatewayTransientError)
	return ok
}

// GatewayDefinitiveError is a decline or validation failure from the processor.
type GatewayDefinitiveError struct {
	Operation string
	Code      string
	Message   string
}

func (e GatewayDefinitiveError) Error() string {
	return fmt.Sprintf("payment gateway rejected %s (%s): %s", e.Operation, e.Code, e.Message)
}

func (e GatewayDefinitiveError) Is(target error) bool {
	_, ok := target.(GatewayDefinitiveError)
	return ok
}
