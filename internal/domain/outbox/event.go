package outbox

import (
	"encoding/json"
	"time"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// Event is a domain event stored in the same transaction as the state change it describes.
type Event struct {
	ID            int64            `json:"id"`
	EventID       uuid.UUID        `json:"event_id"`
	EventType     shared.EventType `json:"event_type"`
	AggregateID   uuid.UUID        `json:"aggregate_id"`
	Payload       json.RawMessage  `json:"payload"`
	CreatedAt     time.Time        `json:"created_at"`
	DispatchedAt  *time.Time       `json:"dispatched_at,omitempty"`
	AttemptCount  int              `json:"attempt_count"`
	NextAttemptAt time.Time        `json:"next_attempt_at"`
	LastError     string           `json:"last_error,omitempty"`
}

// NewEvent marshals payload and stamps a fresh event id that downstream consumers dedupe on.
func NewEvent(eventType shared.EventType, aggregateID uuid.UUID, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Event{
		EventID:       uuid.New(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		Payload:       raw,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}

// Pending reports whether the event still awaits delivery.
func (e *Event) Pending() bool {
	return e.DispatchedAt == nil
}

// MarkDispatched records successful delivery.
func (e *Event) MarkDispatched(at time.Time) {
	e.DispatchedAt = &at
}

// RecordFailure counts a failed attempt and schedules the next one.
func (e *Event) RecordFailure(reason string, next time.Time) {
	e.AttemptCount++
	e.LastError = reason
	e.NextAttemptAt = next
}

// Exhausted is true once the event has used its delivery budget. Exhausted
// events stay pending for manual inspection.
func (e *Event) Exhausted(maxAttempts int) bool {
	return e.AttemptCount >= maxAttempts
}

// Envelope is the wire format published to the event stream.
type Envelope struct {
	EventID     uuid.UUID        `json:"event_id"`
	EventType   shared.EventType `json:"event_type"`
	AggregateID uuid.UUID        `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     json.RawMessage  `json:"payload"`
}

// Envelope wraps the event for publishing.
func (e *Event) Envelope() Envelope {
	return Envelope{
		EventID:     e.EventID,
		EventType:   e.EventType,
		AggregateID: e.AggregateID,
		OccurredAt:  e.CreatedAt,
		Payload:     e.Payload,
	}
}
