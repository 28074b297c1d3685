package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		bountyID := uuid.New()
		payload := map[string]any{"bounty_id": bountyID.String(), "amount": 50000}

		beforeCreation := time.Now().UTC()
		event, err := NewEvent(shared.EventEscrowCreated, bountyID, payload)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, event.EventID)
		assert.Equal(t, shared.EventEscrowCreated, event.EventType)
		assert.Equal(t, bountyID, event.AggregateID)
		assert.Zero(t, event.AttemptCount)
		assert.True(t, event.Pending())
		assert.WithinDuration(t, beforeCreation, event.CreatedAt, time.Second)
		assert.Equal(t, event.CreatedAt, event.NextAttemptAt)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(event.Payload, &decoded))
		assert.Equal(t, float64(50000), decoded["amount"])
	})

	t.Run("UnmarshalablePayload", func(t *testing.T) {
		_, err := NewEvent(shared.EventEscrowCreated, uuid.New(), make(chan int))
		assert.Error(t, err)
	})
}

func TestEvent_RecordFailure(t *testing.T) {
	event := &Event{}
	next := time.Now().Add(time.Minute)

	event.RecordFailure("broker unavailable", next)
	event.RecordFailure("broker unavailable", next)

	assert.Equal(t, 2, event.AttemptCount)
	assert.Equal(t, "broker unavailable", event.LastError)
	assert.Equal(t, next, event.NextAttemptAt)
	assert.True(t, event.Pending())
	assert.False(t, event.Exhausted(3))
	assert.True(t, event.Exhausted(2))
}

func TestEvent_MarkDispatched(t *testing.T) {
	event := &Event{}
	at := time.Now()

	event.MarkDispatched(at)

	assert.False(t, event.Pending())
	require.NotNil(t, event.DispatchedAt)
	assert.Equal(t, at, *event.DispatchedAt)
}

func TestEvent_Envelope(t *testing.T) {
	event, err := NewEvent(shared.EventEscrowReleased, uuid.New(), map[string]int{"fee": 2500})
	require.NoError(t, err)

	env := event.Envelope()

	assert.Equal(t, event.EventID, env.EventID)
	assert.Equal(t, event.AggregateID, env.AggregateID)
	assert.Equal(t, event.CreatedAt, env.OccurredAt)
	assert.JSONEq(t, `{"fee":2500}`, string(env.Payload))
}
