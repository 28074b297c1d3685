package event_notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
)

type MockRedis struct {
	mock.Mock
}

func (m *MockRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	return redis.NewIntResult(int64(args.Int(0)), args.Error(1))
}

func TestRealtimeBroadcaster_Broadcast(t *testing.T) {
	bountyID := uuid.MustParse("0b6f4c1e-8d0a-4a53-9a43-2f7d1c9e5b10")
	msg := StatusMessage{
		EventID:      uuid.NewString(),
		EventType:    shared.EventEscrowCreated,
		BountyID:     bountyID.String(),
		EscrowState:  "escrowed",
		BountyStatus: "open",
		Amount:       50000,
		Currency:     "USD",
		OccurredAt:   time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	t.Run("PublishesOnBountyChannel", func(t *testing.T) {
		client := &MockRedis{}
		b := NewRealtimeBroadcaster(client, "bounties:", quietLogger())
		channel := "bounties:bounty:0b6f4c1e-8d0a-4a53-9a43-2f7d1c9e5b10:escrow"

		client.On("Publish", mock.Anything, channel, mock.Anything).Run(func(args mock.Arguments) {
			var got map[string]any
			require.NoError(t, json.Unmarshal(args.Get(2).([]byte), &got))
			assert.Equal(t, "escrowed", got["escrowState"])
			assert.Equal(t, bountyID.String(), got["bountyId"])
		}).Return(1, nil).Once()

		require.NoError(t, b.Broadcast(context.Background(), bountyID, msg))
		client.AssertExpectations(t)
	})

	t.Run("PublishError", func(t *testing.T) {
		client := &MockRedis{}
		b := NewRealtimeBroadcaster(client, "", quietLogger())
		client.On("Publish", mock.Anything, "bounty:"+bountyID.String()+":escrow", mock.Anything).
			Return(0, errors.New("connection refused")).Once()

		err := b.Broadcast(context.Background(), bountyID, msg)
		assert.ErrorContains(t, err, "connection refused")
	})
}
