package event_notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bounty-escrow-ledger/internal/domain/shared"
)

// StatusMessage is what realtime subscribers of a bounty receive.
type StatusMessage struct {
	EventID      string           `json:"eventId"`
	EventType    shared.EventType `json:"eventType"`
	BountyID     string           `json:"bountyId"`
	EscrowState  string           `json:"escrowState"`
	BountyStatus string           `json:"bountyStatus"`
	Amount       int64            `json:"amount"`
	Currency     string           `json:"currency"`
	OccurredAt   time.Time        `json:"occurredAt"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RealtimeBroadcaster pushes escrow status changes to a per-bounty Redis channel.
type RealtimeBroadcaster struct {
	client redisPublisher
	prefix string
	logger *slog.Logger
}

func NewRealtimeBroadcaster(client redisPublisher, channelPrefix string, logger *slog.Logger) *RealtimeBroadcaster {
	return &RealtimeBroadcaster{client: client, prefix: channelPrefix, logger: logger}
}

// Channel is the pub/sub channel of a bounty's escrow updates.
func (b *RealtimeBroadcaster) Channel(bountyID uuid.UUID) string {
	return b.prefix + "bounty:" + bountyID.String() + ":escrow"
}

func (b *RealtimeBroadcaster) Broadcast(ctx context.Context, bountyID uuid.UUID, msg StatusMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode status message: %w", err)
	}

	channel := b.Channel(bountyID)
	receivers, err := b.client.Publish(ctx, channel, body).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	b.logger.Debug("Broadcast escrow status", "channel", channel, "receivers", receivers, "event_id", msg.EventID)
	return nil
}
