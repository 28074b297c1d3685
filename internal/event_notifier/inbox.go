package event_notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bounty-escrow-ledger/internal/domain/notification"
)

// NotificationInbox stores per-user notifications. Saving is idempotent per
// event and recipient, so redelivery is harmless.
type NotificationInbox struct {
	repo   notification.Repository
	logger *slog.Logger
}

func NewNotificationInbox(repo notification.Repository, logger *slog.Logger) *NotificationInbox {
	return &NotificationInbox{repo: repo, logger: logger}
}

func (i *NotificationInbox) Deliver(ctx context.Context, notes []*notification.Notification) error {
	for _, n := range notes {
		created, err := i.repo.Save(ctx, n)
		if err != nil {
			return fmt.Errorf("failed to deliver notification of event %s to %s: %w", n.EventID, n.RecipientID, err)
		}
		if !created {
			i.logger.Debug("Notification already delivered", "event_id", n.EventID, "recipient_id", n.RecipientID)
		}
	}
	return nil
}
