package notification

import (
	"context"
)

// Repository stores the per-user notification inbox.
type Repository interface {
	// Save inserts n unless an entry for the same event and recipient exists.
	// It reports whether a new entry was created.
	Save(ctx context.Context, n *Notification) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Notification, error)
}
