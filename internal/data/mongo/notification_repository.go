package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bounty-escrow-ledger/internal/domain/notification"
)

const (
	// NotificationCollectionName is the name of the inbox collection in MongoDB
	NotificationCollectionName = "notifications"
)

// NotificationRepository implements notification.Repository for MongoDB
type NotificationRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewNotificationRepository creates a new MongoDB notification repository
func NewNotificationRepository(logger *slog.Logger, db *mongo.Database) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the unique (event_id, recipient_id) index that makes
// Save idempotent, and the index used by the inbox listing.
func (r *NotificationRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(NotificationCollectionName)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "recipient_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("ux_notifications_event_recipient"),
		},
		{
			Keys:    bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_notifications_recipient_created"),
		},
	})
	if err != nil {
		r.logger.Error("Failed to create notification indexes", "error", err)
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}
	return nil
}

// Save upserts with $setOnInsert only, so a redelivered event leaves the
// existing entry untouched.
func (r *NotificationRepository) Save(ctx context.Context, n *notification.Notification) (bool, error) {
	collection := r.db.Collection(NotificationCollectionName)

	filter := bson.M{"event_id": n.EventID, "recipient_id": n.RecipientID}
	update := bson.M{"$setOnInsert": n}

	result, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// Two concurrent upserts of the same key: the loser hits the unique index.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		r.logger.Error("Failed to save notification",
			"event_id", n.EventID,
			"recipient_id", n.RecipientID,
			"error", err)
		return false, fmt.Errorf("failed to save notification: %w", err)
	}

	return result.UpsertedCount == 1, nil
}

// ListByRecipient returns a page of the user's inbox, newest first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*notification.Notification, error) {
	collection := r.db.Collection(NotificationCollectionName)

	filter := bson.M{"recipient_id": recipientID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to list notifications",
			"recipient_id", recipientID,
			"error", err)
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*notification.Notification
	if err := cursor.All(ctx, &out); err != nil {
		r.logger.Error("Failed to decode notifications",
			"recipient_id", recipientID,
			"error", err)
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}

	return out, nil
}
