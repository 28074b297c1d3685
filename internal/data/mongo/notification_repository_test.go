package mongo

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/bounty-escrow-ledger/internal/domain/notification"
	"github.com/bounty-escrow-ledger/internal/domain/shared"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func sampleNotification() *notification.Notification {
	return &notification.Notification{
		EventID:     "5b0f7a8e-8f57-4a1c-9d3e-2a3c1f0e9b11",
		RecipientID: "0c1d8f6e-3e4b-4bb0-8a51-7f2c0a9d4e22",
		BountyID:    "9a7c2e10-5d3f-4c8b-b6e1-1f0d2c3b4a33",
		EventType:   shared.EventEscrowReleased,
		Title:       "Payment released",
		Body:        "475.00 USD was paid out (platform fee 25.00 USD).",
		Amount:      50000,
		Currency:    "USD",
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotificationRepository_Save(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("first delivery inserts", func(mt *mtest.T) {
		repo := NewNotificationRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "x"}}}},
		))

		inserted, err := repo.Save(context.Background(), sampleNotification())
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	mt.Run("redelivery is absorbed", func(mt *mtest.T) {
		repo := NewNotificationRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
		))

		inserted, err := repo.Save(context.Background(), sampleNotification())
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	mt.Run("duplicate key race is absorbed", func(mt *mtest.T) {
		repo := NewNotificationRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		inserted, err := repo.Save(context.Background(), sampleNotification())
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	mt.Run("server error", func(mt *mtest.T) {
		repo := NewNotificationRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    91,
			Name:    "ShutdownInProgress",
			Message: "shutting down",
		}))

		_, err := repo.Save(context.Background(), sampleNotification())
		assert.ErrorContains(t, err, "failed to save notification")
	})
}

func TestNotificationRepository_ListByRecipient(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes page", func(mt *mtest.T) {
		repo := NewNotificationRepository(newTestLogger(), mt.DB)
		n := sampleNotification()
		doc, err := bson.Marshal(n)
		require.NoError(t, err)
		var raw bson.D
		require.NoError(t, bson.Unmarshal(doc, &raw))

		ns := mt.DB.Name() + "." + NotificationCollectionName
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, raw))

		out, err := repo.ListByRecipient(context.Background(), n.RecipientID, 20, 0)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, n.EventID, out[0].EventID)
		assert.Equal(t, shared.EventEscrowReleased, out[0].EventType)
		assert.True(t, n.CreatedAt.Equal(out[0].CreatedAt))
	})

	mt.Run("find error", func(mt *mtest.T) {
		repo := NewNotificationRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "bad query"}))

		_, err := repo.ListByRecipient(context.Background(), "someone", 20, 0)
		assert.ErrorContains(t, err, "failed to list notifications")
	})
}

func TestNotificationRepository_EnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("creates indexes", func(mt *mtest.T) {
		repo := NewNotificationRepository(newTestLogger(), mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(t, repo.EnsureIndexes(context.Background()))
	})
}

var _ notification.Repository = (*NotificationRepository)(nil)
