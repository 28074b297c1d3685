package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoDB_Collection(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	// mongo.Connect does not dial until the first operation.
	client, err := mongo.Connect(context.TODO(), options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)
	db := client.Database("notifications_test")

	mdb := &MongoDB{logger: logger, client: client, database: db}

	assert.Equal(t, db, mdb.Database())
	assert.Equal(t, "notifications", mdb.Collection("notifications").Name())
}
