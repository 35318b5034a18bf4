//go:build integration

package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()

	mongoC, err := mongodb.Run(ctx, "mongo:6")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, mongoC.Terminate(ctx))
	}()

	uri, err := mongoC.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	repo := NewRepository(client, "iap_test")
	require.NoError(t, repo.Ping(ctx))

	rec := repository.PendingRecord{
		Product: repository.Product{ID: "42", Price: 9900, Currency: "RUB", Metadata: map[string]string{"sku": "course-42"}},
		Receipt: repository.Receipt{TransactionID: "R1", Payload: "opaque"},
		SavedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}

	t.Run("Save, Get, Remove round trip", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, rec))

		got, err := repo.Get(ctx, "42")
		require.NoError(t, err)
		require.Equal(t, rec.Product, got.Product)
		require.Equal(t, rec.Receipt.TransactionID, got.Receipt.TransactionID)

		require.NoError(t, repo.Remove(ctx, "42"))
		_, err = repo.Get(ctx, "42")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("upsert keeps a single document per product", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, rec))
		second := rec
		second.Receipt.TransactionID = "R2"
		require.NoError(t, repo.Save(ctx, second))

		count, err := repo.col.CountDocuments(ctx, bson.M{"product_id": "42"})
		require.NoError(t, err)
		require.Equal(t, int64(1), count)

		all, err := repo.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, "R2", all[0].Receipt.TransactionID)
	})
}
