package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/internal/service"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func unrecorded() service.UnrecordedPurchase {
	return service.UnrecordedPurchase{
		Product:    repository.Product{ID: "sku-1", Price: 9900, Currency: "RUB"},
		Receipt:    repository.Receipt{TransactionID: "txn-1", Payload: "opaque-receipt"},
		SubmitCode: "E_NET",
		Reason:     "read-only filesystem",
		OccurredAt: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestEscalationPublisher_EscalateUnrecorded(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes event keyed by product id", func(t *testing.T) {
		// Arrange
		writer := &fakeWriter{}
		p := newEscalationPublisher(zap.NewNop(), writer, "iap.purchase.unrecorded")

		// Act
		err := p.EscalateUnrecorded(ctx, unrecorded())

		// Assert
		require.NoError(t, err)
		require.Len(t, writer.messages, 1)
		assert.Equal(t, []byte("sku-1"), writer.messages[0].Key)

		var event UnrecordedPurchaseEvent
		require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
		_, err = uuid.Parse(event.EventID)
		require.NoError(t, err)
		assert.Equal(t, EventTypeUnrecordedPurchase, event.EventType)
		assert.Equal(t, 1, event.EventVersion)
		assert.Equal(t, "sku-1", event.ProductID)
		assert.Equal(t, int64(9900), event.Price)
		assert.Equal(t, "txn-1", event.TransactionID)
		assert.Equal(t, "opaque-receipt", event.Receipt)
		assert.Equal(t, "E_NET", event.SubmitCode)
		assert.Equal(t, "read-only filesystem", event.Error)
		assert.True(t, event.OccurredAt.Equal(unrecorded().OccurredAt))
	})

	t.Run("writer error is returned", func(t *testing.T) {
		writer := &fakeWriter{err: errors.New("leader not available")}
		p := newEscalationPublisher(nil, writer, "iap.purchase.unrecorded")

		err := p.EscalateUnrecorded(ctx, unrecorded())

		require.ErrorContains(t, err, "leader not available")
	})

	t.Run("close closes writer", func(t *testing.T) {
		writer := &fakeWriter{}
		p := newEscalationPublisher(nil, writer, "t")

		require.NoError(t, p.Close())
		assert.True(t, writer.closed)
	})
}

func TestNopEscalator(t *testing.T) {
	require.NoError(t, NewNopEscalator(nil).EscalateUnrecorded(context.Background(), unrecorded()))
}
