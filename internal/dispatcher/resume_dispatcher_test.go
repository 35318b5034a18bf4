package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/internal/repository/memory"
	repoMocks "github.com/shestoi/GoBigTech/iap/internal/repository/mocks"
	"github.com/shestoi/GoBigTech/iap/internal/service"
	"github.com/shestoi/GoBigTech/iap/internal/service/mocks"
)

func pending(id string, savedAt time.Time) repository.PendingRecord {
	return repository.PendingRecord{
		Product: repository.Product{ID: id},
		Receipt: repository.Receipt{TransactionID: "txn-" + id},
		SavedAt: savedAt,
	}
}

func TestResumeDispatcher_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("resumes each listed record once", func(t *testing.T) {
		// Arrange
		store := memory.NewMemoryRepository()
		now := time.Now().UTC()
		require.NoError(t, store.Save(ctx, pending("sku-1", now.Add(-2*time.Minute))))
		require.NoError(t, store.Save(ctx, pending("sku-2", now.Add(-time.Minute))))

		svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})

		calls := map[string]int{}
		submit := func(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
			calls[req.Product.ID]++
			if req.Product.ID == "sku-2" {
				return service.SubmitResult{Code: "E_SESSION"}, nil
			}
			return service.SubmitResult{Code: service.CodeOK}, nil
		}

		d := NewResumeDispatcher(zap.NewNop(), store, svc, submit, 10, time.Minute)

		// Act
		summary, err := d.RunOnce(ctx)

		// Assert
		require.NoError(t, err)
		require.Equal(t, 2, summary.Listed)
		require.Equal(t, 1, summary.Confirmed)
		require.Equal(t, 1, summary.Failed)
		require.Equal(t, 1, summary.Codes[service.CodeOK])
		require.Equal(t, 1, summary.Codes[service.CodeCallbackFailed])
		require.Equal(t, map[string]int{"sku-1": 1, "sku-2": 1}, calls)

		_, err = store.Get(ctx, "sku-1")
		require.ErrorIs(t, err, repository.ErrNotFound)
		_, err = store.Get(ctx, "sku-2")
		require.NoError(t, err)
	})

	t.Run("batch size limits records", func(t *testing.T) {
		// Arrange
		store := memory.NewMemoryRepository()
		now := time.Now().UTC()
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, store.Save(ctx, pending(id, now.Add(time.Duration(i)*time.Second))))
		}

		svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})
		submit := func(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
			return service.SubmitResult{Code: service.CodeOK}, nil
		}

		d := NewResumeDispatcher(nil, store, svc, submit, 2, time.Minute)

		// Act
		summary, err := d.RunOnce(ctx)

		// Assert
		require.NoError(t, err)
		require.Equal(t, 2, summary.Confirmed)
		left, err := store.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, left, 1)
		require.Equal(t, "c", left[0].Product.ID)
	})

	t.Run("list error", func(t *testing.T) {
		// Arrange
		store := repoMocks.NewRecordStore(t)
		store.On("List", mock.Anything, 10).Return(nil, errors.New("connection refused")).Once()

		svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})
		d := NewResumeDispatcher(zap.NewNop(), store, svc, nil, 10, time.Minute)

		// Act
		_, err := d.RunOnce(ctx)

		// Assert
		require.ErrorContains(t, err, "connection refused")
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := repoMocks.NewRecordStore(t)
		d := NewResumeDispatcher(zap.NewNop(), store, nil, nil, 10, time.Minute)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := d.RunOnce(cancelled)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestResumeDispatcher_Start(t *testing.T) {
	// Arrange
	store := memory.NewMemoryRepository()
	require.NoError(t, store.Save(context.Background(), pending("sku-1", time.Now().UTC())))

	svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})

	var attempts atomic.Int32
	submit := func(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
		// Бэкенд принимает заказ только со второй попытки
		if attempts.Add(1) < 2 {
			return service.SubmitResult{}, errors.New("order api unavailable")
		}
		return service.SubmitResult{Code: service.CodeOK}, nil
	}

	d := NewResumeDispatcher(zap.NewNop(), store, svc, submit, 10, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Act & Assert
	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), "sku-1")
		return errors.Is(err, repository.ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestResumeDispatcher_WithRateLimit(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	store := memory.NewMemoryRepository()
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, pending("sku-1", now.Add(-2*time.Minute))))
	require.NoError(t, store.Save(ctx, pending("sku-2", now.Add(-time.Minute))))

	svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})
	submit := func(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
		return service.SubmitResult{Code: service.CodeOK}, nil
	}

	// Одна отправка в две секунды: второй Resume не укладывается в дедлайн
	d := NewResumeDispatcher(zap.NewNop(), store, svc, submit, 10, time.Minute).WithRateLimit(0.5)

	// Act
	summary, err := d.RunOnce(ctx)

	// Assert
	require.Error(t, err)
	require.Equal(t, 1, summary.Listed)
	require.Equal(t, 1, summary.Confirmed)

	_, err = store.Get(context.Background(), "sku-2")
	require.NoError(t, err)
}

func TestResumeDispatcher_RejectedRecordDoesNotBlockBatch(t *testing.T) {
	ctx := context.Background()

	// Arrange
	store := memory.NewMemoryRepository()
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, pending("rejected", now.Add(-time.Hour))))
	require.NoError(t, store.Save(ctx, pending("fresh", now)))

	svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})

	calls := map[string]int{}
	submit := func(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
		calls[req.Product.ID]++
		if req.Product.ID == "rejected" {
			return service.SubmitResult{Code: "E_RECEIPT_INVALID"}, nil
		}
		return service.SubmitResult{Code: service.CodeOK}, nil
	}

	d := NewResumeDispatcher(zap.NewNop(), store, svc, submit, 1, time.Minute)
	clock := now
	d.now = func() time.Time { return clock }

	// Act
	var summaries []Summary
	for i := 0; i < 10; i++ {
		summary, err := d.RunOnce(ctx)
		require.NoError(t, err)
		summaries = append(summaries, summary)
	}

	// Assert
	require.Equal(t, map[string]int{"rejected": 1, "fresh": 1}, calls)
	require.Equal(t, 1, summaries[0].Failed)
	require.Equal(t, 1, summaries[1].Confirmed)
	require.Equal(t, 1, summaries[1].Deferred)

	_, err := store.Get(ctx, "fresh")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.Get(ctx, "rejected")
	require.NoError(t, err)
}

func TestResumeDispatcher_BackoffGrowsAndExpires(t *testing.T) {
	ctx := context.Background()

	// Arrange
	store := memory.NewMemoryRepository()
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, pending("sku-1", now)))

	svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})

	var attempts int
	submit := func(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
		attempts++
		return service.SubmitResult{}, errors.New("order api unavailable")
	}

	d := NewResumeDispatcher(zap.NewNop(), store, svc, submit, 10, time.Minute)
	clock := now
	d.now = func() time.Time { return clock }

	// Act & Assert
	_, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, attempts)

	// Пауза после первой неудачи - один интервал
	clock = clock.Add(30 * time.Second)
	summary, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Deferred)
	require.Equal(t, 1, attempts)

	clock = clock.Add(31 * time.Second)
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	// После второй неудачи пауза удваивается
	clock = clock.Add(90 * time.Second)
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	clock = clock.Add(31 * time.Second)
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestResumeDispatcher_ForgetsRemovedRecords(t *testing.T) {
	ctx := context.Background()

	// Arrange
	store := memory.NewMemoryRepository()
	require.NoError(t, store.Save(ctx, pending("sku-1", time.Now().UTC())))

	svc := service.NewService(service.Options{Provider: mocks.NewPaymentProvider(t), Store: store})
	submit := func(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
		return service.SubmitResult{Code: "E_SESSION"}, nil
	}
	d := NewResumeDispatcher(zap.NewNop(), store, svc, submit, 10, time.Minute)

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, d.backoff, 1)

	// Запись подтвердил кто-то другой
	require.NoError(t, store.Remove(ctx, "sku-1"))

	// Act
	_, err = d.RunOnce(ctx)

	// Assert
	require.NoError(t, err)
	require.Empty(t, d.backoff)
}
