package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/internal/service"
	"github.com/shestoi/GoBigTech/iap/internal/service/mocks"
)

func TestGate_Pay(t *testing.T) {
	ctx := context.Background()
	receipt := repository.Receipt{TransactionID: "txn-1", Payload: "receipt-data"}

	t.Run("authenticated pays without prompt", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		provider.On("PurchaseProduct", mock.Anything, "sku-1").Return(receipt, nil).Once()

		gate := service.NewGate(provider, prompter, nil, nil, zap.NewNop(), time.Second)

		// Act
		got, err := gate.Pay(ctx, "sku-1", true, true)

		// Assert
		require.NoError(t, err)
		require.Equal(t, receipt, got)
		prompter.AssertNotCalled(t, "AskUnauthenticatedPurchase", mock.Anything, mock.Anything)
	})

	t.Run("unauthenticated with prompt disabled pays directly", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		provider.On("PurchaseProduct", mock.Anything, "sku-1").Return(receipt, nil).Once()

		gate := service.NewGate(provider, nil, nil, nil, zap.NewNop(), 0)

		// Act
		got, err := gate.Pay(ctx, "sku-1", false, false)

		// Assert
		require.NoError(t, err)
		require.Equal(t, receipt, got)
	})

	t.Run("provider error is wrapped", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		provider.On("PurchaseProduct", mock.Anything, "sku-1").
			Return(repository.Receipt{}, errors.New("card declined")).
			Once()

		gate := service.NewGate(provider, nil, nil, nil, zap.NewNop(), 0)

		// Act
		_, err := gate.Pay(ctx, "sku-1", true, true)

		// Assert
		require.ErrorIs(t, err, service.ErrPayment)
		require.ErrorContains(t, err, "card declined")
	})

	t.Run("login choice cancels and starts login", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		prompter.On("AskUnauthenticatedPurchase", mock.Anything, "sku-1").Return(service.ChoiceLogin, nil).Once()

		loginCalled := make(chan string, 1)
		login := func(ctx context.Context, productID string) {
			loginCalled <- productID
		}

		gate := service.NewGate(provider, prompter, nil, login, zap.NewNop(), 0)

		// Act
		_, err := gate.Pay(ctx, "sku-1", false, true)

		// Assert
		require.ErrorIs(t, err, service.ErrUserCancelled)
		select {
		case productID := <-loginCalled:
			require.Equal(t, "sku-1", productID)
		case <-time.After(time.Second):
			t.Fatal("login was not started")
		}
		provider.AssertNotCalled(t, "PurchaseProduct", mock.Anything, mock.Anything)
	})

	t.Run("continue with available storage pays", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		storage := mocks.NewRecoveryStorage(t)
		prompter.On("AskUnauthenticatedPurchase", mock.Anything, "sku-1").Return(service.ChoiceContinue, nil).Once()
		storage.On("Available", mock.Anything).Return(true, nil).Once()
		provider.On("PurchaseProduct", mock.Anything, "sku-1").Return(receipt, nil).Once()

		gate := service.NewGate(provider, prompter, storage, nil, zap.NewNop(), 0)

		// Act
		got, err := gate.Pay(ctx, "sku-1", false, true)

		// Assert
		require.NoError(t, err)
		require.Equal(t, receipt, got)
	})

	t.Run("continue with unavailable storage does not pay", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		storage := mocks.NewRecoveryStorage(t)
		prompter.On("AskUnauthenticatedPurchase", mock.Anything, "sku-1").Return(service.ChoiceContinue, nil).Once()
		storage.On("Available", mock.Anything).Return(false, nil).Once()

		gate := service.NewGate(provider, prompter, storage, nil, zap.NewNop(), 0)

		// Act
		_, err := gate.Pay(ctx, "sku-1", false, true)

		// Assert
		require.ErrorIs(t, err, service.ErrStorageUnavailable)
		provider.AssertNotCalled(t, "PurchaseProduct", mock.Anything, mock.Anything)
	})

	t.Run("storage check error means unavailable", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		storage := mocks.NewRecoveryStorage(t)
		prompter.On("AskUnauthenticatedPurchase", mock.Anything, "sku-1").Return(service.ChoiceContinue, nil).Once()
		storage.On("Available", mock.Anything).Return(false, errors.New("icloud timeout")).Once()

		gate := service.NewGate(provider, prompter, storage, nil, zap.NewNop(), 0)

		// Act
		_, err := gate.Pay(ctx, "sku-1", false, true)

		// Assert
		require.ErrorIs(t, err, service.ErrStorageUnavailable)
	})

	t.Run("continue without storage check means unavailable", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		prompter.On("AskUnauthenticatedPurchase", mock.Anything, "sku-1").Return(service.ChoiceContinue, nil).Once()

		gate := service.NewGate(provider, prompter, nil, nil, zap.NewNop(), 0)

		// Act
		_, err := gate.Pay(ctx, "sku-1", false, true)

		// Assert
		require.ErrorIs(t, err, service.ErrStorageUnavailable)
	})

	t.Run("cancel choice", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		prompter.On("AskUnauthenticatedPurchase", mock.Anything, "sku-1").Return(service.ChoiceCancel, nil).Once()

		gate := service.NewGate(provider, prompter, nil, nil, zap.NewNop(), 0)

		// Act
		_, err := gate.Pay(ctx, "sku-1", false, true)

		// Assert
		require.ErrorIs(t, err, service.ErrUserCancelled)
	})

	t.Run("prompt error and missing prompter cancel", func(t *testing.T) {
		// Arrange
		provider := mocks.NewPaymentProvider(t)
		prompter := mocks.NewPrompter(t)
		prompter.On("AskUnauthenticatedPurchase", mock.Anything, "sku-1").
			Return(service.ChoiceContinue, errors.New("ui closed")).
			Once()

		withPrompter := service.NewGate(provider, prompter, nil, nil, zap.NewNop(), 0)
		withoutPrompter := service.NewGate(provider, nil, nil, nil, zap.NewNop(), 0)

		// Act
		_, err1 := withPrompter.Pay(ctx, "sku-1", false, true)
		_, err2 := withoutPrompter.Pay(ctx, "sku-1", false, true)

		// Assert
		require.ErrorIs(t, err1, service.ErrUserCancelled)
		require.ErrorIs(t, err2, service.ErrUserCancelled)
	})
}

func TestChoice_String(t *testing.T) {
	require.Equal(t, "cancel", service.ChoiceCancel.String())
	require.Equal(t, "login", service.ChoiceLogin.String())
	require.Equal(t, "continue", service.ChoiceContinue.String())
	require.Equal(t, "cancel", service.Choice(42).String())
}
