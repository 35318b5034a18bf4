package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

// Gate решает, можно ли проводить оплату, и выполняет её через провайдера
// Оплата без входа разрешена, но только после явного согласия пользователя
// и при доступном хранилище для восстановления покупки
type Gate struct {
	provider PaymentProvider
	prompter Prompter
	storage  RecoveryStorage
	login    LoginFunc
	logger   *zap.Logger
	timeout  time.Duration
}

// NewGate создаёт новый Gate
// prompter, storage и login могут быть nil
func NewGate(provider PaymentProvider, prompter Prompter, storage RecoveryStorage, login LoginFunc, logger *zap.Logger, timeout time.Duration) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		provider: provider,
		prompter: prompter,
		storage:  storage,
		login:    login,
		logger:   logger,
		timeout:  timeout,
	}
}

// Pay проводит оплату товара
// allowPrompt=false отключает предупреждение для неавторизованного пользователя
func (g *Gate) Pay(ctx context.Context, productID string, authenticated, allowPrompt bool) (repository.Receipt, error) {
	for {
		if authenticated || !allowPrompt {
			return g.purchase(ctx, productID)
		}

		choice := g.ask(ctx, productID)
		g.logger.Info("unauthenticated purchase choice",
			zap.String("product_id", productID),
			zap.Stringer("choice", choice),
		)

		switch choice {
		case ChoiceLogin:
			g.goLogin(ctx, productID)
			return repository.Receipt{}, ErrUserCancelled
		case ChoiceContinue:
			if !g.recoveryAvailable(ctx) {
				return repository.Receipt{}, ErrStorageUnavailable
			}
			// Пользователь предупреждён, повторяем без вопроса
			allowPrompt = false
		default:
			return repository.Receipt{}, ErrUserCancelled
		}
	}
}

func (g *Gate) purchase(ctx context.Context, productID string) (repository.Receipt, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	receipt, err := g.provider.PurchaseProduct(ctx, productID)
	if err != nil {
		g.logger.Error("purchase failed",
			zap.Error(err),
			zap.String("product_id", productID),
		)
		return repository.Receipt{}, fmt.Errorf("%w: %w", ErrPayment, err)
	}
	return receipt, nil
}

// ask возвращает выбор пользователя. Без prompter или при ошибке считаем, что пользователь отменил
func (g *Gate) ask(ctx context.Context, productID string) Choice {
	if g.prompter == nil {
		g.logger.Warn("no prompter configured, cancelling unauthenticated purchase",
			zap.String("product_id", productID),
		)
		return ChoiceCancel
	}

	choice, err := g.prompter.AskUnauthenticatedPurchase(ctx, productID)
	if err != nil {
		g.logger.Warn("prompt failed, treating as cancel",
			zap.Error(err),
			zap.String("product_id", productID),
		)
		return ChoiceCancel
	}
	return choice
}

// recoveryAvailable проверяет хранилище. Ошибка проверки означает "недоступно"
func (g *Gate) recoveryAvailable(ctx context.Context) bool {
	if g.storage == nil {
		return false
	}

	available, err := g.storage.Available(ctx)
	if err != nil {
		g.logger.Error("recovery storage probe failed", zap.Error(err))
		return false
	}
	return available
}

// goLogin запускает вход без ожидания результата
func (g *Gate) goLogin(ctx context.Context, productID string) {
	if g.login == nil {
		return
	}
	loginCtx := context.WithoutCancel(ctx)
	go g.login(loginCtx, productID)
}
