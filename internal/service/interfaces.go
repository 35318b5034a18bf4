package service

import (
	"context"
	"time"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=PaymentProvider --dir=. --output=./mocks --outpkg=mocks

// PaymentProvider определяет интерфейс платформенного платёжного SDK
type PaymentProvider interface {
	// ListProducts возвращает описания товаров по их идентификаторам
	ListProducts(ctx context.Context, productIDs []string) ([]repository.Product, error)

	// PurchaseProduct выполняет оплату товара и возвращает чек
	PurchaseProduct(ctx context.Context, productID string) (repository.Receipt, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=RecoveryStorage --dir=. --output=./mocks --outpkg=mocks

// RecoveryStorage проверяет доступность облачного хранилища,
// через которое покупку можно восстановить на другом устройстве
type RecoveryStorage interface {
	Available(ctx context.Context) (bool, error)
}

// Choice - ответ пользователя на предупреждение о покупке без входа
type Choice int

const (
	// ChoiceCancel - отменить покупку
	ChoiceCancel Choice = iota
	// ChoiceLogin - сначала войти в аккаунт
	ChoiceLogin
	// ChoiceContinue - продолжить покупку без входа
	ChoiceContinue
)

func (c Choice) String() string {
	switch c {
	case ChoiceLogin:
		return "login"
	case ChoiceContinue:
		return "continue"
	default:
		return "cancel"
	}
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Prompter --dir=. --output=./mocks --outpkg=mocks

// Prompter показывает пользователю выбор перед покупкой без входа
type Prompter interface {
	AskUnauthenticatedPurchase(ctx context.Context, productID string) (Choice, error)
}

// LoginFunc запускает сценарий входа. Результат не ожидается
type LoginFunc func(ctx context.Context, productID string)

// SubmitRequest передаётся колбэку отправки заказа
type SubmitRequest struct {
	Product    repository.Product
	Receipt    repository.Receipt
	IsRestored bool // true, если чек взят из сохранённой записи
}

// SubmitResult - ответ колбэка отправки заказа
type SubmitResult struct {
	Code  ResultCode
	Extra map[string]any
}

// SubmitFunc отправляет заказ на бэкенд
// Ошибка может нести код через метод ResultCode() (например *SubmitError)
type SubmitFunc func(ctx context.Context, req SubmitRequest) (SubmitResult, error)

// UnrecordedPurchase описывает оплату, для которой не удалось ни отправить заказ, ни сохранить запись
type UnrecordedPurchase struct {
	Product    repository.Product
	Receipt    repository.Receipt
	SubmitCode ResultCode
	Reason     string
	OccurredAt time.Time
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Escalator --dir=. --output=./mocks --outpkg=mocks

// Escalator сообщает о потерянной оплате (например, в топик для поддержки)
type Escalator interface {
	EscalateUnrecorded(ctx context.Context, purchase UnrecordedPurchase) error
}
