package repository

import (
	"context"
	"errors"
	"time"
)

// Product представляет описание товара, полученное от платёжного провайдера
// Неизменяемый после получения, кешируется каталогом на всё время жизни процесса
type Product struct {
	ID       string            `json:"id" bson:"id"`
	Title    string            `json:"title,omitempty" bson:"title,omitempty"`
	Price    int64             `json:"price" bson:"price"` // в минорных единицах (копейки, центы)
	Currency string            `json:"currency,omitempty" bson:"currency,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Receipt представляет доказательство оплаты от провайдера
// Содержимое Payload непрозрачно для нас и передаётся бэкенду как есть
type Receipt struct {
	TransactionID string    `json:"transaction_id" bson:"transaction_id"`
	Payload       string    `json:"payload,omitempty" bson:"payload,omitempty"`
	PurchasedAt   time.Time `json:"purchased_at,omitempty" bson:"purchased_at,omitempty"`
}

// IsEmpty возвращает true, если провайдер не вернул ни идентификатор транзакции, ни payload
func (r Receipt) IsEmpty() bool {
	return r.TransactionID == "" && r.Payload == ""
}

// PendingRecord представляет оплаченную, но ещё не подтверждённую бэкендом покупку
// Ключ записи - Product.ID, на один товар хранится не больше одной записи
type PendingRecord struct {
	Product Product
	Receipt Receipt
	SavedAt time.Time
}

// Validate проверяет, что запись является корректной парой (товар, чек) для ключа productID
func (r PendingRecord) Validate(productID string) error {
	if r.Product.ID == "" {
		return errors.Join(ErrCorruptRecord, errors.New("product id is empty"))
	}
	if r.Product.ID != productID {
		return errors.Join(ErrCorruptRecord, errors.New("product id does not match record key"))
	}
	if r.Receipt.IsEmpty() {
		return errors.Join(ErrCorruptRecord, errors.New("receipt is empty"))
	}
	return nil
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=RecordStore --dir=. --output=./mocks --outpkg=mocks

// RecordStore определяет интерфейс долговременного хранилища неподтверждённых покупок
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type RecordStore interface {
	// Get получает запись по productID
	// Возвращает ErrNotFound, если записи нет, и ErrCorruptRecord, если запись не удалось разобрать
	Get(ctx context.Context, productID string) (PendingRecord, error)

	// Save сохраняет запись, перезаписывая существующую для того же товара
	Save(ctx context.Context, record PendingRecord) error

	// Remove удаляет запись по productID. Удаление отсутствующей записи не является ошибкой
	Remove(ctx context.Context, productID string) error

	// List возвращает до limit записей, самые старые первыми
	List(ctx context.Context, limit int) ([]PendingRecord, error)
}

// ErrNotFound возвращается, когда записи для товара нет в хранилище
var ErrNotFound = errors.New("pending record not found")

// ErrCorruptRecord возвращается, когда сохранённая запись повреждена и не является парой (товар, чек)
var ErrCorruptRecord = errors.New("pending record is corrupt")
