package service

import (
	"errors"
	"fmt"
)

// ResultCode - код исхода попытки покупки
// Колбэк отправки может вернуть собственный код (например "E_NET"), поэтому тип открытый
type ResultCode string

const (
	// CodeOK - бэкенд подтвердил заказ
	CodeOK ResultCode = "RC_OK"
	// CodeDidSaveRecord - оплата прошла, запись сохранена до входа пользователя
	CodeDidSaveRecord ResultCode = "RC_IAP_DID_SAVE_REC"
	// CodeCallbackFailed - бэкенд отклонил заказ, запись сохранена
	CodeCallbackFailed ResultCode = "RC_IAP_CALLBACK"
	// CodeGetProductFailed - не удалось получить товар у провайдера
	CodeGetProductFailed ResultCode = "RC_IAP_GET_PRODUCT"
	// CodePurchaseFailed - оплата не прошла
	CodePurchaseFailed ResultCode = "RC_IAP_PURCHASE"
	// CodeSaveRecordFailed - оплата прошла, отправка не удалась и запись сохранить не удалось
	CodeSaveRecordFailed ResultCode = "RC_IAP_SAVE_REC"
	// CodeUserCancelled - пользователь отменил оплату или выбрал вход
	CodeUserCancelled ResultCode = "RC_IAP_USER_CANCELLED"
	// CodeStorageUnavailable - облачное хранилище для восстановления покупки недоступно
	CodeStorageUnavailable ResultCode = "RC_IAP_STORAGE_UNAVAILABLE"
	// CodeInvalidRecord - сохранённая запись повреждена
	CodeInvalidRecord ResultCode = "RC_IAP_INVALID_REC"
	// CodeNoPendingRecord - для товара нет неподтверждённой записи (только Resume)
	CodeNoPendingRecord ResultCode = "RC_IAP_NO_REC"
)

// Severe возвращает true для исходов, которые требуют эскалации
func (c ResultCode) Severe() bool {
	return c == CodeSaveRecordFailed || c == CodeInvalidRecord
}

func (c ResultCode) String() string {
	return string(c)
}

// Result описывает исход Reconcile/Resume
// Extra содержит дополнительные поля, которые вернул колбэк отправки
type Result struct {
	Code  ResultCode
	Extra map[string]any
	Err   error
}

// OK возвращает true, если заказ подтверждён бэкендом
func (r Result) OK() bool {
	return r.Code == CodeOK
}

var (
	// ErrProductIDRequired возвращается, когда не указан productID
	ErrProductIDRequired = errors.New("product id is required")
	// ErrProductFetch возвращается, когда провайдер не вернул товар
	ErrProductFetch = errors.New("failed to fetch product")
	// ErrPayment возвращается при ошибке оплаты у провайдера
	ErrPayment = errors.New("payment failed")
	// ErrUserCancelled возвращается, когда пользователь отказался от оплаты
	ErrUserCancelled = errors.New("payment cancelled by user")
	// ErrStorageUnavailable возвращается, когда хранилище для восстановления покупки недоступно
	ErrStorageUnavailable = errors.New("recovery storage is unavailable")
	// ErrInvalidRecord возвращается, когда сохранённая запись повреждена
	ErrInvalidRecord = errors.New("invalid pending record")
	// ErrSubmitRejected возвращается, когда бэкенд ответил кодом, отличным от RC_OK
	ErrSubmitRejected = errors.New("submission rejected")
	// ErrSubmitRequired возвращается, когда колбэк отправки не передан
	ErrSubmitRequired = errors.New("submit callback is required")
	// ErrRecordSave возвращается, когда не удалось сохранить запись об оплате
	ErrRecordSave = errors.New("failed to save pending record")
)

// SubmitError - ошибка колбэка отправки, несущая код результата
type SubmitError struct {
	Code ResultCode
	Err  error
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("submit failed: %s", e.Code)
	}
	return fmt.Sprintf("submit failed: %s: %v", e.Code, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// ResultCode возвращает код, который несёт ошибка
func (e *SubmitError) ResultCode() ResultCode {
	return e.Code
}

// codeFromError достаёт код из ошибки колбэка, если он там есть
func codeFromError(err error) ResultCode {
	var coded interface{ ResultCode() ResultCode }
	if errors.As(err, &coded) {
		return coded.ResultCode()
	}
	return ""
}

func firstCode(codes ...ResultCode) ResultCode {
	for _, c := range codes {
		if c != "" {
			return c
		}
	}
	return ""
}
