package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/platform/observability"
)

const instrumentationName = "github.com/shestoi/GoBigTech/iap/internal/service"

// Options содержит зависимости Service
// Provider и Store обязательны, остальные поля опциональны
type Options struct {
	Provider        PaymentProvider
	Store           repository.RecordStore
	Prompter        Prompter
	RecoveryStorage RecoveryStorage
	Login           LoginFunc
	Escalator       Escalator
	Logger          *zap.Logger

	// ProviderTimeout ограничивает ListProducts и PurchaseProduct, 0 - без ограничения
	ProviderTimeout time.Duration
	// SubmitTimeout ограничивает колбэк отправки, 0 - без ограничения
	SubmitTimeout time.Duration
}

// Service сверяет оплату у провайдера с подтверждением заказа на бэкенде
// Гарантирует, что успешная оплата либо подтверждена бэкендом, либо сохранена в RecordStore
type Service struct {
	store         repository.RecordStore
	catalog       *Catalog
	gate          *Gate
	escalator     Escalator
	locks         *KeyLock
	logger        *zap.Logger
	submitTimeout time.Duration

	tracer  trace.Tracer
	results metric.Int64Counter
}

// NewService создаёт новый экземпляр Service
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	results, err := otel.Meter(instrumentationName).Int64Counter("iap.reconcile.results",
		metric.WithDescription("Purchase reconciliation outcomes by result code"),
	)
	if err != nil {
		logger.Warn("failed to create results counter, metrics disabled", zap.Error(err))
		results, _ = metricnoop.Meter{}.Int64Counter("iap.reconcile.results")
	}

	return &Service{
		store:         opts.Store,
		catalog:       NewCatalog(opts.Provider, logger, opts.ProviderTimeout),
		gate:          NewGate(opts.Provider, opts.Prompter, opts.RecoveryStorage, opts.Login, logger, opts.ProviderTimeout),
		escalator:     opts.Escalator,
		locks:         NewKeyLock(),
		logger:        logger,
		submitTimeout: opts.SubmitTimeout,
		tracer:        otel.Tracer(instrumentationName),
		results:       results,
	}
}

// ReconcileInput содержит входные данные попытки покупки
type ReconcileInput struct {
	ProductID     string
	Authenticated bool
}

// Prepare заранее загружает товар в кеш каталога
func (s *Service) Prepare(ctx context.Context, productID string) error {
	if productID == "" {
		return ErrProductIDRequired
	}
	return s.catalog.Prepare(ctx, productID)
}

// Reconcile проводит попытку покупки товара
// Сначала пытается довести до бэкенда ранее сохранённую оплату, и только если её нет - оплачивает заново.
// Вызовы для одного товара выполняются строго по очереди
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput, submit SubmitFunc) (res Result) {
	ctx, span := s.tracer.Start(ctx, "iap.reconcile", trace.WithAttributes(
		attribute.String("iap.product_id", in.ProductID),
		attribute.Bool("iap.authenticated", in.Authenticated),
	))
	logger := observability.L(ctx, s.logger).With(
		zap.String("product_id", in.ProductID),
		zap.Bool("authenticated", in.Authenticated),
	)
	defer func() { s.finish(ctx, span, logger, "reconcile", res) }()

	if in.ProductID == "" {
		return Result{Code: CodeGetProductFailed, Err: ErrProductIDRequired}
	}

	unlock, err := s.locks.Lock(ctx, in.ProductID)
	if err != nil {
		return Result{Code: CodePurchaseFailed, Err: fmt.Errorf("wait for product lock: %w", err)}
	}
	defer unlock()

	// 1. Незавершённая покупка имеет приоритет над новой оплатой
	rec, found, err := s.loadRecord(ctx, logger, in.ProductID)
	if err != nil {
		return Result{Code: CodeInvalidRecord, Err: err}
	}
	if found {
		if !in.Authenticated {
			logger.Info("pending record exists, waiting for login")
			return Result{Code: CodeDidSaveRecord}
		}
		return s.submitRecord(ctx, logger, rec, submit)
	}

	// 2. Новая покупка
	return s.purchase(ctx, logger, in, submit)
}

// Resume повторно отправляет ранее сохранённую оплату от имени авторизованного пользователя
// Никогда не проводит новую оплату: без записи возвращает CodeNoPendingRecord
func (s *Service) Resume(ctx context.Context, productID string, submit SubmitFunc) (res Result) {
	ctx, span := s.tracer.Start(ctx, "iap.resume", trace.WithAttributes(
		attribute.String("iap.product_id", productID),
	))
	logger := observability.L(ctx, s.logger).With(zap.String("product_id", productID))
	defer func() { s.finish(ctx, span, logger, "resume", res) }()

	if productID == "" {
		return Result{Code: CodeNoPendingRecord, Err: ErrProductIDRequired}
	}

	unlock, err := s.locks.Lock(ctx, productID)
	if err != nil {
		return Result{Code: CodeCallbackFailed, Err: fmt.Errorf("wait for product lock: %w", err)}
	}
	defer unlock()

	rec, found, err := s.loadRecord(ctx, logger, productID)
	if err != nil {
		return Result{Code: CodeInvalidRecord, Err: err}
	}
	if !found {
		return Result{Code: CodeNoPendingRecord}
	}

	return s.submitRecord(ctx, logger, rec, submit)
}

// loadRecord читает сохранённую запись
// Ошибки хранилища не фатальны: логируем и считаем, что записи нет.
// Фатальна только повреждённая запись
func (s *Service) loadRecord(ctx context.Context, logger *zap.Logger, productID string) (repository.PendingRecord, bool, error) {
	rec, err := s.store.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.PendingRecord{}, false, nil
		}
		if errors.Is(err, repository.ErrCorruptRecord) {
			logger.Error("pending record is corrupt", zap.Error(err))
			return repository.PendingRecord{}, false, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		logger.Error("failed to get pending record, continuing without it", zap.Error(err))
		return repository.PendingRecord{}, false, nil
	}

	if err := rec.Validate(productID); err != nil {
		logger.Error("pending record is invalid", zap.Error(err))
		return repository.PendingRecord{}, false, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	return rec, true, nil
}

// submitRecord отправляет сохранённую оплату и удаляет запись только после RC_OK
func (s *Service) submitRecord(ctx context.Context, logger *zap.Logger, rec repository.PendingRecord, submit SubmitFunc) Result {
	logger = logger.With(zap.String("transaction_id", rec.Receipt.TransactionID), zap.Bool("is_restored", true))

	sub, err := s.callSubmit(ctx, submit, SubmitRequest{
		Product:    rec.Product,
		Receipt:    rec.Receipt,
		IsRestored: true,
	})
	if err != nil {
		logger.Error("submit of pending record failed, record kept", zap.Error(err))
		return Result{Code: CodeCallbackFailed, Err: err}
	}
	if sub.Code != CodeOK {
		logger.Warn("submit of pending record rejected, record kept", zap.Stringer("submit_code", sub.Code))
		return Result{Code: CodeCallbackFailed, Err: fmt.Errorf("%w: %s", ErrSubmitRejected, sub.Code)}
	}

	// Заказ подтверждён: ошибка удаления не меняет результат, повторная отправка идемпотентна
	// Удаление не отменяется вместе с вызывающим, иначе запись уйдёт на повторную отправку
	if err := s.store.Remove(context.WithoutCancel(ctx), rec.Product.ID); err != nil {
		logger.Error("failed to remove confirmed pending record", zap.Error(err))
	}

	return Result{Code: sub.Code, Extra: sub.Extra}
}

// purchase проводит новую оплату и сохраняет запись, если бэкенд её не подтвердил
func (s *Service) purchase(ctx context.Context, logger *zap.Logger, in ReconcileInput, submit SubmitFunc) Result {
	// Без колбэка авторизованная оплата не может быть подтверждена: не списываем деньги
	if in.Authenticated && submit == nil {
		return Result{Code: CodeCallbackFailed, Err: ErrSubmitRequired}
	}

	product, err := s.catalog.Get(ctx, in.ProductID)
	if err != nil {
		return Result{Code: CodeGetProductFailed, Err: err}
	}

	receipt, err := s.gate.Pay(ctx, in.ProductID, in.Authenticated, true)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserCancelled):
			return Result{Code: CodeUserCancelled, Err: err}
		case errors.Is(err, ErrStorageUnavailable):
			return Result{Code: CodeStorageUnavailable, Err: err}
		default:
			return Result{Code: CodePurchaseFailed, Err: err}
		}
	}
	if receipt.IsEmpty() {
		logger.Error("provider returned empty receipt")
		return Result{Code: CodePurchaseFailed, Err: fmt.Errorf("%w: empty receipt", ErrPayment)}
	}

	logger = logger.With(zap.String("transaction_id", receipt.TransactionID))
	logger.Info("payment completed")

	// С этого момента деньги списаны: результат - либо RC_OK, либо сохранённая запись
	var sub SubmitResult
	var submitErr error
	var errorCode ResultCode
	if in.Authenticated {
		sub, submitErr = s.callSubmit(ctx, submit, SubmitRequest{
			Product:    product,
			Receipt:    receipt,
			IsRestored: false,
		})
		if submitErr != nil {
			logger.Error("submit failed", zap.Error(submitErr))
			sub = SubmitResult{}
			errorCode = codeFromError(submitErr)
		} else if sub.Code == CodeOK {
			return Result{Code: sub.Code, Extra: sub.Extra}
		}
	}

	rec := repository.PendingRecord{
		Product: product,
		Receipt: receipt,
		SavedAt: time.Now().UTC(),
	}
	// Отмена вызывающего не должна помешать сохранить уже оплаченную покупку
	if err := s.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to save pending record, paid purchase is unrecorded",
			zap.Error(err),
			zap.Stringer("submit_code", firstCode(sub.Code, errorCode)),
			zap.String("receipt_payload", receipt.Payload),
		)
		s.escalate(ctx, logger, rec, firstCode(sub.Code, errorCode), err)
		return Result{Code: CodeSaveRecordFailed, Err: fmt.Errorf("%w: %w", ErrRecordSave, err)}
	}

	if !in.Authenticated {
		logger.Info("pending record saved until login")
		return Result{Code: CodeDidSaveRecord, Extra: sub.Extra}
	}

	code := firstCode(sub.Code, errorCode, CodeCallbackFailed)
	logger.Warn("submit not confirmed, pending record saved", zap.Stringer("submit_code", code))
	return Result{Code: code, Extra: sub.Extra, Err: submitErr}
}

// callSubmit вызывает колбэк отправки с таймаутом
// Паника колбэка превращается в ошибку, чтобы оплата всё равно была сохранена
func (s *Service) callSubmit(ctx context.Context, submit SubmitFunc, req SubmitRequest) (res SubmitResult, err error) {
	if submit == nil {
		return SubmitResult{}, ErrSubmitRequired
	}

	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = SubmitResult{}
			err = fmt.Errorf("submit panicked: %v", r)
		}
	}()

	return submit(ctx, req)
}

func (s *Service) escalate(ctx context.Context, logger *zap.Logger, rec repository.PendingRecord, submitCode ResultCode, cause error) {
	if s.escalator == nil {
		return
	}

	err := s.escalator.EscalateUnrecorded(context.WithoutCancel(ctx), UnrecordedPurchase{
		Product:    rec.Product,
		Receipt:    rec.Receipt,
		SubmitCode: submitCode,
		Reason:     cause.Error(),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Error("failed to escalate unrecorded purchase", zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, logger *zap.Logger, operation string, res Result) {
	defer span.End()

	span.SetAttributes(attribute.String("iap.result_code", res.Code.String()))
	s.results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("code", res.Code.String()),
	))

	fields := []zap.Field{zap.String("operation", operation), zap.Stringer("code", res.Code)}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}

	switch {
	case res.Code.Severe():
		span.SetStatus(codes.Error, res.Code.String())
		logger.Error("purchase reconciliation finished with severe outcome", fields...)
	case res.Code == CodeOK:
		logger.Info("purchase reconciliation finished", fields...)
	default:
		logger.Warn("purchase reconciliation finished", fields...)
	}
}
