package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/internal/service"
)

// Resumer повторно отправляет сохранённую покупку (реализуется service.Service)
type Resumer interface {
	Resume(ctx context.Context, productID string, submit service.SubmitFunc) service.Result
}

// Summary - итог одного прохода dispatcher
type Summary struct {
	Listed    int                        `json:"listed"`
	Confirmed int                        `json:"confirmed"`
	Failed    int                        `json:"failed"`
	Skipped   int                        `json:"skipped"`
	Deferred  int                        `json:"deferred"`
	Codes     map[service.ResultCode]int `json:"codes"`
}

// maxBackoff - верхняя граница паузы перед повторной отправкой отклонённой записи
const maxBackoff = time.Hour

// ResumeDispatcher периодически отправляет на бэкенд неподтверждённые покупки из RecordStore
// Запись удаляет сам Resume и только после RC_OK.
// Отклонённая запись откладывается с экспоненциальной паузой и не занимает место в батче,
// поэтому постоянно отклоняемые записи не блокируют более новые
type ResumeDispatcher struct {
	logger    *zap.Logger
	store     repository.RecordStore
	resumer   Resumer
	submit    service.SubmitFunc
	batchSize int
	interval  time.Duration
	limiter   *rate.Limiter
	now       func() time.Time

	mu      sync.Mutex // один проход за раз, защищает backoff
	backoff map[string]retryState
}

type retryState struct {
	failures  int
	notBefore time.Time
}

// NewResumeDispatcher создаёт новый dispatcher
func NewResumeDispatcher(
	logger *zap.Logger,
	store repository.RecordStore,
	resumer Resumer,
	submit service.SubmitFunc,
	batchSize int, // сколько записей обрабатывается за проход
	interval time.Duration, // интервал между проходами
) *ResumeDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResumeDispatcher{
		logger:    logger,
		store:     store,
		resumer:   resumer,
		submit:    submit,
		batchSize: batchSize,
		interval:  interval,
		now:       time.Now,
		backoff:   make(map[string]retryState),
	}
}

// WithRateLimit ограничивает число Resume в секунду, perSecond <= 0 снимает ограничение
func (d *ResumeDispatcher) WithRateLimit(perSecond float64) *ResumeDispatcher {
	if perSecond <= 0 {
		d.limiter = nil
		return d
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return d
}

// Start запускает dispatcher и блокируется до отмены ctx
func (d *ResumeDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting resume dispatcher",
		zap.Int("batch_size", d.batchSize),
		zap.Duration("interval", d.interval),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Первый проход сразу при старте: записи могли накопиться до перезапуска
	d.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("resume dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *ResumeDispatcher) tick(ctx context.Context) {
	summary, err := d.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("failed to process resume batch", zap.Error(err))
		}
		return
	}
	if summary.Listed > 0 {
		d.logger.Info("resume batch processed",
			zap.Int("listed", summary.Listed),
			zap.Int("confirmed", summary.Confirmed),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
	}
}

// RunOnce обрабатывает один батч неподтверждённых покупок
// Отложенные записи пропускаются и считаются в Summary.Deferred
func (d *ResumeDispatcher) RunOnce(ctx context.Context) (Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	summary := Summary{Codes: map[service.ResultCode]int{}}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	// Отложенные записи не должны вытеснять остальные: запрашиваем с запасом на них
	limit := d.batchSize + len(d.backoff)
	records, err := d.store.List(ctx, limit)
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, fmt.Errorf("failed to list pending records: %w", err)
	}
	if len(records) < limit {
		d.forgetMissing(records)
	}

	for _, rec := range records {
		if summary.Listed >= d.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		id := rec.Product.ID
		if state, ok := d.backoff[id]; ok && d.now().Before(state.notBefore) {
			summary.Deferred++
			continue
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return summary, err
			}
		}

		summary.Listed++
		res := d.resumer.Resume(ctx, id, d.submit)
		summary.Codes[res.Code]++

		switch res.Code {
		case service.CodeOK:
			summary.Confirmed++
			delete(d.backoff, id)
		case service.CodeNoPendingRecord:
			// Запись уже подтвердил параллельный Reconcile
			summary.Skipped++
			delete(d.backoff, id)
		default:
			summary.Failed++
			state := d.deferRecord(id)
			d.logger.Warn("pending purchase not confirmed",
				zap.String("product_id", id),
				zap.String("transaction_id", rec.Receipt.TransactionID),
				zap.Time("saved_at", rec.SavedAt),
				zap.Stringer("code", res.Code),
				zap.Int("failures", state.failures),
				zap.Time("next_attempt", state.notBefore),
				zap.Error(res.Err),
			)
		}
	}

	return summary, nil
}

// deferRecord откладывает запись: interval, 2*interval, 4*interval ... но не больше maxBackoff
func (d *ResumeDispatcher) deferRecord(productID string) retryState {
	state := d.backoff[productID]
	state.failures++

	delay := d.interval
	for i := 1; i < state.failures && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff && d.interval <= maxBackoff {
		delay = maxBackoff
	}

	state.notBefore = d.now().Add(delay)
	d.backoff[productID] = state
	return state
}

// forgetMissing удаляет паузы записей, которых больше нет в хранилище
// Вызывается, только когда List вернул все записи
func (d *ResumeDispatcher) forgetMissing(records []repository.PendingRecord) {
	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec.Product.ID] = struct{}{}
	}
	for id := range d.backoff {
		if _, ok := present[id]; !ok {
			delete(d.backoff, id)
		}
	}
}
