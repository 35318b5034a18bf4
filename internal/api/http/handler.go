package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/dispatcher"
	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/internal/service"
	platformobservability "github.com/shestoi/GoBigTech/iap/platform/observability"
)

const defaultListLimit = 100

// Resumer повторно отправляет сохранённую покупку
type Resumer interface {
	Resume(ctx context.Context, productID string, submit service.SubmitFunc) service.Result
}

// DispatchRunner выполняет один проход dispatcher вне расписания
type DispatchRunner interface {
	RunOnce(ctx context.Context) (dispatcher.Summary, error)
}

// Handler содержит admin HTTP-обработчики
type Handler struct {
	store   repository.RecordStore
	resumer Resumer
	submit  service.SubmitFunc
	runner  DispatchRunner
	logger  *zap.Logger
}

// NewHandler создаёт новый HTTP handler. runner может быть nil: /dispatch/run вернёт 503
func NewHandler(store repository.RecordStore, resumer Resumer, submit service.SubmitFunc, runner DispatchRunner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   store,
		resumer: resumer,
		submit:  submit,
		runner:  runner,
		logger:  logger,
	}
}

// PendingItem - неподтверждённая покупка в ответе. Payload чека не отдаём
type PendingItem struct {
	ProductID     string    `json:"product_id"`
	Title         string    `json:"title,omitempty"`
	Price         int64     `json:"price"`
	Currency      string    `json:"currency,omitempty"`
	TransactionID string    `json:"transaction_id"`
	SavedAt       time.Time `json:"saved_at"`
}

// ResumeResponse - результат ручного Resume
type ResumeResponse struct {
	ProductID string             `json:"product_id"`
	Code      service.ResultCode `json:"code"`
	Extra     map[string]any     `json:"extra,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// ListPending обрабатывает GET /pending?limit=N
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.L(ctx, h.logger)

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.store.List(ctx, limit)
	if err != nil {
		logger.Error("failed to list pending records", zap.Error(err))
		http.Error(w, "failed to list pending records", http.StatusServiceUnavailable)
		return
	}

	items := make([]PendingItem, 0, len(records))
	for _, rec := range records {
		items = append(items, PendingItem{
			ProductID:     rec.Product.ID,
			Title:         rec.Product.Title,
			Price:         rec.Product.Price,
			Currency:      rec.Product.Currency,
			TransactionID: rec.Receipt.TransactionID,
			SavedAt:       rec.SavedAt,
		})
	}

	writeJSON(w, logger, http.StatusOK, items)
}

// ResumePending обрабатывает POST /pending/{productID}/resume
func (h *Handler) ResumePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.L(ctx, h.logger)
	productID := chi.URLParam(r, "productID")

	res := h.resumer.Resume(ctx, productID, h.submit)

	resp := ResumeResponse{
		ProductID: productID,
		Code:      res.Code,
		Extra:     res.Extra,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	writeJSON(w, logger, resumeStatus(res), resp)
}

// RunDispatch обрабатывает POST /dispatch/run
func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.L(ctx, h.logger)

	if h.runner == nil {
		http.Error(w, "dispatcher is disabled", http.StatusServiceUnavailable)
		return
	}

	summary, err := h.runner.RunOnce(ctx)
	if err != nil {
		logger.Error("manual dispatch failed", zap.Error(err))
		http.Error(w, "dispatch failed", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, logger, http.StatusOK, summary)
}

func resumeStatus(res service.Result) int {
	switch {
	case res.OK():
		return http.StatusOK
	case res.Code == service.CodeNoPendingRecord && errors.Is(res.Err, service.ErrProductIDRequired):
		return http.StatusBadRequest
	case res.Code == service.CodeNoPendingRecord:
		return http.StatusNotFound
	case res.Code == service.CodeInvalidRecord:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}
