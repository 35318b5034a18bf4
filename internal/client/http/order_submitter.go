package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/authctx"
	"github.com/shestoi/GoBigTech/iap/internal/repository"
	"github.com/shestoi/GoBigTech/iap/internal/service"
)

// CodeNetwork - заказ не дошёл до бэкенда (таймаут, обрыв соединения)
const CodeNetwork service.ResultCode = "RC_NETWORK"

const ordersPath = "/iap/orders"

// ErrNoSession возвращается, когда нет ни session_id пользователя, ни сервисного
var ErrNoSession = errors.New("session id is required to submit order")

// OrderSubmitter отправляет оплаченные покупки в Order API
// Submit совместим с service.SubmitFunc
type OrderSubmitter struct {
	client    *resty.Client
	sessionID string
	logger    *zap.Logger
}

// NewOrderSubmitter создаёт клиент Order API
// sessionID используется, если в контексте нет session_id пользователя
func NewOrderSubmitter(baseURL, sessionID string, timeout time.Duration, logger *zap.Logger) *OrderSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &OrderSubmitter{
		client:    client,
		sessionID: sessionID,
		logger:    logger,
	}
}

type orderRequest struct {
	ProductID  string             `json:"product_id"`
	Product    repository.Product `json:"product"`
	Receipt    repository.Receipt `json:"receipt"`
	IsRestored bool               `json:"is_restored"`
}

// Submit отправляет заказ. Ответ имеет вид {"code": "...", ...дополнительные поля}
// Сетевые ошибки и 5xx возвращаются как *service.SubmitError с кодом
func (s *OrderSubmitter) Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
	sid, ok := authctx.SessionIDFromContext(ctx)
	if !ok {
		sid = s.sessionID
	}
	if sid == "" {
		return service.SubmitResult{}, &service.SubmitError{Code: service.CodeCallbackFailed, Err: ErrNoSession}
	}

	logger := s.logger.With(
		zap.String("product_id", req.Product.ID),
		zap.String("transaction_id", req.Receipt.TransactionID),
		zap.Bool("is_restored", req.IsRestored),
	)

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("x-session-id", sid).
		SetBody(orderRequest{
			ProductID:  req.Product.ID,
			Product:    req.Product,
			Receipt:    req.Receipt,
			IsRestored: req.IsRestored,
		}).
		Post(ordersPath)
	if err != nil {
		logger.Warn("order api unreachable", zap.Error(err))
		return service.SubmitResult{}, &service.SubmitError{Code: CodeNetwork, Err: err}
	}

	status := resp.StatusCode()
	if status >= http.StatusInternalServerError {
		logger.Warn("order api server error", zap.Int("status", status))
		return service.SubmitResult{}, &service.SubmitError{
			Code: service.CodeCallbackFailed,
			Err:  fmt.Errorf("order api returned status %d", status),
		}
	}

	extra := map[string]any{}
	if body := resp.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &extra); err != nil {
			logger.Error("failed to decode order api response", zap.Error(err), zap.Int("status", status))
			return service.SubmitResult{}, &service.SubmitError{
				Code: service.CodeCallbackFailed,
				Err:  fmt.Errorf("decode order api response: %w", err),
			}
		}
	}

	code, _ := extra["code"].(string)
	delete(extra, "code")

	// Подтверждением считается только явный строковый code в теле, статус 2xx сам по себе ничего не значит
	result := service.SubmitResult{Code: service.ResultCode(code), Extra: extra}
	if result.Code == "" {
		result.Code = service.CodeCallbackFailed
	}

	logger.Info("order submitted", zap.Int("status", status), zap.Stringer("code", result.Code))
	return result, nil
}
