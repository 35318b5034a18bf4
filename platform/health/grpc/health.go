package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Health представляет обёртку над стандартным gRPC health service.
// Позволяет управлять статусом readiness для сервиса
type Health struct {
	srv *health.Server
}

// New создаёт новый экземпляр Health с указанным начальным статусом.
// Для readiness используем NOT_SERVING, пока не проверены зависимости
func New(initialStatus grpc_health_v1.HealthCheckResponse_ServingStatus) *Health {
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", initialStatus)
	return &Health{srv: healthServer}
}

// Register регистрирует health service на gRPC сервере.
// Должно вызываться до grpcSrv.Serve
func (h *Health) Register(grpcSrv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcSrv, h.srv)
}

// SetServing устанавливает статус SERVING. Пустой serviceName - статус всего сервера
func (h *Health) SetServing(serviceName string) {
	h.srv.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetNotServing устанавливает статус NOT_SERVING. Пустой serviceName - статус всего сервера
func (h *Health) SetNotServing(serviceName string) {
	h.srv.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Status возвращает текущий статус serviceName
func (h *Health) Status(ctx context.Context, serviceName string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	resp, err := h.srv.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.GetStatus()
}

// Watch периодически вызывает probe и переключает общий статус сервера.
// Первая проверка выполняется сразу. Блокируется до отмены ctx
func (h *Health) Watch(ctx context.Context, interval time.Duration, probe func(context.Context) error, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	serving := false
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		err := probe(probeCtx)
		switch {
		case err == nil && !serving:
			h.SetServing("")
			logger.Info("Readiness status set to SERVING")
		case err != nil && serving:
			h.SetNotServing("")
			logger.Warn("Readiness status set to NOT_SERVING", zap.Error(err))
		}
		serving = err == nil
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
