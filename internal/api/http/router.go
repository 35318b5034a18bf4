package httpapi

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/api/http/middleware"
	platformhealth "github.com/shestoi/GoBigTech/iap/platform/health/http"
	platformobservability "github.com/shestoi/GoBigTech/iap/platform/observability"
)

const healthTimeout = 2 * time.Second

// NewRouter создаёт admin роутер IAP resumer
// checks - проверки readiness для /health (например, ping хранилища)
// logger == nil отключает observability middleware
func NewRouter(handler *Handler, logger *zap.Logger, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("iap-resumer", logger))
	}

	router.Route("/pending", func(r chi.Router) {
		r.Get("/", handler.ListPending)
		r.With(middleware.WithSessionID).Post("/{productID}/resume", handler.ResumePending)
	})
	router.Post("/dispatch/run", handler.RunDispatch)

	router.Get("/health", platformhealth.Handler(healthTimeout, checks...))

	return router
}
