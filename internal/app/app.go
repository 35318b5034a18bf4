package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	httpapi "github.com/shestoi/GoBigTech/iap/internal/api/http"
	httpclient "github.com/shestoi/GoBigTech/iap/internal/client/http"
	"github.com/shestoi/GoBigTech/iap/internal/config"
	"github.com/shestoi/GoBigTech/iap/internal/dispatcher"
	kafkaevent "github.com/shestoi/GoBigTech/iap/internal/event/kafka"
	"github.com/shestoi/GoBigTech/iap/internal/service"
	platformhealthgrpc "github.com/shestoi/GoBigTech/iap/platform/health/grpc"
	platformhealth "github.com/shestoi/GoBigTech/iap/platform/health/http"
	platformlogging "github.com/shestoi/GoBigTech/iap/platform/logging"
	platformobservability "github.com/shestoi/GoBigTech/iap/platform/observability"
	platformshutdown "github.com/shestoi/GoBigTech/iap/platform/shutdown"
)

const serviceName = "iap-resumer"

// App содержит все зависимости для запуска и корректного shutdown IAP resumer
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	grpcServer  *grpc.Server
	listener    net.Listener
	health      *platformhealthgrpc.Health
	dispatcher  *dispatcher.ResumeDispatcher
	storePing   func(context.Context) error
	workerCtx   context.Context
	workerDone  chan struct{}
	shutdownMgr *platformshutdown.Manager
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости IAP resumer
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"
	ctx := context.Background()

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: serviceName,
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building IAP resumer", zap.String("http_addr", cfg.HTTPAddr))
	cfg.Log(logger)

	otelShutdown, err := platformobservability.Init(ctx, platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           serviceName,
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции в обратном порядке выполнения
	shutdownMgr.Add("otel", otelShutdown)

	// abort освобождает уже открытые ресурсы, если сборка не удалась
	abort := func(err error) (*App, error) {
		return nil, errors.Join(err, shutdownMgr.Shutdown())
	}

	store, err := openStore(ctx, cfg, logger, shutdownMgr)
	if err != nil {
		return abort(err)
	}

	var escalator service.Escalator
	if cfg.EscalationEnabled {
		publisher := kafkaevent.NewEscalationPublisher(logger, cfg.Kafka)
		shutdownMgr.Add("kafka_writer", platformshutdown.Close(publisher))
		escalator = publisher
		logger.Info("Escalation publisher configured",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.EscalationTopic),
		)
	} else {
		escalator = kafkaevent.NewNopEscalator(logger)
	}

	iapService := service.NewService(service.Options{
		Provider:        unavailableProvider{},
		Store:           store,
		Escalator:       escalator,
		Logger:          logger,
		ProviderTimeout: cfg.ProviderTimeout,
		SubmitTimeout:   cfg.SubmitTimeout,
	})

	submitter := httpclient.NewOrderSubmitter(cfg.OrderAPIURL, cfg.OrderSessionID, cfg.SubmitTimeout, logger)

	resumeDispatcher := dispatcher.NewResumeDispatcher(
		logger,
		store,
		iapService,
		submitter.Submit,
		cfg.ResumeBatchSize,
		cfg.ResumeInterval,
	).WithRateLimit(cfg.ResumeRateLimit)

	// gRPC health: NOT_SERVING, пока хранилище не ответит на ping
	listener, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return abort(err)
	}

	grpcServer := grpc.NewServer()
	health := platformhealthgrpc.New(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	health.Register(grpcServer)
	logger.Info("Health check initialized with NOT_SERVING status", zap.String("addr", cfg.GRPCHealthAddr))

	shutdownMgr.Add("grpc_server", platformshutdown.ShutdownGRPCServer(grpcServer))
	shutdownMgr.Add("health_readiness", platformshutdown.SetHealthNotServing(health))

	// Dispatcher и health watcher живут в workerCtx и останавливаются до закрытия хранилища
	workerCtx, workerCancel := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	shutdownMgr.Add("resume_dispatcher", platformshutdown.StopWorker(workerCancel, workerDone))

	handler := httpapi.NewHandler(store, iapService, submitter.Submit, resumeDispatcher, logger)
	router := httpapi.NewRouter(handler, logger, platformhealth.Check{Name: "store", Probe: store.Ping})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.SubmitTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		grpcServer:  grpcServer,
		listener:    listener,
		health:      health,
		dispatcher:  resumeDispatcher,
		storePing:   store.Ping,
		workerCtx:   workerCtx,
		workerDone:  workerDone,
		shutdownMgr: shutdownMgr,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting IAP resumer", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.grpcServer.Serve(a.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.health.Watch(a.workerCtx, 10*time.Second, a.storePing, a.logger)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.workerDone)
		if err := a.dispatcher.Start(a.workerCtx); err != nil {
			a.logger.Error("Resume dispatcher stopped with error", zap.Error(err))
		}
	}()

	err := a.shutdownMgr.Wait(context.Background())

	a.wg.Wait()
	a.logger.Info("IAP resumer stopped")
	return err
}
