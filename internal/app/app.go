package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/credits/internal/health"
	"github.com/vladislavdragonenkov/credits/internal/httpapi"
	"github.com/vladislavdragonenkov/credits/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/credits/internal/metrics"
	"github.com/vladislavdragonenkov/credits/internal/service/credits"
	"github.com/vladislavdragonenkov/credits/internal/service/delivery"
	"github.com/vladislavdragonenkov/credits/internal/service/outbox"
	"github.com/vladislavdragonenkov/credits/internal/version"
)

const (
	shutdownTimeout       = 5 * time.Second
	outboxDrainBatches    = 10
	servingStatusInterval = 15 * time.Second
)

// Run поднимает сервис начислений и блокируется до отмены ctx или падения gRPC-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	storage, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.close(logger)

	bus, err := connectKafka(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("continuing without kafka")
	}
	defer bus.close()
	producer := bus.producer

	creditMetrics := metrics.NewCreditMetrics()
	deps, err := NewDependencies(cfg, storage, producer, creditMetrics, logger)
	if err != nil {
		return err
	}
	coordinator := deps.Coordinator
	if missing := coordinator.CheckDependencies(); len(missing) > 0 {
		logger.WithField("missing", missing).Warn("credits are disabled until required collaborators are configured")
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	relay := newOutboxRelay(cfg, storage, producer, logger)
	go relay.Run(workersCtx)

	sweeper := delivery.NewSweeper(
		storage.deliveryRepo,
		delivery.WithLogger(logger.WithField("component", "delivery-sweeper")),
		delivery.WithInterval(cfg.DeliveryCleanupInterval),
		delivery.WithBatchSize(cfg.DeliveryCleanupBatchSize),
		delivery.WithMetrics(metrics.NewDeliveryMetricsWithRegisterer(prometheus.DefaultRegisterer)),
	)
	go sweeper.Run(workersCtx)

	storefront := kafka.NewStorefrontHandler(kafka.StorefrontReplicas{
		Orders:   storage.repo,
		Products: storage.products,
		Profiles: storage.profiles,
	}, coordinator, logger.WithField("component", "storefront-events"))
	if err := bus.subscribeStorefront(workersCtx, cfg, storefront); err != nil {
		logger.WithError(err).Warn("continuing without storefront event ingestion")
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, newHealthHandler(cfg, storage, coordinator))

	router := httpapi.NewRouter(httpapi.Dependencies{
		Lifecycle:           coordinator,
		ProductCredits:      coordinator,
		Products:            storage.products,
		Deliveries:          storage.deliveryRepo,
		MissingDependencies: coordinator.CheckDependencies,
	},
		httpapi.WithLogger(logger.WithField("component", "http")),
		httpapi.WithWebhookSecret(cfg.WebhookSecret),
		httpapi.WithAdminSecret(cfg.AdminJWTSecret),
		httpapi.WithDeliveryTTL(cfg.DeliveryTTL),
	)
	apiSrv := startAPIServer(cfg.HTTPAddr, router, logger)

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	updateServingStatus(healthServer, coordinator)
	go watchServingStatus(workersCtx, healthServer, coordinator)

	shutdown := func() {
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		bus.stopIngestion()
		stopWorkers()

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		relay.Drain(drainCtx, outboxDrainBatches)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdown()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		healthServer.Shutdown()
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func newOutboxRelay(cfg Config, storage *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) *outbox.Relay {
	relayLogger := logger.WithField("component", "outbox-relay")
	opts := []outbox.Option{
		outbox.WithLogger(relayLogger),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryDelay(cfg.OutboxRetryDelay),
		outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)),
	}

	if producer == nil {
		return outbox.NewRelay(storage.outboxRepo, outbox.NewLogPublisher(relayLogger), opts...)
	}
	opts = append(opts, outbox.WithDeadLetters(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)))
	return outbox.NewRelay(storage.outboxRepo, kafka.NewOutboxPublisher(producer, cfg.KafkaCreditsTopic), opts...)
}

// newHealthHandler собирает проверки /healthz и /readyz: коллабораторы координатора,
// очередь outbox и, для postgres, доступность базы.
func newHealthHandler(cfg Config, storage *runtimeDependencies, coordinator *credits.Coordinator) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	handler.Register("collaborators", healthcheck.NewDependencyChecker(
		"collaborators", coordinator.CheckDependencies, credits.DependencyOrderStore,
	))
	handler.Register("outbox", newOutboxBacklogChecker(storage.outboxRepo, cfg.OutboxMaxPending))
	if storage.storageChecker != nil {
		handler.Register("storage", storage.storageChecker)
	}
	return handler
}

// updateServingStatus отражает обязательные коллабораторы в gRPC health.
func updateServingStatus(server *health.Server, coordinator *credits.Coordinator) {
	status := healthpb.HealthCheckResponse_SERVING
	if len(coordinator.CheckDependencies()) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	server.SetServingStatus("", status)
}

func watchServingStatus(ctx context.Context, server *health.Server, coordinator *credits.Coordinator) {
	ticker := time.NewTicker(servingStatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServingStatus(server, coordinator)
		}
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и пробы здоровья.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Mount(mux)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// startAPIServer запускает вебхуки и админские страницы.
func startAPIServer(addr string, handler http.Handler, logger *log.Entry) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		logger.Infof("HTTP API слушает %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("http api server failed")
		}
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
