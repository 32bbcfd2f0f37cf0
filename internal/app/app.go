// Package app собирает сервис заказов: хранилище, ядро, транспорты и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordercore/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/ordercore/internal/service/grpc"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
	"github.com/vladislavdragonenkov/ordercore/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordercore/internal/service/rest"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/rediscache"
	"github.com/vladislavdragonenkov/ordercore/internal/tracing"
	"github.com/vladislavdragonenkov/ordercore/internal/version"
)

const (
	grpcStopTimeout    = 5 * time.Second
	workerStopTimeout  = 5 * time.Second
	tracingStopTimeout = 5 * time.Second
)

// Run поднимает gRPC, REST и metrics серверы и блокируется до отмены ctx или падения gRPC.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:     cfg.TracingExporter,
		ServiceName:  cfg.ServiceName,
		Version:      version.GetVersion(),
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: true,
	}, logger.WithField("layer", "tracing"))
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), tracingStopTimeout)
		defer cancel()
		if err := shutdownTracing(stopCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.store.Outbox(), cfg.OutboxMaxPending))

	serviceOptions := []orders.Option{
		orders.WithLogger(logger.WithField("layer", "orders")),
		orders.WithMetrics(metrics.NewOrderMetrics()),
	}
	if cfg.RedisAddr != "" {
		redisClient := rediscache.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		cache := rediscache.New(redisClient, rediscache.Options{TTL: cfg.CacheTTL})
		serviceOptions = append(serviceOptions, orders.WithCache(cache))
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", cache.Ping))
		logger.WithField("addr", cfg.RedisAddr).Info("order cache enabled")
	}
	api := orders.NewTracedAPI(orders.NewService(deps.store, serviceOptions...), nil)
	runner := idempotency.NewRunner(deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithRunnerLogger(logger.WithField("layer", "idempotency")),
	)

	bus := connectKafka(cfg.KafkaBrokers, logger)
	if bus.configured() {
		healthHandler.RegisterChecker("kafka", bus.checker())
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := startWorkers(workerCtx, cfg, deps, bus.producer, logger)

	grpcServer, healthServer := newGRPCServer(grpcsvc.NewOrderService(api, runner, logger.WithField("layer", "grpc")), logger)

	var restSrv, metricsSrv *http.Server
	stopAll := func() {
		shutdownHTTP(restSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		shutdownWorkers(cancelWorkers, workersDone, logger)
		bus.close(logger)
	}

	restSrv, err = startRESTServer(ctx, cfg.HTTPAddr, rest.NewRouter(api, deps.store.Products(),
		rest.WithLogger(logger.WithField("layer", "rest")),
		rest.WithIdempotency(runner),
		rest.WithServiceName(cfg.ServiceName),
	), logger)
	if err != nil {
		stopAll()
		return err
	}
	metricsSrv, err = startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	if err != nil {
		stopAll()
		return err
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopAll()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		stopAll()
		return ctx.Err()
	case err := <-errCh:
		stopAll()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer собирает gRPC-сервер с метриками, health и reflection.
func newGRPCServer(service grpcsvc.OrderServiceServer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderServiceServer(server, service)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startWorkers запускает outbox и cleanup воркеры; канал закрывается, когда оба завершились.
func startWorkers(ctx context.Context, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) <-chan struct{} {
	var publisher, dlqPublisher *kafka.OutboxTopicPublisher
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		dlqPublisher = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
	} else {
		logger.Warn("kafka is not configured, outbox events stay pending")
	}

	outboxOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	var outboxWorker *outbox.Worker
	if publisher != nil {
		outboxOptions = append(outboxOptions, outbox.WithDLQPublisher(dlqPublisher))
		outboxWorker = outbox.NewWorker(deps.store.Outbox(), publisher, outboxOptions...)
	}

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	var wg sync.WaitGroup
	if outboxWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outboxWorker.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupWorker.Run(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// shutdownWorkers отменяет контекст воркеров и ждёт их завершения не дольше workerStopTimeout.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(workerStopTimeout):
		logger.Warn("background workers did not stop in time")
	}
}
