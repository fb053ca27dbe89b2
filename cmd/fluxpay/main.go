// FluxPay Engine — мультиарендный платёжный движок.
// Один бинарник поднимает HTTP API, Outbox Publisher, шлюз
// идемпотентности и оркестратор саг с восстановлением при старте.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"example.com/fluxpay/internal/handler"
	"example.com/fluxpay/internal/idempotency"
	"example.com/fluxpay/internal/outbox"
	"example.com/fluxpay/internal/pg"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/internal/service"
	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/db"
	"example.com/fluxpay/pkg/healthcheck"
	"example.com/fluxpay/pkg/kafka"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
	"example.com/fluxpay/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		logger.Error().Err(err).Msg("Фатальная ошибка запуска")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("конфигурация: %w", err)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", cfg.App.Name).Logger()
	log.Info().Str("env", cfg.App.Env).Msg("Запуск FluxPay Engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.App.Name,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		return fmt.Errorf("трассировка: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Ошибка остановки трейсера")
		}
	}()

	// Хранилища
	gormDB, err := db.ConnectPostgres(cfg.Postgres, cfg.IsDevelopment())
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	redisClient := db.ConnectRedis(cfg.Redis)
	defer func() { _ = redisClient.Close() }()

	producer, err := kafka.NewProducer(kafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	})
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	defer func() { _ = producer.Close() }()

	// Репозитории и сервисы
	txm := repository.NewTxManager(gormDB)
	orderRepo := repository.NewOrderRepository()
	paymentRepo := repository.NewPaymentRepository()
	refundRepo := repository.NewRefundRepository()

	outboxWriter := outbox.NewWriter()
	gateway := pg.NewClient(cfg.PG)

	sagaRepo := saga.NewRepository(gormDB)
	orchestrator := saga.NewOrchestrator(sagaRepo, cfg.Saga)

	orderSvc := service.NewOrderService(txm, orderRepo, outboxWriter)
	paymentSvc := service.NewPaymentService(txm, orderRepo, paymentRepo, gateway, outboxWriter, orchestrator)
	refundSvc := service.NewRefundService(txm, paymentRepo, refundRepo, gateway, outboxWriter)

	paymentSaga, err := service.NewPaymentSagaDefinition(orderSvc, paymentSvc)
	if err != nil {
		return fmt.Errorf("объявление саги платежа: %w", err)
	}
	orchestrator.Register(paymentSaga)

	// Шлюз идемпотентности
	idemCache := idempotency.NewCache(redisClient, cfg.Idempotency)
	idemStore := idempotency.NewStore(gormDB, cfg.Idempotency.TTL)
	gate := idempotency.NewGate(idemCache, idemStore)

	// Восстановление незавершённых саг до приёма трафика
	if cfg.Saga.Enabled {
		recovery := saga.NewRecovery(sagaRepo, orchestrator, cfg.Saga)
		if err := recovery.Run(ctx); err != nil {
			return fmt.Errorf("восстановление саг: %w", err)
		}
		go recovery.RunCleanup(ctx)
	}

	// Фоновые воркеры
	if cfg.Outbox.Enabled {
		publisher := outbox.NewPublisher(outbox.NewRepository(gormDB), producer, cfg.Outbox)
		go publisher.Run(ctx)
	}
	if cfg.Idempotency.Enabled {
		go idemStore.RunPurge(ctx, cfg.Idempotency.PurgeInterval)
	}

	// Metrics server с readiness проверками
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr(), cfg.App.Name,
			metrics.WithReadinessCheck(healthcheck.Composite(
				func(ctx context.Context) error { return healthcheck.CheckPostgres(ctx, gormDB) },
				func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, redisClient) },
			)),
		)
		go func() {
			if err := metricsSrv.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server завершился с ошибкой")
			}
		}()
	}

	// HTTP API
	router := handler.NewRouter(
		handler.NewOrderHandler(orderSvc),
		handler.NewPaymentHandler(paymentSvc),
		handler.NewRefundHandler(refundSvc),
		gate,
		cfg,
	)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("Запуск HTTP сервера")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http сервер: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Получен сигнал остановки, graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics сервера")
		}
	}

	log.Info().Msg("FluxPay Engine остановлен")
	return nil
}
