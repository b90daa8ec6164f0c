// Package app собирает сервис из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/config"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// outboxMaxLag — после этого отставания outbox health отдаёт degraded.
const outboxMaxLag = time.Minute

// Run поднимает хранилище, блокировки, доставку событий, HTTP API и фоновые
// воркеры и работает до отмены ctx. Возвращает ctx.Err() после штатной остановки.
func Run(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).Info("starting checkout service")

	repos, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repos.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	if cfg.SeedDemo {
		if err := seedDemo(ctx, repos, time.Now(), logger); err != nil {
			return err
		}
	}

	coord, err := initCoordination(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer coord.close()

	deps := NewDependencies(cfg, repos, coord, metrics.NewCheckoutMetrics(), logger)

	msg, err := initMessaging(cfg, deps.Sales, logger)
	if err != nil {
		return err
	}
	defer closeKafka(msg.producer, logger)

	healthHandler := healthcheck.NewHandler(version.String())
	storageChecker := healthcheck.NewSimpleChecker(repos.driver, repos.pinger.Ping)
	if repos.driver == storagePostgres {
		storageChecker = healthcheck.NewPostgresChecker(repos.pinger)
	}
	healthHandler.RegisterChecker(repos.driver, storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(repos.outbox, outboxMaxLag))
	for name, checker := range coord.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	startWorker := func(name string, run func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(runCtx)
			logger.WithField("worker", name).Info("worker stopped")
		}()
	}

	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
	}
	if msg.dlqPublisher != nil {
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(msg.dlqPublisher))
	}
	startWorker("outbox", outbox.NewWorker(repos.outbox, msg.publisher, workerOpts...).Run)
	startWorker("sales-retention", deps.Retention.Run)

	if msg.consumer != nil {
		if err := msg.consumer.Start(runCtx); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		defer func() {
			if err := msg.consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop kafka consumer")
			}
		}()
	}

	metricsSrv := startMetricsServer(cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, cfg.ShutdownGracePeriod, logger)

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, cfg.ShutdownGracePeriod, logger)
		cancel()
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		cancel()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	}
}

func newRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return httpapi.NewRouter(deps.Handlers(), deps.Logger.WithField("component", "http"))
}

// newOpsMux собирает служебные endpoint'ы: метрики и пробы.
func newOpsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startMetricsServer запускает служебный HTTP-сервер с /metrics и пробами.
func startMetricsServer(addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newOpsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, grace time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
