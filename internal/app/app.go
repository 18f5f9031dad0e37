package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sahelpay/sahelpay/internal/api"
	"github.com/sahelpay/sahelpay/internal/api/middleware"
	"github.com/sahelpay/sahelpay/internal/config"
	"github.com/sahelpay/sahelpay/internal/db"
	"github.com/sahelpay/sahelpay/internal/gateway"
	"github.com/sahelpay/sahelpay/internal/idempotency"
	"github.com/sahelpay/sahelpay/internal/ledger"
	"github.com/sahelpay/sahelpay/internal/notification"
	"github.com/sahelpay/sahelpay/internal/observability"
	"github.com/sahelpay/sahelpay/internal/reference"
	"github.com/sahelpay/sahelpay/internal/service"
	"github.com/sahelpay/sahelpay/internal/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Run boots the service: config, logging, storage, workers and the HTTP
// server. It blocks until SIGINT/SIGTERM and then shuts down gracefully.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	idemStore := idempotency.NewStore(rdb, idempotency.NewPostgresKeys(pool), cfg.IdempotencyTTL)

	gw := gateway.NewMock()
	gw.FailureRate = cfg.GatewayFailureRate

	deps := &service.Deps{
		Store:    ledger.NewPostgres(pool),
		Refs:     reference.New(),
		Fees:     cfg.FeeSchedule(),
		Gateway:  gw,
		Notifier: notification.NewLogNotifier(),
		Policy:   cfg.Policy(),
	}

	expiryWorker := worker.NewCashOutExpiryWorker(service.NewCashService(deps)).
		WithPollInterval(cfg.ExpiryPollInterval).
		WithBatchSize(cfg.ExpiryBatchSize)
	stopExpiry := expiryWorker.Run(ctx)
	defer stopExpiry()

	reconWorker := worker.NewReconciliationWorker(service.NewReconciliationService(deps)).
		WithInterval(cfg.ReconciliationInterval)
	stopRecon := reconWorker.Run(ctx)
	defer stopRecon()

	router := api.NewRouter(deps, pool, rdb, idemStore, logger, cfg.PublicRateLimitRPS, cfg.AuthRateLimitRPS)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
