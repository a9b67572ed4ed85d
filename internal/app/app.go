package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/seller-ledger/internal/api"
	"github.com/ayo6706/seller-ledger/internal/api/handler"
	"github.com/ayo6706/seller-ledger/internal/config"
	"github.com/ayo6706/seller-ledger/internal/db"
	"github.com/ayo6706/seller-ledger/internal/idempotency"
	"github.com/ayo6706/seller-ledger/internal/observability"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/ayo6706/seller-ledger/internal/repository/memory"
	"github.com/ayo6706/seller-ledger/internal/service"
	"github.com/ayo6706/seller-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until ctx
// is cancelled or the server fails.
func Run(ctx context.Context) error {
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

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, pinger, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisCmd redis.Cmdable
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		redisCmd = redisClient
	} else {
		logger.Info("REDIS_URL not set, idempotency cache disabled")
	}

	idemStore := idempotency.NewStore(redisCmd, store, cfg.IdempotencyTTL)

	ledgerSvc := service.NewLedgerService(store, service.RetryPolicy{
		MaxAttempts:    cfg.LedgerMaxAttempts,
		InitialBackoff: cfg.LedgerBackoff,
	})
	withdrawalSvc := service.NewWithdrawalService(store, ledgerSvc, service.WithdrawalConfig{
		CommissionRatePercent: cfg.CommissionRatePercent,
		MinWithdrawal:         cfg.MinWithdrawal,
	})
	orderSvc := service.NewOrderService(store, ledgerSvc, service.RetryPolicy{
		MaxAttempts:    cfg.SyncMaxAttempts,
		InitialBackoff: cfg.SyncBackoff,
		MaximumBackoff: cfg.SyncMaxBackoff,
	})
	intakeSvc := service.NewIntakeService(store, cfg.IntakeHMACKey, cfg.IntakeSkipSignature)
	if cfg.IntakeSkipSignature {
		logger.Warn("intake signature verification disabled")
	}

	repairWorker := worker.NewRepairWorker(orderSvc).
		WithPollInterval(cfg.RepairInterval).
		WithBatchSize(cfg.RepairBatchSize)
	stopRepair := repairWorker.Run(ctx)
	logger.Info("repair worker started", zap.Stringer("worker", repairWorker))

	reconciliationWorker := worker.NewReconciliationWorker(service.NewReconciliationService(store)).
		WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, pinger, idemStore, redisCmd, api.Services{
		Ledger:      ledgerSvc,
		Withdrawals: withdrawalSvc,
		Orders:      orderSvc,
		Intake:      intakeSvc,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("storage", cfg.StorageDriver))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopRepair()
			stopReconciliation()
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopRepair()
	stopReconciliation()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// openStorage returns the configured backend. The in-memory store has nothing
// to ping, so its pinger is nil.
func openStorage(ctx context.Context, cfg *config.Config) (service.QueryStore, handler.Pinger, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		zap.L().Warn("using in-memory storage: not for production, writes copy the full state and data is lost on restart")
		return memory.NewStore(), nil, func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	store := repository.NewStore(pool)
	return store, store, pool.Close, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
