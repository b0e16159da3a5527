package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-ledger/meridian/internal/accounts"
	"github.com/meridian-ledger/meridian/internal/app"
	"github.com/meridian-ledger/meridian/internal/invbridge"
	"github.com/meridian-ledger/meridian/internal/ledger"
	"github.com/meridian-ledger/meridian/internal/observability"
	"github.com/meridian-ledger/meridian/internal/platform/cache"
	"github.com/meridian-ledger/meridian/internal/platform/db"
	"github.com/meridian-ledger/meridian/internal/shared"
	"github.com/meridian-ledger/meridian/internal/subledger"
	"github.com/meridian-ledger/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	policy := shared.NewDeletionPolicy(pool, auditLogger, map[string]bool{
		"journal_entry": cfg.LedgerAllowTransactionDelete,
	})

	rules := accounts.DefaultRules()
	if cfg.LedgerRoleRulesPath != "" {
		rules, err = accounts.LoadRules(cfg.LedgerRoleRulesPath)
		if err != nil {
			logger.Error("load role rules", slog.Any("error", err))
			os.Exit(1)
		}
	}
	roleCache := accounts.NewRoleCache(redisClient, cfg.LedgerRoleCacheTTL)
	directory := accounts.NewDirectory(accounts.NewRepository(pool), roleCache, rules, cfg.LedgerAutoBootstrap)

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), policy, auditLogger, logger)
	subledgerSvc := subledger.NewService(subledger.NewRepository(pool), directory, ledgerSvc, metrics, logger)

	stock := invbridge.NewSQLStock(pool)
	bridge := invbridge.NewBridge(stock, stock, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSubledgerSync, Handler: jobs.NewSubledgerSyncHandler(subledgerSvc, metrics, logger)},
			{Type: jobs.TaskTypeStockSync, Handler: jobs.NewStockSyncHandler(bridge, metrics, logger)},
			{Type: jobs.TaskTypeOverdueSweep, Handler: jobs.NewOverdueSweepHandler(subledgerSvc, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LedgerOverdueSweepCron, Task: jobs.NewOverdueSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
