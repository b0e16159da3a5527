package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-ledger/meridian/internal/accounts"
	"github.com/meridian-ledger/meridian/internal/app"
	"github.com/meridian-ledger/meridian/internal/invbridge"
	"github.com/meridian-ledger/meridian/internal/ledger"
	"github.com/meridian-ledger/meridian/internal/observability"
	"github.com/meridian-ledger/meridian/internal/platform/cache"
	"github.com/meridian-ledger/meridian/internal/platform/db"
	"github.com/meridian-ledger/meridian/internal/posting"
	"github.com/meridian-ledger/meridian/internal/shared"
	"github.com/meridian-ledger/meridian/internal/subledger"
	"github.com/meridian-ledger/meridian/jobs"
)

func main() {
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
	idemStore := shared.NewIdempotencyStore(pool)
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

	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, policy, auditLogger, logger)

	subledgerRepo := subledger.NewRepository(pool)
	subledgerSvc := subledger.NewService(subledgerRepo, directory, ledgerSvc, metrics, logger)

	stock := invbridge.NewSQLStock(pool)
	bridge := invbridge.NewBridge(stock, stock, logger)

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	postingSvc := posting.NewService(directory, ledgerSvc, bridge, queue, metrics, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledger.NewHandler(ledgerSvc),
		SubledgerHandler: subledger.NewHandler(subledgerSvc),
		PostingHandler:   posting.NewHandler(postingSvc, idemStore),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Pool:             pool,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
