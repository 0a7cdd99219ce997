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

	"github.com/fieldserv/fieldserv/internal/app"
	"github.com/fieldserv/fieldserv/internal/costing"
	"github.com/fieldserv/fieldserv/internal/platform/cache"
	"github.com/fieldserv/fieldserv/internal/platform/db"
	"github.com/fieldserv/fieldserv/internal/receipt"
	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/timesheet"
	"github.com/fieldserv/fieldserv/internal/workorder"
	"github.com/fieldserv/fieldserv/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, reconciliation cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	dispatcher := jobs.NewAsynqDispatcher(redisOpts)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("dispatcher close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)

	workOrderRepo := workorder.NewRepository(pool)
	workOrderService := workorder.NewService(workOrderRepo, auditLogger, dispatcher, logger)
	workOrderHandler := workorder.NewHandler(workOrderService, logger)

	costingRepo := costing.NewRepository(pool)
	costingCache := costing.NewCache(redisClient, cfg.ReconCacheTTL)
	costingService := costing.NewService(costingRepo, workOrderService, workOrderService, costingCache, auditLogger, logger)
	costingHandler := costing.NewHandler(costingService, logger)

	timesheetRepo := timesheet.NewRepository(pool)
	timesheetService := timesheet.NewService(timesheetRepo, workOrderService, costingService, dispatcher, auditLogger, logger)
	timesheetHandler := timesheet.NewHandler(timesheetService, logger)

	receiptRepo := receipt.NewRepository(pool)
	receiptService := receipt.NewService(receiptRepo, workOrderService, auditLogger, logger)
	receiptHandler := receipt.NewHandler(receiptService, logger)

	jobHandler := jobs.NewHandler(asynq.NewInspector(redisOpts), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		WorkOrderHandler: workOrderHandler,
		TimesheetHandler: timesheetHandler,
		ReceiptHandler:   receiptHandler,
		CostingHandler:   costingHandler,
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
