package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fieldserv/fieldserv/internal/app"
	"github.com/fieldserv/fieldserv/internal/costing"
	"github.com/fieldserv/fieldserv/internal/platform/cache"
	"github.com/fieldserv/fieldserv/internal/platform/db"
	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/workorder"
	"github.com/fieldserv/fieldserv/jobs"
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

	costingRepo := costing.NewRepository(pool)
	costingCache := costing.NewCache(redisClient, cfg.ReconCacheTTL)
	costingService := costing.NewService(costingRepo, workOrderService, workOrderService, costingCache, auditLogger, logger)

	closedJob := jobs.NewWorkOrderClosedJob(logger)
	snapshotJob := jobs.NewProfitSnapshotJob(costingService, logger)
	laborJob := jobs.NewLaborPostingJob(costingService, logger)

	snapshotTask, err := jobs.NewProfitSnapshotTask("active")
	if err != nil {
		logger.Error("build snapshot task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWorkOrderClosed, Handler: closedJob.Handle},
			{Type: jobs.TaskProfitSnapshot, Handler: snapshotJob.Handle},
			{Type: jobs.TaskLaborPosting, Handler: laborJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: snapshotTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
