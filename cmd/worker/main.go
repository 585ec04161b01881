package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agencyhub/backoffice/internal/app"
	"github.com/agencyhub/backoffice/internal/identity"
	jobmetrics "github.com/agencyhub/backoffice/internal/jobs"
	"github.com/agencyhub/backoffice/internal/platform/cache"
	"github.com/agencyhub/backoffice/internal/platform/db"
	"github.com/agencyhub/backoffice/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
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

	identityService := identity.NewService(
		identity.NewRepository(pool),
		identity.NewRedisStore(redisClient),
		identity.NewBroadcaster(redisClient, logger),
		cfg.SessionTTL,
	)
	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)

	sweepTask, err := jobs.NewSessionSweepTask("scheduler")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	queueOpts, err := cfg.QueueRedis()
	if err != nil {
		logger.Error("queue redis", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: queueOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionSweep, Handler: jobs.NewSessionSweepHandler(identityService, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepSchedule, Task: sweepTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
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
