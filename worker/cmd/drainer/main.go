package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"clever-events/shared/cachex"
	"clever-events/shared/config"
	"clever-events/shared/events"
	"clever-events/shared/httpx"
	"clever-events/shared/lockx"
	"clever-events/shared/logx"
	"clever-events/shared/metricsx"
	"clever-events/shared/observability"
	"clever-events/shared/queuex"
	"clever-events/worker/internal/handlers"
	"clever-events/worker/internal/jobs"
)

func main() {
	once := flag.Bool("once", false, "run a single drain cycle against the default queue and exit")
	flag.Parse()

	cfg, problems := config.Default("event-drainer", 8084)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.QueueURL == "" {
		problems = append(problems, config.Problem{Field: "SQS_QUEUE_URL", Message: "SQS_QUEUE_URL is required"})
	}
	if !*once && cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg))
	if err != nil {
		logger.Warn(context.Background(), "tracer_init_failed", err.Error())
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	backend, err := queuex.Open(context.Background(), cfg)
	if err != nil {
		logger.Error(context.Background(), "queue_init_failed", "queue init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("queue_adapter", cfg.QueueAdapter),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer func() { _ = backend.Close() }()

	settings := cfg.EventSettings()
	entityEvents := handlers.NewEntityEvents(logger).On("*", handlers.LogEvent(logger))
	if cfg.RedisAddr != "" {
		if cache, err := cachex.New(cfg); err == nil {
			defer func() { _ = cache.Close() }()
			entityEvents.WithDedup(cache, 24*time.Hour)
		}
	}
	processor := events.NewProcessor(entityEvents, backend.Queue, settings, logger)
	drainer := events.NewDrainer(backend.Queue, logger, events.WithConcurrency(cfg.DrainConcurrency))

	if *once {
		report, err := events.NewSubscriber(backend.Queue, settings, logger).Drain(context.Background(), drainer, processor)
		logger.Info(context.Background(), "drain_once", "drain cycle finished",
			slog.Int("received", report.Received),
			slog.Int("deleted", report.Deleted),
		)
		if err != nil {
			logger.Error(context.Background(), "drain_failed", err.Error())
			os.Exit(1)
		}
		return
	}

	metricsx.Register()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	lockClient := redis.NewClient(&redis.Options{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	})
	defer lockClient.Close()

	drainHandler := jobs.NewDrainHandler(drainer, processor, settings, logger).
		WithLocker(lockx.NewLocker(lockClient), cfg.DrainInterval()+time.Duration(settings.WaitSeconds)*time.Second+time.Minute)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TypeDrain, drainHandler)

	drainTask, err := jobs.NewDrainTask(jobs.DrainPayload{Queue: settings.DefaultQueue},
		asynq.Queue(cfg.AsynqQueue),
		asynq.MaxRetry(0),
		asynq.Unique(cfg.DrainInterval()),
	)
	if err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", err.Error())
		os.Exit(1)
	}
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.DrainIntervalSec)+"s", drainTask); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	admin := &http.Server{
		Addr: net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler: httpx.AdminHandler(cfg.ServiceName, logger, map[string]httpx.ReadyCheck{
			"queue": backend.Ready,
			"asynq": func(ctx context.Context) error { return lockClient.Ping(ctx).Err() },
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- admin.ListenAndServe()
	}()
	if err := server.Start(mux); err != nil {
		logger.Error(context.Background(), "worker_failed", "worker start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info(context.Background(), "worker_start", "event drainer started",
		slog.String("queue", settings.DefaultQueue),
		slog.String("queue_adapter", cfg.QueueAdapter),
		slog.Int("interval_seconds", cfg.DrainIntervalSec),
		slog.Int("concurrency", cfg.DrainConcurrency),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "admin_failed", "admin server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
	}

	server.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "worker_stop", "event drainer stopped")
}
