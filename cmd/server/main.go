package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/event-notification-service/internal/api"
	"github.com/notifyhub/event-notification-service/internal/api/handler"
	"github.com/notifyhub/event-notification-service/internal/config"
	"github.com/notifyhub/event-notification-service/internal/db"
	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/ingest"
	"github.com/notifyhub/event-notification-service/internal/metrics"
	"github.com/notifyhub/event-notification-service/internal/provider"
	"github.com/notifyhub/event-notification-service/internal/queue"
	"github.com/notifyhub/event-notification-service/internal/ratelimiter"
	"github.com/notifyhub/event-notification-service/internal/realtime"
	"github.com/notifyhub/event-notification-service/internal/repository"
	"github.com/notifyhub/event-notification-service/internal/service"
	"github.com/notifyhub/event-notification-service/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- storage ----
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	rdb, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	q := queue.NewRedis(rdb, queue.Options{
		Name:  cfg.QueueName,
		Lease: cfg.QueueLease,
		Retention: queue.Retention{
			CompletedAge:  cfg.QueueCompletedAge,
			CompletedKeep: cfg.QueueCompletedMax,
			FailedAge:     cfg.QueueFailedAge,
		},
	})

	events := repository.NewPgEventRepository(pool)
	notifications := repository.NewPgNotificationRepository(pool)
	deliveryLogs := repository.NewPgDeliveryLogRepository(pool)
	preferences := repository.NewPgPreferenceRepository(pool)

	hub := realtime.NewHub(logger.Named("realtime"))

	svc := service.NewEventService(events, q, service.Options{
		AllowedTypes:    domain.NewEventTypeSet(cfg.ExtraEventTypes...),
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		DebounceWindow:  cfg.DebounceWindow,
		Job: queue.JobOptions{
			MaxAttempts: cfg.QueueMaxAttempts,
			Backoff:     queue.Backoff{Base: cfg.QueueBackoffBase, Max: cfg.QueueBackoffMax},
		},
		OnIngest: m.IngestHook(),
	}, logger.Named("ingest"))

	onJob, onChannel := m.WorkerHooks()
	dispatcher := worker.NewDispatcher(worker.DispatcherDeps{
		Events:        events,
		Notifications: notifications,
		DeliveryLogs:  deliveryLogs,
		Preferences:   preferences,
		Providers:     providers(cfg, logger),
		Limiter:       ratelimiter.New(cfg.ChannelRateLimit),
		Notifier:      hub,
		OnChannel:     onChannel,
	}, logger.Named("dispatch"))

	g, gctx := errgroup.WithContext(ctx)

	// ---- worker pool ----
	workers := worker.NewPool(worker.PoolConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.QueuePollInterval,
		Throttle:     ratelimiter.PerMinute(cfg.WorkerJobsPerMinute, cfg.WorkerConcurrency),
	}, q, dispatcher, dispatcher.OnExhausted, logger, worker.MetricHooks{OnJob: onJob})
	workers.Start(gctx)
	g.Go(func() error {
		// Returns once every in-flight job has been acked.
		workers.Wait()
		return nil
	})

	reaper := worker.NewReaper(q, cfg.ReaperInterval, dispatcher.OnExhausted, logger.Named("reaper"))
	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})

	janitor, err := worker.NewJanitor(q, deliveryLogs, cfg.DeliveryLogRetention, cfg.JanitorSchedule,
		dispatcher.Reconcile, m.SetQueueStats, logger.Named("janitor"))
	if err != nil {
		logger.Fatal("invalid janitor schedule", zap.Error(err))
	}
	g.Go(func() error {
		janitor.Run(gctx)
		return nil
	})

	// ---- kafka ingestion (optional) ----
	if len(cfg.KafkaBrokers) > 0 {
		consumer := ingest.NewConsumer(ingest.NewReader(ingest.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}), svc, logger.Named("kafka"))
		g.Go(func() error { return consumer.Run(gctx) })
	}

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Events:   svc,
		Queue:    q,
		Hub:      hub,
		Gatherer: reg,
		Checks: map[string]handler.Check{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		InternalToken: cfg.InternalToken,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ---- graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}

// newLogger builds the production JSON logger at the configured level;
// "debug" switches to the development encoder as well.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

// providers picks the webhook transport for EMAIL and PUSH when a URL is
// configured; the rest fall back to the no-op provider.
func providers(cfg *config.Config, logger *zap.Logger) provider.Set {
	set := provider.Set{}
	if cfg.EmailWebhookURL != "" {
		set[domain.ChannelEmail] = provider.NewWebhookProvider(cfg.EmailWebhookURL, cfg.ProviderTimeout)
	}
	if cfg.PushWebhookURL != "" {
		set[domain.ChannelPush] = provider.NewWebhookProvider(cfg.PushWebhookURL, cfg.ProviderTimeout)
	}
	logger.Info("delivery providers configured",
		zap.Bool("email_webhook", cfg.EmailWebhookURL != ""),
		zap.Bool("push_webhook", cfg.PushWebhookURL != ""),
	)
	return set
}
