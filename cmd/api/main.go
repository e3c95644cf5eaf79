package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v2"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/visit-engine/internal/api/http"
	"github.com/spec-kit/visit-engine/internal/api/http/handlers"
	"github.com/spec-kit/visit-engine/internal/auth"
	"github.com/spec-kit/visit-engine/internal/config"
	"github.com/spec-kit/visit-engine/internal/events"
	"github.com/spec-kit/visit-engine/internal/observability"
	"github.com/spec-kit/visit-engine/internal/persistence"
	"github.com/spec-kit/visit-engine/internal/repository"
	"github.com/spec-kit/visit-engine/internal/repository/memory"
	"github.com/spec-kit/visit-engine/internal/safety"
	"github.com/spec-kit/visit-engine/internal/service"
	"github.com/spec-kit/visit-engine/internal/worker"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file to load before reading the environment")
	rulesPath := flag.String("rules", "", "safety rule file (overrides SAFETY_RULES_PATH)")
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *rulesPath != "" {
		cfg.Safety.RulesPath = *rulesPath
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pool := pg.PoolHandle(); pool != nil && (cfg.Postgres.RunMigrations || *migrateOnly) {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	if *migrateOnly {
		return
	}

	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		store = repository.NewPostgresStore(pool)
	} else {
		logger.Warn("running on the in-memory store; state is lost on exit")
		store = memory.NewStore()
	}

	metrics := observability.NewMetrics()
	broadcaster := events.NewBroadcaster(events.BroadcasterConfig{
		SubscriberBuffer: cfg.Broadcast.SubscriberBuffer,
		OnDrop:           metrics.RecordBroadcastDrop,
	}, logger)

	var wg sync.WaitGroup
	var relay *events.RedisRelay
	var redis *persistence.Redis
	if cfg.Redis.Addr != "" {
		redis = persistence.NewRedis(ctx, cfg.Redis, cfg.Broadcast.InstanceID, logger)
		defer redis.Close()
		relay = events.NewRedisRelay(redis.Client, cfg.Broadcast.RedisChannel, cfg.Broadcast.InstanceID, logger)
	}

	feedDeps := service.EventFeedDependencies{
		Store:     store,
		Publisher: broadcaster,
		Logger:    logger,
	}
	if relay != nil {
		feedDeps.Announce = relay.Announce
	}
	feed := service.NewEventFeed(feedDeps)
	if err := feed.Start(ctx); err != nil {
		logger.Fatal("failed to position event feed", zap.Error(err))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		feed.Run(ctx, cfg.Broadcast.PollInterval)
	}()
	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx, func(int64) { feed.Wake() }); err != nil {
				logger.Error("event relay stopped", zap.Error(err))
			}
		}()
	}

	rules, err := loadRules(cfg.Safety.RulesPath)
	if err != nil {
		logger.Fatal("failed to load safety rules", zap.Error(err))
	}
	gate := safety.NewGate(rules, metrics)

	eventLog := service.NewEventLog(service.EventLogDependencies{
		Store:  store,
		Feed:   feed,
		Logger: logger,
	})
	reservations := service.NewReservationService(service.ReservationDependencies{
		Store:    store,
		EventLog: eventLog,
		Config:   cfg.Scheduling,
		Logger:   logger,
	})
	handoffs := service.NewHandoffService(service.HandoffDependencies{
		Store:      store,
		EventLog:   eventLog,
		Config:     cfg.Handoff,
		SweepBatch: cfg.Scheduling.SweepBatchSize,
		Logger:     logger,
	})
	turns := service.NewTurnService(service.TurnDependencies{
		Gate:     gate,
		Store:    store,
		EventLog: eventLog,
		Handoffs: handoffs,
		Logger:   logger,
	})
	authService, err := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		CoordinatorRepo: store.Coordinators(),
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("failed to init auth", zap.Error(err))
	}
	if err := authService.EnsureBootstrapCoordinator(ctx, cfg.Auth); err != nil {
		logger.Fatal("failed to bootstrap coordinator", zap.Error(err))
	}
	notifications := service.NewNotificationService(handoffs, service.NewCommunicator(cfg.Notification, logger), logger)

	sweeper := worker.NewSweeper(cfg.Scheduling.SweepInterval, map[string]worker.SweepFunc{
		"reservations": reservations.SweepExpired,
		"handoffs":     handoffs.EscalateOverdue,
	}, metrics, logger)
	notifier := worker.NewNotificationWorker(worker.NotificationWorkerDependencies{
		History:     eventLog,
		Cursors:     store.Cursors(),
		Handler:     notifications,
		Failures:    service.NewDeliveryFailures(eventLog),
		Broadcaster: broadcaster,
		Config: worker.NotificationWorkerConfig{
			Name:         "followups",
			Owner:        cfg.Broadcast.InstanceID,
			PollInterval: cfg.Notification.PollInterval,
			MaxAttempts:  cfg.Notification.MaxAttempts,
			LeaseTTL:     cfg.Notification.LeaseTTL,
		},
		Logger: logger,
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		notifier.Run(ctx)
	}()

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), store.Coordinators())

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, store, redis),
		Metrics:        handlers.NewMetricsHandler(metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Turns:          handlers.NewTurnsHandler(turns, nil),
		Reservations:   handlers.NewReservationsHandler(reservations),
		Handoffs:       handlers.NewHandoffsHandler(handoffs, nil),
		Events:         handlers.NewEventsHandler(eventLog, broadcaster, logger),
		AuthMiddleware: authMiddleware,
		ServiceToken:   cfg.Auth.ServiceToken,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	broadcaster.Close()
	_ = app.Shutdown()
	wg.Wait()
}

func loadRules(path string) (safety.RuleSet, error) {
	if path == "" {
		return safety.DefaultRuleSet()
	}
	return safety.LoadRuleSet(path)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
