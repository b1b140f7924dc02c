package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event_reminder_bot/internal/app"
	"event_reminder_bot/internal/infra/config"
	idb "event_reminder_bot/internal/infra/database"
	"event_reminder_bot/internal/infra/logger"
	"event_reminder_bot/internal/infra/observability"
	"event_reminder_bot/internal/infra/scheduler"
	"event_reminder_bot/internal/infra/session"
	itg "event_reminder_bot/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithField("environment", cfg.Environment).Info("Event reminder bot starting")

	loc, err := cfg.Location()
	if err != nil {
		mainLogger.Fatalf("Could not load timezone %q: %v", cfg.Timezone, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	if err := idb.RunMigrations(ctx, db); err != nil {
		mainLogger.Fatalf("Could not run migrations: %v", err)
	}
	mainLogger.Info("Database ready")

	eventRepo := idb.NewPostgresEventRepository(db)
	recipientRepo := idb.NewPostgresRecipientRepository(db)
	ledger := idb.NewPostgresDeliveryLedger(db)

	// Redis-backed wizard sessions
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		mainLogger.Fatalf("Could not connect to redis: %v", err)
	}
	sessions := session.NewStore(redisClient, cfg.SessionTTL)
	mainLogger.Info("Session store ready")

	// Observability
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	observer := observability.MultiObserver{
		observability.NewLogObserver(logger.Component("deliveries")),
		metrics,
	}

	// Telegram bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.Fatalf("Could not create Telegram bot: %v", err)
	}
	client := itg.NewTelebotAdapter(bot, cfg.SendRatePerSec)

	// Reminder engine
	jobStore := scheduler.NewJobStore()
	dispatcher := app.NewDeliveryDispatcher(
		app.DispatcherConfig{
			Concurrency:   cfg.DispatchConcurrency,
			NotifyTimeout: cfg.NotifyTimeout,
			MaxAttempts:   3,
			RetryBackoff:  2 * time.Second,
		},
		eventRepo, recipientRepo, ledger, client, observer,
		logger.Component("dispatcher"),
	)
	loop := scheduler.NewLoop(
		scheduler.Config{
			TickInterval: cfg.TickInterval,
			MisfireGrace: cfg.MisfireGrace,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
		jobStore, dispatcher, observer,
		logger.Component("scheduler"),
	).WithMetrics(metrics)

	schedulingService, err := app.NewSchedulingService(
		app.SchedulingConfig{Offsets: cfg.Offsets, MisfireGrace: cfg.MisfireGrace},
		eventRepo, recipientRepo, ledger, jobStore,
		logger.Component("scheduling"),
	)
	if err != nil {
		mainLogger.Fatalf("Could not initialize scheduling service: %v", err)
	}

	eventService := app.NewEventService(
		eventRepo, recipientRepo, ledger, schedulingService, client,
		cfg.AdminTelegramID, cfg.NotifyTimeout, loc,
		logger.Component("events"),
	)
	registrationService := app.NewRegistrationService(
		recipientRepo, eventRepo, ledger, client,
		cfg.NotifyTimeout, loc,
		logger.Component("registration"),
	)

	// Handlers
	deps := itg.HandlerDeps{
		Registration: registrationService,
		Events:       eventService,
		Recipients:   recipientRepo,
		Sessions:     sessions,
		AdminID:      cfg.AdminTelegramID,
		Location:     loc,
	}
	itg.RegisterCommandHandlers(ctx, bot, deps, logger.Component("handlers"))
	itg.RegisterWizardHandlers(ctx, bot, deps, logger.Component("handlers"))

	// Re-derive pending jobs for events already in the database before the
	// loop starts ticking.
	if err := schedulingService.OnStartup(ctx); err != nil {
		mainLogger.Fatalf("Startup reconciliation failed: %v", err)
	}
	loop.Start()

	reconcileCron := scheduler.NewReconcileCron(schedulingService, logger.Component("reconcile"), cfg.CronSpecReconcile)
	if err := reconcileCron.Start(); err != nil {
		mainLogger.Fatalf("Could not start reconcile cron: %v", err)
	}

	opsServer := observability.NewServer(cfg.MetricsAddr, registry, metrics.Healthy)
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLogger.WithError(err).Error("Ops server stopped")
		}
	}()

	mainLogger.Info("Setup complete, bot is starting")
	go bot.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down")
	bot.Stop()
	reconcileCron.Stop()
	loop.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Error("Ops server shutdown failed")
	}
	mainLogger.Info("Shut down gracefully")
}
