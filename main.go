package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cookie-claim-system/cache"
	"cookie-claim-system/config"
	"cookie-claim-system/handlers"
	"cookie-claim-system/middleware"
	"cookie-claim-system/models"
	"cookie-claim-system/notify"
	"cookie-claim-system/services"
	"cookie-claim-system/stock"
	"cookie-claim-system/utils"
	"cookie-claim-system/workers"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogger(cfg.Log)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}

	// Benefit cache: Redis when configured, in-process otherwise.
	var benefitCache cache.Cache
	var localCache *cache.Local
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		benefitCache = rc
		slog.Info("benefit cache backed by redis")
	} else {
		localCache = cache.NewLocal()
		benefitCache = localCache
	}

	registry := &stock.Registry{}
	if cfg.R2.Enabled() {
		client, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			return err
		}
		registry.Bucket = client
		registry.DefaultBucket = cfg.R2.Bucket
		slog.Info("R2 stock sources enabled", "bucket", cfg.R2.Bucket)
	}

	var dispatcher notify.Dispatcher
	if cfg.Gateway.NotifyURL != "" {
		dispatcher = notify.NewGatewayDispatcher(
			cfg.Gateway.NotifyURL,
			cfg.Gateway.ServiceToken,
			utils.NewHTTPClient(cfg.Gateway.RequestTimeout),
			cfg.Gateway.RatePerSecond,
			cfg.Gateway.Burst,
		)
	} else {
		slog.Warn("GATEWAY_NOTIFY_URL not set, notifications are only logged")
		dispatcher = notify.NewLogDispatcher()
	}

	ledger := services.NewLedger(db, services.UTCNow)
	accessService := services.NewAccessService(benefitCache, cfg.Claims.BenefitCacheTTL)
	policyService := services.NewPolicyService(db, accessService)
	locks := services.NewClaimLocks(cfg.Claims.LockTTL, nil)

	claimService := services.NewClaimService(db, policyService, accessService, ledger, registry, locks, dispatcher, services.ClaimServiceConfig{
		OwnerID:        cfg.App.OwnerID,
		FeedbackWindow: cfg.Feedback.DefaultWindow,
	})
	feedbackService := services.NewFeedbackService(db, ledger, policyService, dispatcher, services.FeedbackServiceConfig{
		RatingTrust:     cfg.Feedback.RatingTrust,
		ScreenshotTrust: cfg.Feedback.ScreenshotTrust,
	})
	deadlines := services.NewDeadlineEngine(db, policyService, dispatcher, services.DeadlineConfig{
		FirstReminder:        cfg.Feedback.FirstReminder,
		SecondReminder:       cfg.Feedback.SecondReminder,
		GracePeriod:          cfg.Feedback.GracePeriod,
		FinalPromptWindow:    cfg.Feedback.FinalPromptWindow,
		TrustPenalty:         cfg.Feedback.TrustPenalty,
		DefaultBlacklistDays: cfg.Feedback.DefaultBlacklistDays,
		Concurrency:          cfg.Feedback.EnforcementBatch,
	})

	sweeps := services.Sweeps{Deadlines: deadlines, Ledger: ledger, Locks: locks}
	if localCache != nil {
		sweeps.Cache = localCache
	}
	sched, err := services.StartScheduler(ctx, sweeps, cfg.Scheduler)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			slog.Error("scheduler shutdown failed", "error", err)
		}
	}()

	watcher := workers.NewStockWatcher(db, registry, dispatcher)
	go workers.PollStock(ctx, watcher, cfg.Scheduler.StockPollInterval)

	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())

	// 🔐 GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.Gateway.ServiceToken))

	handlers.SetupRoutes(app, &handlers.Services{
		DB:       db,
		Claims:   claimService,
		Feedback: feedbackService,
		Access:   accessService,
		Policy:   policyService,
		Ledger:   ledger,
		Stock:    registry,
		OwnerID:  cfg.App.OwnerID,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Server.Address(), "environment", cfg.App.Environment)
		errCh <- app.Listen(cfg.Server.Address())
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := gormlogger.Info
	if cfg.IsProduction() {
		logLevel = gormlogger.Error
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		slog.Error("unhandled error", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
