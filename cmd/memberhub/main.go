package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/memberhub/app/controllers"
	"github.com/ManuelReschke/memberhub/internal/pkg/billing"
	"github.com/ManuelReschke/memberhub/internal/pkg/cache"
	"github.com/ManuelReschke/memberhub/internal/pkg/config"
	"github.com/ManuelReschke/memberhub/internal/pkg/database"
	"github.com/ManuelReschke/memberhub/internal/pkg/logger"
	"github.com/ManuelReschke/memberhub/internal/pkg/router"
	"github.com/ManuelReschke/memberhub/internal/pkg/s3backup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	app, appLog, err := NewApplication(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer appLog.Sync()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		appLog.Info("shutting down", nil)
		_ = app.ShutdownWithTimeout(15 * time.Second)
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort)); err != nil {
		log.Fatal(err)
	}
}

func NewApplication(cfg *config.Config) (*fiber.App, logger.Logger, error) {
	appLog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.SetupDatabase(cfg.Database, cfg.IsDev())
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}

	checks := map[string]router.Pinger{
		"database": router.PingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}

	var cacheClient *redis.Client
	cacheReachable := false
	if cfg.Cache.Enabled {
		cacheClient = cache.SetupCache(cfg.Cache)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		cacheReachable = cacheClient.Ping(ctx).Err() == nil
		cancel()
		checks["cache"] = router.PingFunc(func(ctx context.Context) error {
			return cacheClient.Ping(ctx).Err()
		})
	}

	opts := []billing.EngineOption{billing.WithLogger(appLog)}
	switch cfg.Billing.Ledger {
	case "redis":
		if cacheClient != nil {
			opts = append(opts, billing.WithLedger(billing.NewRedisLedger(cacheClient, cfg.Billing.DedupWindow)))
		} else {
			appLog.Warn("redis ledger requested without cache, using database ledger", nil)
		}
	case "none":
		opts = append(opts, billing.WithLedger(billing.NopLedger{}))
	}

	if cfg.Archive.Enabled {
		store, err := s3backup.NewClient(context.Background(), &s3backup.Config{
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			Region:          cfg.Archive.Region,
			BucketName:      cfg.Archive.Bucket,
			EndpointURL:     cfg.Archive.Endpoint,
			Prefix:          cfg.Archive.Prefix,
			Enabled:         true,
			CreateBucket:    cfg.IsDev(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init payload archive: %w", err)
		}
		opts = append(opts, billing.WithArchiver(billing.NewPayloadArchiver(store)))
	}

	engine, err := billing.NewEngineFromDB(db, billing.EngineConfig{
		Scheme:        cfg.Billing.SignatureScheme,
		Secret:        cfg.Billing.WebhookSecret,
		Tolerance:     cfg.Billing.SignatureTolerance,
		UnknownStatus: billing.ParseStatusPolicy(cfg.Billing.UnknownStatus),
		Timeout:       cfg.Billing.EventTimeout,
		DedupWindow:   cfg.Billing.DedupWindow,
	}, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("init billing engine: %w", err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "memberhub",
		BodyLimit: 1 << 20, // processor payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), fiberlogger.New())

	webhookOpts := []router.WebhookRouterOption{router.WithRateLimit(cfg.RateLimit.Max, cfg.RateLimit.Window)}
	if cacheReachable {
		webhookOpts = append(webhookOpts, router.WithLimiterStorage(cache.NewLimiterStorage(cfg.Cache)))
	}

	// ROUTER
	router.InstallRouter(app,
		router.NewSystemRouter(checks),
		router.NewWebhookRouter(
			controllers.NewBillingController(engine, cfg.Billing.SignatureHeader),
			appLog,
			webhookOpts...,
		),
	)

	return app, appLog, nil
}
