package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/fuel-coupon-engine/internal/config"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/handler"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/model"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/qrcode"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/repository"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/service"
	"github.com/fairyhunter13/fuel-coupon-engine/internal/validator"
	"github.com/fairyhunter13/fuel-coupon-engine/migrations"
	"github.com/fairyhunter13/fuel-coupon-engine/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Apply schema migrations before opening the pool
	if err := database.RunMigrations(cfg.DB.MigrateURL(), migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Fuel Coupon Engine",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit (explicit, prevents large payloads)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator
	validate := validator.New()

	// Stateless components
	signer := qrcode.NewSigner(cfg.Signer.Secret)
	clock := service.SystemClock{}
	publisher := service.LogPublisher{}

	// Repositories
	campaignRepo := repository.NewCampaignRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	usageRepo := repository.NewUsageRepository(pool)

	// Services (layered architecture)
	campaignService := service.NewCampaignService(campaignRepo, clock, publisher)
	couponService := service.NewCouponService(pool, campaignRepo, couponRepo, signer, clock, publisher,
		service.NoopPaymentProcessor{},
		model.RefundPolicy{Tiers: []model.RefundTier{
			{Within: cfg.Refund.FullWindow, Percent: cfg.Refund.FullPercent},
			{Within: cfg.Refund.PartialWindow, Percent: cfg.Refund.PartialPercent},
		}},
		service.GenerateOptions{
			Workers:      cfg.Generate.Workers,
			CodeRetries:  cfg.Generate.CodeRetries,
			MaxBatchSize: cfg.Generate.MaxBatchSize,
		})
	fraudDetector := service.NewFraudDetector(usageRepo, nil, clock, service.FraudOptions{
		Window:             cfg.Fraud.Window,
		SameCodeAttempts:   cfg.Fraud.SameCodeAttempts,
		DistinctCodesPerIP: cfg.Fraud.DistinctCodesPerIP,
		Timeout:            cfg.Fraud.Timeout,
	})
	redemptionService := service.NewRedemptionService(pool, campaignRepo, couponRepo, usageRepo,
		signer, fraudDetector, clock, publisher, cfg.Signer.QRMaxAge)

	// Handlers
	campaignHandler := handler.NewCampaignHandler(campaignService, validate)
	couponHandler := handler.NewCouponHandler(couponService, validate)
	redemptionHandler := handler.NewRedemptionHandler(redemptionService, validate)
	healthHandler := handler.NewHealthHandler(pool)

	app.Get("/health", healthHandler.Check)

	// Campaign routes
	app.Post("/api/campaigns", campaignHandler.CreateCampaign)
	app.Get("/api/campaigns/:id", campaignHandler.GetCampaign)
	app.Post("/api/campaigns/:id/activate", campaignHandler.Activate)
	app.Post("/api/campaigns/:id/pause", campaignHandler.Pause)
	app.Post("/api/campaigns/:id/complete", campaignHandler.Complete)
	app.Post("/api/campaigns/:id/cancel", campaignHandler.Cancel)

	// Coupon routes
	app.Post("/api/campaigns/:id/coupons", couponHandler.IssueCoupons)
	app.Get("/api/coupons/:code", couponHandler.GetCoupon)
	app.Post("/api/coupons/:id/cancel", couponHandler.CancelCoupon)
	app.Post("/api/coupons/:id/suspend", couponHandler.SuspendCoupon)
	app.Post("/api/coupons/:id/reactivate", couponHandler.ReactivateCoupon)
	app.Post("/api/coupons/:id/regenerate-qr", couponHandler.RegenerateQR)

	// Redemption route
	app.Post("/api/redemptions", redemptionHandler.Redeem)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
