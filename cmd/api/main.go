package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fortuna-lending/loan-engine/internal/audit"
	"github.com/fortuna-lending/loan-engine/internal/cipher"
	"github.com/fortuna-lending/loan-engine/internal/config"
	"github.com/fortuna-lending/loan-engine/internal/credit"
	"github.com/fortuna-lending/loan-engine/internal/engine"
	"github.com/fortuna-lending/loan-engine/internal/handler"
	"github.com/fortuna-lending/loan-engine/internal/idempotency"
	"github.com/fortuna-lending/loan-engine/internal/middleware"
	"github.com/fortuna-lending/loan-engine/internal/provider"
	"github.com/fortuna-lending/loan-engine/internal/repository/postgres"
	"github.com/fortuna-lending/loan-engine/internal/repository/storage"
	"github.com/fortuna-lending/loan-engine/internal/service"
	"github.com/fortuna-lending/loan-engine/internal/store"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx := context.Background()

	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to database")

	if _, err := cipher.New([]byte(cfg.FieldEncryptionKey)); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize field cipher")
	}

	// Repositories
	loans := postgres.NewLoanRepository(db)
	installments := postgres.NewInstallmentRepository(db)
	payments := postgres.NewPaymentRepository(db)
	accounts := postgres.NewAccountRepository(db)
	notifications := postgres.NewNotificationRepository(db)
	auditLog := audit.New(db)
	idem := idempotency.New(db, cfg.IdempotencyTTL)

	// Payment provider
	var pp provider.PaymentProvider
	if cfg.Provider.Mode == "rest" {
		pp = provider.NewRESTProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	} else {
		pp = provider.NewSandboxProvider()
	}

	// Realtime notification hub
	hub := websocket.NewHub()
	notifier := websocket.NewNotifier(hub, notifications, accounts)

	// Credit scoring (advisory only, never gates loan creation)
	scorer := credit.NewDeterministicScorer()

	// Object storage for manual-proof evidence uploads
	var imageService *service.ImageService
	objectStore, err := storage.NewS3ObjectStore(ctx, cfg.S3)
	if err != nil {
		log.Warn().Err(err).Msg("object storage unavailable, image uploads disabled")
		imageService = service.NewImageService(nil)
	} else {
		imageService = service.NewImageService(objectStore)
	}

	eng := engine.New(db, loans, installments, payments, accounts, auditLog, notifier, pp, idem)

	// Auth
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSigningSecret)
	rateLimiter := middleware.NewRateLimiter()
	wsValidator := websocket.NewJWTValidator(cfg.JWTSigningSecret)

	// Handlers
	handlers := &handler.Handlers{
		Loan:         handler.NewLoanHandler(eng, loans, installments, payments, auditLog),
		Payment:      handler.NewPaymentHandler(eng, payments),
		Notification: handler.NewNotificationHandler(notifications, notifier),
		Admin:        handler.NewAdminHandler(eng, loans),
		Credit:       handler.NewCreditHandler(scorer, accounts),
		Image:        handler.NewImageHandler(imageService),
		WebSocket:    handler.NewWebSocketHandler(hub, wsValidator, cfg.CORSOrigins),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.RequestID())

	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	e.Use(echomiddleware.SecureWithConfig(echomiddleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	e.Use(zerologMiddleware())
	e.Use(echomiddleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	handler.RegisterRoutes(e, authMiddleware, middleware.RateLimitMiddleware(rateLimiter), handlers)

	// Idempotency records expire on a TTL; sweep them off the table rather
	// than let it grow unbounded.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go idem.SweepLoop(sweepCtx, 10*time.Minute)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	cancelSweep()
	rateLimiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

func zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			log.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Msg("request")

			return nil
		}
	}
}
