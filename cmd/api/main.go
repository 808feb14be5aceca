package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calderray/aegis/internal/auth"
	"github.com/calderray/aegis/internal/background"
	"github.com/calderray/aegis/internal/config"
	"github.com/calderray/aegis/internal/database"
	"github.com/calderray/aegis/internal/handlers"
	middlewareCustom "github.com/calderray/aegis/internal/middleware"
	"github.com/calderray/aegis/internal/ratelimit"
	"github.com/calderray/aegis/internal/repositories"
	"github.com/calderray/aegis/internal/routes"
	"github.com/calderray/aegis/internal/services"
	"github.com/calderray/aegis/pkg/crypto"
	pkghttp "github.com/calderray/aegis/pkg/http"
	pkglogger "github.com/calderray/aegis/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Field-level encryption
	fieldCipher, err := crypto.NewFieldCipher(cfg.Encryption.PrimaryKey, cfg.Encryption.SecondaryKey)
	if err != nil {
		logger.Error("failed to initialize field cipher", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db, fieldCipher, logger)
	otpRepo := repositories.NewOTPRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	auditLogRepo := repositories.NewAuditLogRepository(db)

	// Token manager
	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		AccessExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshExpiry: cfg.Auth.RefreshTokenExpiry,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
	})
	if cfg.Auth.EncryptTokenPayload {
		tokenManager.EnablePayloadEncryption(fieldCipher)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	auditService := services.NewAuditService(auditLogRepo, logger)

	// OTP send limits share counters across instances when Redis is
	// configured; otherwise they are tracked in-process.
	var counterStore ratelimit.CounterStore
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		counterStore = ratelimit.NewRedisStore(redisClient)
		logger.Info("rate-limit counters backed by redis", slog.String("addr", cfg.Redis.Addr))
	} else {
		counterStore = ratelimit.NewMemoryStore()
		logger.Info("rate-limit counters kept in process memory")
	}
	otpLimiter := ratelimit.NewLimiter(counterStore, services.SendTiers())

	// AWS SNS for SMS delivery
	smsService, err := services.NewAWSSNSService(cfg.SMS.AWSRegion, cfg.SMS.SenderID, logger)
	if err != nil {
		logger.Error("failed to initialize sms service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	otpService := services.NewOTPService(otpRepo, smsService, otpLimiter, logger, auditLogger, services.OTPConfig{
		CodeLength:  cfg.OTP.CodeLength,
		Expiry:      cfg.OTP.Expiry,
		MaxAttempts: cfg.OTP.MaxAttempts,
	})
	sessionService := services.NewSessionService(sessionRepo, logger, auditLogger, cfg.Session.MaxPerAccount, cfg.Session.Expiry)
	accountService := services.NewAccountService(accountRepo, sessionService, auditService, logger, auditLogger, services.LockoutPolicy{
		Threshold: cfg.Auth.LockoutThreshold,
		Window:    cfg.Auth.LockoutWindow,
	})
	authService := services.NewAuthService(accountRepo, accountService, otpService, sessionService, tokenManager, fieldCipher, logger, auditLogger)
	authService.SetAdminPhones(cfg.Auth.AdminPhones)

	// Cleanup of expired challenges, sessions and old audit rows
	cleanupManager := background.NewCleanupManager(otpRepo, sessionRepo, auditLogRepo, logger, cfg.Auth.CleanupInterval, 24*time.Hour, 90)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	otpHandler := handlers.NewOTPHandler(authService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	adminHandler := handlers.NewAdminHandler(accountService, auditService)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, otpHandler, sessionHandler, adminHandler, tokenManager, sessionService)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
