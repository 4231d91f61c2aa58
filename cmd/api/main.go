package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/medigate/backend/internal/anomaly"
	"github.com/medigate/backend/internal/auth"
	"github.com/medigate/backend/internal/background"
	"github.com/medigate/backend/internal/config"
	"github.com/medigate/backend/internal/database"
	"github.com/medigate/backend/internal/handlers"
	middlewareCustom "github.com/medigate/backend/internal/middleware"
	"github.com/medigate/backend/internal/models"
	"github.com/medigate/backend/internal/monitor"
	"github.com/medigate/backend/internal/ratelimit"
	"github.com/medigate/backend/internal/repositories"
	"github.com/medigate/backend/internal/routes"
	"github.com/medigate/backend/internal/services"
	pkgauth "github.com/medigate/backend/pkg/auth"
	pkghttp "github.com/medigate/backend/pkg/http"
	pkglogger "github.com/medigate/backend/pkg/logger"
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

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	flaggedIPRepo := repositories.NewFlaggedIPRepository(db)
	mfaChallengeRepo := repositories.NewMFAChallengeRepository(db)

	// IP reputation: in-memory flag store fed by anomaly detection, with
	// persisted flags loaded back in so blocks survive a restart
	flagStore := anomaly.NewFlagStore()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := preloadFlags(ctx, flaggedIPRepo, flagStore); err != nil {
			logger.Error("failed to preload flagged ips", slog.Any("error", err))
		}
		cancel()
	}

	// Request telemetry with synchronous anomaly evaluation
	detector := anomaly.NewDetector(flagStore, logger)
	recorder := monitor.NewRecorder(monitor.DefaultHistoryLimit, monitor.DefaultGlobalLimit, detector)

	// Token manager and auth middleware
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	authMiddleware := auth.NewMiddleware(tokenManager, logger)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.SenderName,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	authService := services.NewAuthService(
		userRepo,
		loginAttemptRepo,
		mfaChallengeRepo,
		flaggedIPRepo,
		flagStore,
		emailService,
		tokenManager,
		cfg.Security,
		logger,
		auditLogger,
	)
	adminService := services.NewAdminService(loginAttemptRepo, flaggedIPRepo, flagStore, logger, auditLogger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService)
	monitoringHandler := handlers.NewMonitoringHandler(recorder)

	// Per-group admission policies
	limiters := routes.NewLimiters()

	// Background sweeper for flag retention, expired challenges, old ledger
	// rows, and idle limiter state
	sweeper := background.NewSweeper(
		flaggedIPRepo,
		mfaChallengeRepo,
		loginAttemptRepo,
		[]ratelimit.Pruner{limiters.Auth, limiters.API, limiters.Admin},
		cfg.Security.FlagRetention,
		cfg.Security.SweepInterval,
		logger,
	)

	// Bootstrap first admin user if configured
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
			logger.Error("failed to ensure admin user", slog.Any("error", err))
		}
		cancel()
	}

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router. Telemetry sits outermost so rejected requests (429, 403)
	// are observed too; a burst of rejections is exactly what the detector
	// needs to see.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.Telemetry(recorder, ipConfig))
	router.Use(middlewareCustom.GlobalRateLimit(cfg.Security.GlobalRequestsPerMinute))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, adminHandler, monitoringHandler, authMiddleware, flagStore, limiters, ipConfig, logger)

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

	// Start sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

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

	sweepCancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// preloadFlags seeds the in-memory flag store from the persistent table so
// flagged addresses stay blocked across restarts
func preloadFlags(ctx context.Context, repo *repositories.FlaggedIPRepository, store *anomaly.FlagStore) error {
	flagged, err := repo.List(ctx)
	if err != nil {
		return err
	}
	for _, f := range flagged {
		store.Flag(f.IPAddress, f.Reason)
	}
	return nil
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
	}

	_, err = userRepo.Create(ctx, admin)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
