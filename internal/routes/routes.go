package routes

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medigate/backend/internal/anomaly"
	"github.com/medigate/backend/internal/auth"
	"github.com/medigate/backend/internal/handlers"
	"github.com/medigate/backend/internal/middleware"
	"github.com/medigate/backend/internal/models"
	"github.com/medigate/backend/internal/ratelimit"
	pkghttp "github.com/medigate/backend/pkg/http"
)

// Limiters holds the per-group admission policies. Each route group gets its
// own algorithm: strict fixed windows for the auth surface, a token bucket
// for the general API, and a sliding window for admin endpoints.
type Limiters struct {
	Auth  *ratelimit.FixedWindow
	API   *ratelimit.TokenBucket
	Admin *ratelimit.SlidingWindow
}

// NewLimiters builds the default admission policies
func NewLimiters() *Limiters {
	return &Limiters{
		Auth:  ratelimit.NewFixedWindow(5, time.Minute, 2),
		API:   ratelimit.NewTokenBucket(10, 30*time.Second, 1),
		Admin: ratelimit.NewSlidingWindow(5, time.Minute, 1),
	}
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	monitoringHandler *handlers.MonitoringHandler,
	authMiddleware *auth.Middleware,
	flags *anomaly.FlagStore,
	limiters *Limiters,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) {
	flagGate := middleware.FlagGate(flags, ipConfig, logger)

	// Auth surface: flagged addresses are turned away before the limiter
	// spends any budget on them
	router.Group(func(r chi.Router) {
		r.Use(flagGate)
		r.Use(middleware.PolicyLimit(limiters.Auth, ipConfig, logger))

		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/verify-2fa", authHandler.VerifyMFA)
		r.Post("/auth/resend-2fa", authHandler.ResendMFA)
	})

	// General API: authenticated users
	router.Group(func(r chi.Router) {
		r.Use(flagGate)
		r.Use(middleware.PolicyLimit(limiters.API, ipConfig, logger))
		r.Use(authMiddleware.Authenticate)

		r.Get("/users/me", authHandler.Me)
	})

	// Admin surface
	router.Group(func(r chi.Router) {
		r.Use(flagGate)
		r.Use(middleware.PolicyLimit(limiters.Admin, ipConfig, logger))
		r.Use(authMiddleware.Authenticate)
		r.Use(authMiddleware.RequireRole(models.RoleAdmin))

		r.Get("/admin/login-attempts", adminHandler.ListLoginAttempts)
		r.Get("/admin/flagged-ips", adminHandler.ListFlaggedIPs)
		r.Post("/admin/flag-ip", adminHandler.FlagIP)
		r.Post("/admin/unflag-ip", adminHandler.UnflagIP)
		r.Get("/admin/metrics", monitoringHandler.Metrics)
	})
}
