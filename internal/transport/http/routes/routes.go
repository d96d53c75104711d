package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/infra/config"
	"github.com/arklim/social-platform-growth/internal/transport/http/handlers"
	"github.com/arklim/social-platform-growth/internal/transport/http/middleware"
	"github.com/arklim/social-platform-growth/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Referrals *usecase.ReferralService
	Reviews   *usecase.ReviewWorkflow
	Lifecycle *usecase.LifecycleStateMachine
	Decay     *usecase.DecayMonitor
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config        *config.AppConfig
	Logger        *zap.Logger
	RateLimiter   *middleware.RateLimiter
	Services      ServiceSet
	AdminVerifier middleware.AdminVerifier
	HTTPMetrics   *middleware.HTTPMetrics
	Gatherer      prometheus.Gatherer
	Database      DatabaseChecker
	Cache         CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(deps.HTTPMetrics.Handler())
	if len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(metricsHandler(deps.Gatherer)))

	api := r.Group("/api/v1")
	{
		if deps.Services.Referrals != nil {
			referralHandler := handlers.NewReferralHandler(deps.Services.Referrals)
			referralHandler.RegisterRoutes(api, buildReferralMiddlewares(deps)...)
		}

		if deps.Services.Decay != nil && deps.Services.Lifecycle != nil {
			userHandler := handlers.NewUserHandler(deps.Services.Decay, deps.Services.Lifecycle)
			userHandler.RegisterRoutes(api, buildActivityMiddlewares(deps)...)
		}

		adminGroup := api.Group("/admin")
		adminGroup.Use(middleware.RequireAdmin(deps.AdminVerifier))

		if deps.Services.Reviews != nil {
			reviewHandler := handlers.NewAdminReviewHandler(deps.Services.Reviews)
			reviewHandler.RegisterRoutes(adminGroup)
		}

		if deps.Services.Lifecycle != nil && deps.Services.Decay != nil {
			lifecycleHandler := handlers.NewAdminLifecycleHandler(deps.Services.Lifecycle, deps.Services.Decay)
			lifecycleHandler.RegisterRoutes(adminGroup)
		}
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func buildReferralMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.ReferralMaxAttempts
	if limit <= 0 {
		return nil
	}

	rule := middleware.RateLimitRule{
		Name:       "referral_attempt_ip",
		Limit:      limit,
		Window:     window(deps.Config, time.Minute),
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func buildActivityMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.ActivityMaxAttempts
	if limit <= 0 {
		return nil
	}

	rule := middleware.RateLimitRule{
		Name:       "activity_user",
		Limit:      limit,
		Window:     window(deps.Config, time.Minute),
		Identifier: middleware.PathParamIdentifier("userId"),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func window(cfg *config.AppConfig, fallback time.Duration) time.Duration {
	if cfg.RateLimit.WindowDuration <= 0 {
		return fallback
	}
	return cfg.RateLimit.WindowDuration
}
