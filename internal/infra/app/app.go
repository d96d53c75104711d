package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/infra/config"
	"github.com/arklim/social-platform-growth/internal/infra/database"
	kafkainfra "github.com/arklim/social-platform-growth/internal/infra/kafka"
	"github.com/arklim/social-platform-growth/internal/infra/logger"
	redisinfra "github.com/arklim/social-platform-growth/internal/infra/redis"
	"github.com/arklim/social-platform-growth/internal/infra/scheduler"
	"github.com/arklim/social-platform-growth/internal/infra/security"
	"github.com/arklim/social-platform-growth/internal/infra/telemetry"
	postgresrepo "github.com/arklim/social-platform-growth/internal/repository/postgres"
	redisrepo "github.com/arklim/social-platform-growth/internal/repository/redis"
	"github.com/arklim/social-platform-growth/internal/transport/http/middleware"
	"github.com/arklim/social-platform-growth/internal/transport/http/routes"
)

type Application struct {
	cfg            *config.AppConfig
	engine         *gin.Engine
	logger         *zap.Logger
	pool           *pgxpool.Pool
	redis          *redisinfra.Client
	tracer         *telemetry.TracerProvider
	closePublisher func() error
	consumer       *kafkainfra.ConsumerGroup
	schedule       *scheduler.DecaySchedule
	metricsServer  *http.Server
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	policy, err := config.LoadPolicy(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	growthMetrics, err := telemetry.NewGrowthMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init growth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := database.Migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)
	publisher, closePublisher := NewPublisher(cfg, log)

	services, err := NewServices(repos, ServiceOptions{
		Config:    cfg,
		Policy:    policy,
		Logger:    log,
		Metrics:   growthMetrics,
		Publisher: publisher,
		Redis:     redisClient.Client(),
	})
	if err != nil {
		_ = closePublisher()
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init services: %w", err)
	}

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "growth:rate-limit",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		HTTPMetrics: httpMetrics,
		Gatherer:    registry,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Referrals: services.Referrals,
			Reviews:   services.Reviews,
			Lifecycle: services.Lifecycle,
			Decay:     services.Decay,
		},
	}

	if cfg.JWT.AdminSecret != "" {
		tokens, err := security.NewAdminTokenManager(cfg.JWT)
		if err != nil {
			_ = closePublisher()
			_ = redisClient.Close()
			pool.Close()
			return nil, fmt.Errorf("init admin tokens: %w", err)
		}
		deps.AdminVerifier = tokens
	} else {
		log.Warn("jwt.admin_secret not set, admin endpoints are disabled")
	}

	application := &Application{
		cfg:            cfg,
		engine:         routes.Register(deps),
		logger:         log,
		pool:           pool,
		redis:          redisClient,
		tracer:         tracer,
		closePublisher: closePublisher,
	}

	if cfg.Kafka.ConsumeEvents && len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafkainfra.NewConsumerGroup(cfg.Kafka, map[string]kafkainfra.MessageHandler{
			kafkainfra.EventReferralAttempted: kafkainfra.NewReferralAttemptConsumer(services.Referrals, log),
			kafkainfra.EventUserActivity:      kafkainfra.NewActivityConsumer(services.Decay, log),
		}, log)
		if err != nil {
			application.close()
			return nil, fmt.Errorf("init kafka consumer: %w", err)
		}
		application.consumer = consumer
	}

	if cfg.Decay.Enabled {
		schedule, err := scheduler.NewDecaySchedule(cfg.Decay.Schedule, services.Decay, cfg.Decay.Timeout, log)
		if err != nil {
			application.close()
			return nil, fmt.Errorf("init decay schedule: %w", err)
		}
		application.schedule = schedule
	}

	if port := cfg.Telemetry.MetricsPort; port > 0 && port != cfg.App.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		application.metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.App.Host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return application, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting growth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("signal_backend", a.cfg.Signals.Backend),
	)

	errCh := make(chan error, 3)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("run metrics server: %w", err)
			}
		}()
	}

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if a.consumer != nil {
		a.logger.Info("starting kafka consumer", zap.Strings("topics", a.consumer.Topics()))
		go func() {
			if err := a.consumer.Run(consumerCtx); err != nil {
				errCh <- fmt.Errorf("run kafka consumer: %w", err)
			}
		}()
	}

	if a.schedule != nil {
		a.schedule.Start()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.schedule != nil {
		if err := a.schedule.Stop(shutdownCtx); err != nil {
			a.logger.Warn("decay sweep did not stop cleanly", zap.Error(err))
		}
	}
	stopConsumer()
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown server: %w", err)
	}
	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("failed to flush traces", zap.Error(err))
	}
	return runErr
}

func (a *Application) close() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("failed to close kafka consumer", zap.Error(err))
		}
	}
	if a.closePublisher != nil {
		if err := a.closePublisher(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
