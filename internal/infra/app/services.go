package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
	"github.com/arklim/social-platform-growth/internal/infra/config"
	kafkainfra "github.com/arklim/social-platform-growth/internal/infra/kafka"
	postgresrepo "github.com/arklim/social-platform-growth/internal/repository/postgres"
	redisrepo "github.com/arklim/social-platform-growth/internal/repository/redis"
	"github.com/arklim/social-platform-growth/internal/repository/resilient"
	"github.com/arklim/social-platform-growth/internal/usecase"
)

// Services groups the growth usecases shared by the API and growthctl.
type Services struct {
	Referrals *usecase.ReferralService
	Reviews   *usecase.ReviewWorkflow
	Lifecycle *usecase.LifecycleStateMachine
	Decay     *usecase.DecayMonitor
	Signals   *resilient.SignalStore
}

// ServiceOptions carries the collaborators NewServices does not build itself.
type ServiceOptions struct {
	Config    *config.AppConfig
	Policy    domain.Policy
	Logger    *zap.Logger
	Metrics   usecase.GrowthMetrics
	Publisher port.EventPublisher
	// Redis is required only when the signal backend is redis.
	Redis *redis.Client
}

// NewServices wires the scorer, review workflow, lifecycle state machine and decay monitor over repos.
func NewServices(repos *postgresrepo.Repositories, opts ServiceOptions) (Services, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	policy := opts.Policy
	if cfg.Signals.QueryTimeout > 0 {
		policy.Scoring.QueryTimeout = cfg.Signals.QueryTimeout
	}

	backend, err := newSignalBackend(cfg, repos, opts.Redis)
	if err != nil {
		return Services{}, err
	}
	signals := resilient.NewSignalStore(backend, resilient.BreakerSettings{
		Name:                "signals-" + cfg.Signals.Backend,
		ConsecutiveFailures: cfg.Signals.BreakerFailures,
		OpenFor:             cfg.Signals.BreakerOpenFor,
		Interval:            cfg.Signals.BreakerInterval,
	}, log)

	lifecycle := usecase.NewLifecycleStateMachine(repos.Transactor, repos.Users, opts.Publisher, policy.Lifecycle).
		WithLogger(log.Named("lifecycle"))
	review := usecase.NewReviewWorkflow(repos.Transactor, repos.Referrals, repos.Users, lifecycle, opts.Publisher).
		WithLogger(log.Named("review"))
	scorer := usecase.NewFraudScorer(signals, policy.Scoring).
		WithLogger(log.Named("scorer"))
	decay := usecase.NewDecayMonitor(repos.Transactor, repos.Users, lifecycle, opts.Publisher, policy.Decay, usecase.DecayOptions{
		Concurrency: cfg.Decay.Concurrency,
		PageSize:    cfg.Decay.PageSize,
	}).WithLogger(log.Named("decay"))

	if opts.Metrics != nil {
		lifecycle.WithMetrics(opts.Metrics)
		review.WithMetrics(opts.Metrics)
		scorer.WithMetrics(opts.Metrics)
		decay.WithMetrics(opts.Metrics)
	}

	referrals := usecase.NewReferralService(repos.Referrals, signals, scorer, review, lifecycle, opts.Publisher).
		WithLogger(log.Named("referrals"))

	return Services{
		Referrals: referrals,
		Reviews:   review,
		Lifecycle: lifecycle,
		Decay:     decay,
		Signals:   signals,
	}, nil
}

func newSignalBackend(cfg *config.AppConfig, repos *postgresrepo.Repositories, client *redis.Client) (port.SignalStore, error) {
	switch cfg.Signals.Backend {
	case "", config.SignalBackendPostgres:
		return repos.Referrals, nil
	case config.SignalBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("signal backend %q requires a redis client", cfg.Signals.Backend)
		}
		return redisrepo.NewSignalIndex(client, redisrepo.SignalIndexConfig{
			KeyPrefix: cfg.Redis.SignalPrefix,
			TTL:       cfg.Redis.SignalTTL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown signal backend %q", cfg.Signals.Backend)
	}
}

// NewPublisher returns the Kafka publisher when brokers are configured and the logging stub otherwise.
// The returned close func is never nil.
func NewPublisher(cfg *config.AppConfig, log *zap.Logger) (port.EventPublisher, func() error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(log), func() error { return nil }
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log), func() error { return nil }
	}

	log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, cfg.App, log), producer.Close
}

