package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/infra/app"
	"github.com/arklim/social-platform-growth/internal/infra/config"
	"github.com/arklim/social-platform-growth/internal/infra/database"
	"github.com/arklim/social-platform-growth/internal/infra/logger"
	redisinfra "github.com/arklim/social-platform-growth/internal/infra/redis"
	postgresrepo "github.com/arklim/social-platform-growth/internal/repository/postgres"
)

// runtime holds the connections a command needs. Redis is only opened for the redis signal backend.
type runtime struct {
	cfg            *config.AppConfig
	log            *zap.Logger
	pool           *pgxpool.Pool
	redis          *redisinfra.Client
	services       app.Services
	closePublisher func() error
}

func commandLogger(cmd *cobra.Command, cfg *config.AppConfig) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop(), nil
	}
	return logger.New(cfg.App.Env)
}

func openRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := commandLogger(cmd, cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	policy, err := config.LoadPolicy(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log, pool: pool}

	opts := app.ServiceOptions{Config: cfg, Policy: policy, Logger: log}
	if cfg.Signals.Backend == config.SignalBackendRedis {
		client, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rt.redis = client
		opts.Redis = client.Client()
	}

	opts.Publisher, rt.closePublisher = app.NewPublisher(cfg, log)

	services, err := app.NewServices(postgresrepo.NewRepositories(pool), opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.services = services
	return rt, nil
}

func (r *runtime) Close() {
	if r.closePublisher != nil {
		_ = r.closePublisher()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
	_ = r.log.Sync()
}
