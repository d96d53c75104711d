package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Signals   SignalSettings    `mapstructure:"signals"`
	Decay     DecaySettings     `mapstructure:"decay"`
	Policy    PolicySettings    `mapstructure:"policy"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// CORSOrigins lists origins allowed to call the admin surface from a browser.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	DB           int           `mapstructure:"db"`
	Password     string        `mapstructure:"password"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	SignalPrefix string        `mapstructure:"signal_prefix"`
	SignalTTL    time.Duration `mapstructure:"signal_ttl"`
}

// KafkaSettings configures the producer and the inbound consumer group
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	Async         bool     `mapstructure:"async"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ConsumeEvents bool     `mapstructure:"consume_events"`
}

// RateLimitSettings configures the sliding window on the public referral endpoint
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	ReferralMaxAttempts int           `mapstructure:"referral_max_attempts"`
	ActivityMaxAttempts int           `mapstructure:"activity_max_attempts"`
}

// JWTSettings configures verification of admin bearer tokens
type JWTSettings struct {
	AdminSecret string        `mapstructure:"admin_secret"`
	Issuer      string        `mapstructure:"issuer"`
	Audience    string        `mapstructure:"audience"`
	AdminRole   string        `mapstructure:"admin_role"`
	Leeway      time.Duration `mapstructure:"leeway"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// SignalSettings selects where fraud signals are read from and how failures trip the breaker
type SignalSettings struct {
	Backend         string        `mapstructure:"backend"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerOpenFor  time.Duration `mapstructure:"breaker_open_for"`
	BreakerInterval time.Duration `mapstructure:"breaker_interval"`
}

// DecaySettings configures the scheduled inactivity sweep
type DecaySettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Schedule    string `mapstructure:"schedule"`
	Concurrency int    `mapstructure:"concurrency"`
	PageSize    int    `mapstructure:"page_size"`
	// Timeout bounds one scheduled sweep. Zero means unbounded.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PolicySettings points at an optional YAML policy document
type PolicySettings struct {
	Path string `mapstructure:"path"`
}

const (
	SignalBackendPostgres = "postgres"
	SignalBackendRedis    = "redis"
)

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("GROWTH")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.signal_prefix",
		"redis.signal_ttl",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"kafka.consume_events",
		"jwt.admin_secret",
		"jwt.issuer",
		"jwt.audience",
		"jwt.admin_role",
		"jwt.leeway",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.referral_max_attempts",
		"rate_limit.activity_max_attempts",
		"signals.backend",
		"signals.query_timeout",
		"signals.breaker_failures",
		"signals.breaker_open_for",
		"signals.breaker_interval",
		"decay.enabled",
		"decay.schedule",
		"decay.concurrency",
		"decay.page_size",
		"decay.timeout",
		"policy.path",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Signals.Backend {
	case SignalBackendPostgres, SignalBackendRedis:
	default:
		return fmt.Errorf("signals.backend must be %q or %q, got %q", SignalBackendPostgres, SignalBackendRedis, c.Signals.Backend)
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "growth-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "growth")
	v.SetDefault("postgres.password", "growth_password")
	v.SetDefault("postgres.database", "growth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.signal_prefix", "growth:signals")
	v.SetDefault("redis.signal_ttl", "744h")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "growth")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "growth-service")
	v.SetDefault("kafka.consume_events", false)

	v.SetDefault("jwt.admin_secret", "")
	v.SetDefault("jwt.issuer", "social-platform-growth")
	v.SetDefault("jwt.audience", "growth-admin")
	v.SetDefault("jwt.admin_role", "growth:reviewer")
	v.SetDefault("jwt.leeway", "30s")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "growth-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.referral_max_attempts", 20)
	v.SetDefault("rate_limit.activity_max_attempts", 120)

	v.SetDefault("signals.backend", SignalBackendPostgres)
	v.SetDefault("signals.query_timeout", "2s")
	v.SetDefault("signals.breaker_failures", 5)
	v.SetDefault("signals.breaker_open_for", "30s")
	v.SetDefault("signals.breaker_interval", "60s")

	v.SetDefault("decay.enabled", true)
	v.SetDefault("decay.schedule", "0 3 * * *")
	v.SetDefault("decay.concurrency", 8)
	v.SetDefault("decay.page_size", 200)
	v.SetDefault("decay.timeout", "30m")

	v.SetDefault("policy.path", "")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "GROWTH_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
