// Package config loads award-enricher settings from config.yaml and
// ENRICH_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Registry    RegistryConfig    `yaml:"registry" mapstructure:"registry"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Circuit     CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Match       MatchConfig       `yaml:"match" mapstructure:"match"`
	Consistency ConsistencyConfig `yaml:"validate" mapstructure:"validate"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures the upstream registry API.
type RegistryConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RateLimitConfig sizes each endpoint's token bucket.
type RateLimitConfig struct {
	Capacity        int     `yaml:"capacity" mapstructure:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second" mapstructure:"refill_per_second"`
}

// CircuitConfig configures each endpoint's circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	WindowSecs       int `yaml:"window_secs" mapstructure:"window_secs"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MaxCooldownSecs  int `yaml:"max_cooldown_secs" mapstructure:"max_cooldown_secs"`
}

// RetryConfig configures registry call retries.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs    int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// MatchConfig holds entity matching thresholds.
type MatchConfig struct {
	AcceptThreshold  float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	AmbiguityEpsilon float64 `yaml:"ambiguity_epsilon" mapstructure:"ambiguity_epsilon"`
	SuccessThreshold float64 `yaml:"success_threshold" mapstructure:"success_threshold"`
}

// ConsistencyConfig holds consistency check tolerances.
type ConsistencyConfig struct {
	AmountTolerance   float64 `yaml:"amount_tolerance" mapstructure:"amount_tolerance"`
	DateToleranceDays int     `yaml:"date_tolerance_days" mapstructure:"date_tolerance_days"`
}

// BatchConfig sizes the orchestrator worker pool.
type BatchConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the job-control HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewQueueThreshold int     `yaml:"review_queue_threshold" mapstructure:"review_queue_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional) and ENRICH_*
// environment variables, applying defaults for every key.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "award-enricher.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("registry.base_url", "https://api.sam.gov")
	v.SetDefault("registry.api_key", "")
	v.SetDefault("registry.timeout_secs", 10)
	v.SetDefault("rate_limit.capacity", 10)
	v.SetDefault("rate_limit.refill_per_second", 5)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.window_secs", 60)
	v.SetDefault("circuit.cooldown_secs", 30)
	v.SetDefault("circuit.max_cooldown_secs", 300)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("match.accept_threshold", 0.75)
	v.SetDefault("match.ambiguity_epsilon", 0.05)
	v.SetDefault("match.success_threshold", 0.8)
	v.SetDefault("validate.amount_tolerance", 0.01)
	v.SetDefault("validate.date_tolerance_days", 1)
	v.SetDefault("batch.workers", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.review_queue_threshold", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks ranges and the settings required by the given command
// ("enrich", "serve", "import" or "" for the common subset).
func (c *Config) Validate(mode string) error {
	switch mode {
	case "", "enrich", "serve", "import":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Match.AcceptThreshold <= 0 || c.Match.AcceptThreshold > 1 {
		errs = append(errs, "match.accept_threshold must be in (0, 1]")
	}
	if c.Match.SuccessThreshold <= 0 || c.Match.SuccessThreshold > 1 {
		errs = append(errs, "match.success_threshold must be in (0, 1]")
	}
	if c.Match.AmbiguityEpsilon < 0 || c.Match.AmbiguityEpsilon >= 1 {
		errs = append(errs, "match.ambiguity_epsilon must be in [0, 1)")
	}
	if c.Consistency.AmountTolerance < 0 {
		errs = append(errs, "validate.amount_tolerance must be >= 0")
	}

	if mode == "enrich" || mode == "serve" {
		if c.Registry.BaseURL == "" {
			errs = append(errs, "registry.base_url is required")
		}
		if c.Registry.APIKey == "" {
			errs = append(errs, "registry.api_key is required")
		}
		if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerSecond <= 0 {
			errs = append(errs, "rate_limit.capacity and rate_limit.refill_per_second must be > 0")
		}
		if c.Batch.Workers < 1 || c.Batch.Workers > 64 {
			errs = append(errs, fmt.Sprintf("batch.workers must be between 1 and 64, got %d", c.Batch.Workers))
		}
		if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
			errs = append(errs, "retry.jitter_fraction must be in [0, 1]")
		}
	}
	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be in [0, 1]")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
