package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/scopesignal/internal/batch"
	"github.com/sells-group/scopesignal/internal/cache"
	"github.com/sells-group/scopesignal/internal/classify"
	"github.com/sells-group/scopesignal/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Compliance ComplianceConfig `yaml:"compliance" mapstructure:"compliance"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// ClassifierConfig configures retries and response validation.
type ClassifierConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	ContestableCeiling int     `yaml:"contestable_ceiling" mapstructure:"contestable_ceiling"`
	SoftOpenCeiling    int     `yaml:"soft_open_ceiling" mapstructure:"soft_open_ceiling"`
	AllowFenced        bool    `yaml:"allow_fenced" mapstructure:"allow_fenced"`
}

// BreakerConfig configures the circuit breaker around the model.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CacheConfig configures the result cache backend.
type CacheConfig struct {
	Driver            string `yaml:"driver" mapstructure:"driver"`
	Path              string `yaml:"path" mapstructure:"path"`
	DatabaseURL       string `yaml:"database_url" mapstructure:"database_url"`
	TTLHours          int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	PurgeIntervalMins int    `yaml:"purge_interval_mins" mapstructure:"purge_interval_mins"`
}

// ComplianceConfig configures feasibility scoring.
type ComplianceConfig struct {
	AgencyTablePath string `yaml:"agency_table_path" mapstructure:"agency_table_path"`
	DefaultAgency   string `yaml:"default_agency" mapstructure:"default_agency"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent   int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RatePerSecond   float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
	ItemTimeoutSecs int     `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCOPESIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can resolve it on Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1000)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("classifier.max_attempts", 3)
	v.SetDefault("classifier.initial_backoff_ms", 1000)
	v.SetDefault("classifier.max_backoff_ms", 30000)
	v.SetDefault("classifier.multiplier", 2.0)
	v.SetDefault("classifier.jitter_fraction", 0.25)
	v.SetDefault("classifier.attempt_timeout_secs", 60)
	v.SetDefault("classifier.contestable_ceiling", 85)
	v.SetDefault("classifier.soft_open_ceiling", 75)
	v.SetDefault("classifier.allow_fenced", true)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 30)
	v.SetDefault("cache.driver", cache.DriverSQLite)
	v.SetDefault("cache.path", ".scopesignal_cache.db")
	v.SetDefault("cache.database_url", "")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.purge_interval_mins", 60)
	v.SetDefault("compliance.agency_table_path", "")
	v.SetDefault("compliance.default_agency", "DDC")
	v.SetDefault("batch.max_concurrent", 5)
	v.SetDefault("batch.rate_per_second", 2.0)
	v.SetDefault("batch.burst", 2)
	v.SetDefault("batch.item_timeout_secs", 120)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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

// Validate checks the settings a command mode depends on. Modes:
// "classify" (anything that calls the model), "serve", "cache" and "score".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "classify":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "cache", "score":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode != "score" {
		switch c.Cache.Driver {
		case "", cache.DriverMemory, cache.DriverSQLite, cache.DriverNone, "off":
		case cache.DriverPostgres:
			if c.Cache.DatabaseURL == "" {
				errs = append(errs, "cache.database_url is required for the postgres driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("cache.driver %q is not one of memory, sqlite, postgres, none", c.Cache.Driver))
		}
		if c.Cache.TTLHours < 0 {
			errs = append(errs, "cache.ttl_hours must be >= 0")
		}
	}

	if c.Classifier.MaxAttempts < 1 || c.Classifier.MaxAttempts > 10 {
		errs = append(errs, "classifier.max_attempts must be between 1 and 10")
	}
	if c.Classifier.JitterFraction < 0 || c.Classifier.JitterFraction > 1 {
		errs = append(errs, "classifier.jitter_fraction must be between 0 and 1")
	}
	if c.Classifier.ContestableCeiling < 0 || c.Classifier.ContestableCeiling > 100 {
		errs = append(errs, "classifier.contestable_ceiling must be between 0 and 100")
	}
	if c.Classifier.SoftOpenCeiling < 0 || c.Classifier.SoftOpenCeiling > 100 {
		errs = append(errs, "classifier.soft_open_ceiling must be between 0 and 100")
	}
	if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 50 {
		errs = append(errs, "batch.max_concurrent must be between 1 and 50")
	}
	if c.Batch.RatePerSecond < 0 {
		errs = append(errs, "batch.rate_per_second must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RetryConfig converts the classifier settings to a retry policy.
func (c *Config) RetryConfig() resilience.RetryConfig {
	cl := c.Classifier
	cfg := resilience.FromRetryConfig(cl.MaxAttempts, cl.InitialBackoffMs, cl.MaxBackoffMs,
		cl.Multiplier, cl.JitterFraction, cl.AttemptTimeoutSecs)
	cfg.OnRetry = resilience.RetryLogger("anthropic", "classify")
	return cfg
}

// CircuitConfig converts the breaker settings to a circuit breaker config.
func (c *Config) CircuitConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.FromCircuitConfig(c.Breaker.FailureThreshold, c.Breaker.ResetTimeoutSecs)
	cfg.OnStateChange = resilience.BreakerLogger("anthropic")
	return cfg
}

// EngineConfig returns the classification engine configuration.
func (c *Config) EngineConfig() classify.Config {
	return classify.Config{
		Retry: c.RetryConfig(),
		Validator: classify.ValidatorConfig{
			ContestableCeiling: c.Classifier.ContestableCeiling,
			SoftOpenCeiling:    c.Classifier.SoftOpenCeiling,
			AllowFenced:        c.Classifier.AllowFenced,
		},
	}
}

// CompleterConfig returns the Anthropic completer settings.
func (c *Config) CompleterConfig() classify.AnthropicConfig {
	return classify.AnthropicConfig{
		Model:       c.Anthropic.Model,
		MaxTokens:   int64(c.Anthropic.MaxTokens),
		Temperature: c.Anthropic.Temperature,
	}
}

// CacheTTL returns the result cache TTL; zero hours keeps the default.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLHours <= 0 {
		return cache.DefaultTTL
	}
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// PurgeInterval returns how often the janitor purges expired entries.
func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.Cache.PurgeIntervalMins) * time.Minute
}

// CacheOpenConfig returns the settings for cache.Open.
func (c *Config) CacheOpenConfig() cache.Config {
	return cache.Config{
		Driver:      c.Cache.Driver,
		Path:        c.Cache.Path,
		DatabaseURL: c.Cache.DatabaseURL,
	}
}

// BatchRunnerConfig returns the batch runner limits.
func (c *Config) BatchRunnerConfig() batch.Config {
	return batch.Config{
		MaxConcurrent: c.Batch.MaxConcurrent,
		RatePerSecond: c.Batch.RatePerSecond,
		Burst:         c.Batch.Burst,
		ItemTimeout:   time.Duration(c.Batch.ItemTimeoutSecs) * time.Second,
	}
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
