package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Inference  InferenceConfig  `mapstructure:"inference"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	Limit        int    `mapstructure:"limit"`
	Window       string `mapstructure:"window"`
	FailClosed   bool   `mapstructure:"fail_closed"`
	StoreTimeout string `mapstructure:"store_timeout"`

	window       time.Duration
	storeTimeout time.Duration
}

func (c *RateLimitConfig) WindowDuration() time.Duration { return c.window }

func (c *RateLimitConfig) StoreTimeoutDuration() time.Duration { return c.storeTimeout }

type CacheConfig struct {
	TTL          string `mapstructure:"ttl"`
	StoreTimeout string `mapstructure:"store_timeout"`
	SingleFlight bool   `mapstructure:"single_flight"`

	ttl          time.Duration
	storeTimeout time.Duration
}

func (c *CacheConfig) TTLDuration() time.Duration { return c.ttl }

func (c *CacheConfig) StoreTimeoutDuration() time.Duration { return c.storeTimeout }

// ModerationConfig carries the category mapping and default thresholds.
// Both are data, validated once at load; never consulted per request
// beyond the already-validated structures.
type ModerationConfig struct {
	// Categories maps each semantic category to the raw model labels
	// that contribute to it. Many-to-many: a label may appear under
	// several categories.
	Categories map[string][]string `mapstructure:"categories"`
	// Thresholds holds the process-wide default threshold per category.
	Thresholds map[string]float64 `mapstructure:"thresholds"`
}

type InferenceConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Timeout         string `mapstructure:"timeout"`
	BreakerTimeout  string `mapstructure:"breaker_timeout"`
	BreakerFailures uint32 `mapstructure:"breaker_failures"`

	timeout        time.Duration
	breakerTimeout time.Duration
}

func (c *InferenceConfig) TimeoutDuration() time.Duration { return c.timeout }

func (c *InferenceConfig) BreakerTimeoutDuration() time.Duration { return c.breakerTimeout }

var globalConfig Config

func Load(configPath string) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&globalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return globalConfig.Validate()
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("rate_limit.limit", 100)
	viper.SetDefault("rate_limit.window", "1m")
	viper.SetDefault("rate_limit.store_timeout", "2s")
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("cache.store_timeout", "2s")
	viper.SetDefault("inference.timeout", "30s")
	viper.SetDefault("inference.breaker_timeout", "30s")
	viper.SetDefault("inference.breaker_failures", 5)
	viper.SetDefault("moderation.thresholds", map[string]float64{
		"harassment": 0.7,
		"hate":       0.7,
		"profanity":  0.6,
		"sexual":     0.7,
		"spam":       0.8,
		"violence":   0.6,
	})
	viper.SetDefault("moderation.categories", map[string][]string{
		"harassment": {"toxic", "insult"},
		"hate":       {"severe_toxic", "identity_hate"},
		"profanity":  {"obscene"},
		"sexual":     {"obscene"},
		"spam":       {"toxic"},
		"violence":   {"threat"},
	})
}

// Validate checks the loaded configuration. Invalid thresholds or a
// malformed category mapping are fatal at startup, never at request time.
func (c *Config) Validate() error {
	var err error
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must not be negative, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.window, err = time.ParseDuration(c.RateLimit.Window); err != nil {
		return fmt.Errorf("invalid rate_limit.window: %w", err)
	}
	// The admission script operates on whole-second scores; a window that
	// truncates to zero seconds would purge every entry and never reject.
	if c.RateLimit.window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1s, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.storeTimeout, err = time.ParseDuration(c.RateLimit.StoreTimeout); err != nil {
		return fmt.Errorf("invalid rate_limit.store_timeout: %w", err)
	}
	if c.RateLimit.storeTimeout <= 0 {
		return fmt.Errorf("rate_limit.store_timeout must be positive, got %s", c.RateLimit.StoreTimeout)
	}
	if c.Cache.ttl, err = time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("invalid cache.ttl: %w", err)
	}
	if c.Cache.ttl <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.storeTimeout, err = time.ParseDuration(c.Cache.StoreTimeout); err != nil {
		return fmt.Errorf("invalid cache.store_timeout: %w", err)
	}
	if c.Cache.storeTimeout <= 0 {
		return fmt.Errorf("cache.store_timeout must be positive, got %s", c.Cache.StoreTimeout)
	}
	if c.Inference.timeout, err = time.ParseDuration(c.Inference.Timeout); err != nil {
		return fmt.Errorf("invalid inference.timeout: %w", err)
	}
	if c.Inference.timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive, got %s", c.Inference.Timeout)
	}
	if c.Inference.breakerTimeout, err = time.ParseDuration(c.Inference.BreakerTimeout); err != nil {
		return fmt.Errorf("invalid inference.breaker_timeout: %w", err)
	}
	if c.Inference.breakerTimeout <= 0 {
		return fmt.Errorf("inference.breaker_timeout must be positive, got %s", c.Inference.BreakerTimeout)
	}

	if len(c.Moderation.Categories) == 0 {
		return fmt.Errorf("moderation.categories must not be empty")
	}
	for category, labels := range c.Moderation.Categories {
		if len(labels) == 0 {
			return fmt.Errorf("category %q has no contributing labels", category)
		}
		if _, ok := c.Moderation.Thresholds[category]; !ok {
			return fmt.Errorf("category %q has no default threshold", category)
		}
	}
	for category, threshold := range c.Moderation.Thresholds {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("threshold for %q must be in [0,1], got %f", category, threshold)
		}
		if _, ok := c.Moderation.Categories[category]; !ok {
			return fmt.Errorf("threshold for unknown category %q", category)
		}
	}
	return nil
}

func GetConfig() *Config {
	return &globalConfig
}
