// Package config loads shopify-bulk settings from defaults, an optional YAML
// file and SHOPIFY_BULK_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rikpy/shopify-bulk/pkg/bulk"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/logging"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SHOPIFY_BULK_SHOP_NAME.
const EnvPrefix = "SHOPIFY_BULK"

// Config is the full application configuration.
type Config struct {
	Shop      ShopConfig      `mapstructure:"shop"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Bulk      BulkConfig      `mapstructure:"bulk"`
	Images    ImageConfig     `mapstructure:"images"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ShopConfig identifies the shop and its API.
type ShopConfig struct {
	Name        string        `mapstructure:"name"`
	AccessToken string        `mapstructure:"access_token"`
	APIVersion  string        `mapstructure:"api_version"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`

	// Publication is the sales channel collections are unpublished from.
	Publication string `mapstructure:"publication"`

	// PageSize is the number of nodes requested per page.
	PageSize int `mapstructure:"page_size"`
}

// RateLimitConfig configures the per-operation limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	Jitter            time.Duration `mapstructure:"jitter"`
}

// BulkConfig configures bulk operations.
type BulkConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	WorkDir      string        `mapstructure:"work_dir"`
	SlotTTL      time.Duration `mapstructure:"slot_ttl"`
}

// ImageConfig configures image URL resolution.
type ImageConfig struct {
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// RedisConfig configures the optional Redis used for the lookup cache and
// the bulk slot. An empty Addr disables both.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig configures the lookup cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the metrics server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default. Keys without a default
// are invisible to AutomaticEnv during Unmarshal, so all keys are listed.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("shop.name", "")
	v.SetDefault("shop.access_token", "")
	v.SetDefault("shop.api_version", client.DefaultAPIVersion)
	v.SetDefault("shop.base_url", "")
	v.SetDefault("shop.timeout", "30s")
	v.SetDefault("shop.user_agent", "shopify-bulk/1.0")
	v.SetDefault("shop.publication", "Online Store")
	v.SetDefault("shop.page_size", 250)

	v.SetDefault("rate_limit.requests_per_second", ratelimit.DefaultMaxRequestsPerSecond)
	v.SetDefault("rate_limit.max_retries", ratelimit.DefaultMaxRetries)
	v.SetDefault("rate_limit.base_delay", ratelimit.DefaultBaseDelay.String())
	v.SetDefault("rate_limit.jitter", ratelimit.DefaultJitter.String())

	v.SetDefault("bulk.poll_interval", "10s")
	v.SetDefault("bulk.timeout", "0s")
	v.SetDefault("bulk.work_dir", os.TempDir())
	v.SetDefault("bulk.slot_ttl", bulk.DefaultSlotTTL.String())

	v.SetDefault("images.retries", 3)
	v.SetDefault("images.retry_delay", "2s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.ttl", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("metrics.addr", ":9090")
}

// Load reads configuration into a new Config. cfgFile is optional; without
// it, config.yaml is searched in the working directory and ./config.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// It's OK if no config file exists, defaults and env cover everything.
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

var apiVersionPattern = regexp.MustCompile(`^\d{4}-\d{2}$|^unstable$`)

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Shop.Name) == "" && c.Shop.BaseURL == "" {
		errs = append(errs, errors.New("shop.name is required"))
	}
	if strings.TrimSpace(c.Shop.AccessToken) == "" {
		errs = append(errs, errors.New("shop.access_token is required"))
	}
	if !apiVersionPattern.MatchString(c.Shop.APIVersion) {
		errs = append(errs, fmt.Errorf("shop.api_version %q is not YYYY-MM", c.Shop.APIVersion))
	}
	if c.Shop.PageSize < 1 || c.Shop.PageSize > 250 {
		errs = append(errs, fmt.Errorf("shop.page_size %d is outside 1..250", c.Shop.PageSize))
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must be positive"))
	}
	if c.RateLimit.MaxRetries < 1 {
		errs = append(errs, errors.New("rate_limit.max_retries must be at least 1"))
	}
	if c.Bulk.PollInterval <= 0 {
		errs = append(errs, errors.New("bulk.poll_interval must be positive"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// ClientConfig returns the GraphQL client settings.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Shop.Name, c.Shop.AccessToken)
	cfg.APIVersion = c.Shop.APIVersion
	cfg.BaseURL = c.Shop.BaseURL
	if c.Shop.UserAgent != "" {
		cfg.UserAgent = c.Shop.UserAgent
	}
	if c.Shop.Timeout > 0 {
		cfg.Timeout = c.Shop.Timeout
	}
	return cfg
}

// RateLimitConfig returns the limiter settings.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxRequestsPerSecond: c.RateLimit.RequestsPerSecond,
		MaxRetries:           c.RateLimit.MaxRetries,
		BaseDelay:            c.RateLimit.BaseDelay,
		Jitter:               c.RateLimit.Jitter,
	}
}

// BulkConfig returns the bulk runner settings.
func (c *Config) BulkConfig() bulk.Config {
	return bulk.Config{
		PollInterval: c.Bulk.PollInterval,
		Timeout:      c.Bulk.Timeout,
	}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	cfg.Shop = c.Shop.Name
	return cfg
}
