// Package config loads tap settings from a config file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/schema"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TAP_SEARCHSTAX_PASSWORD.
const EnvPrefix = "TAP_SEARCHSTAX"

// State backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Defaults.
const (
	DefaultAPIURL            = "https://app.searchstax.com/api/rest/v2"
	DefaultRequestsPerSecond = 5.0
	DefaultMaxRetries        = 3
	DefaultRequestTimeout    = 30 * time.Second
	DefaultRedisKey          = "tap-searchstax:state"

	periodLayout = "2006-01"
)

var keys = []string{
	"user_name", "password", "start_date", "user_agent", "api_url",
	"usage_period", "streams", "requests_per_second", "burst", "max_retries",
	"request_timeout", "state_backend", "state_path", "redis_url", "redis_key",
}

// Config holds the tap settings.
type Config struct {
	UserName string `mapstructure:"user_name"`
	Password string `mapstructure:"password"`

	// StartDate bounds the first run of incremental resources (optional).
	StartDate string `mapstructure:"start_date"`

	UserAgent string `mapstructure:"user_agent"`
	APIURL    string `mapstructure:"api_url"`

	// UsagePeriod selects the usage month as YYYY-MM (default: current UTC month).
	UsagePeriod string `mapstructure:"usage_period"`

	// Streams restricts the emitted resources. Empty selects all.
	Streams []string `mapstructure:"streams"`

	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`

	StateBackend string `mapstructure:"state_backend"`
	StatePath    string `mapstructure:"state_path"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisKey     string `mapstructure:"redis_key"`
}

// Load reads path (JSON, YAML or TOML by extension; empty skips the file)
// and applies TAP_SEARCHSTAX_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_url", DefaultAPIURL)
	v.SetDefault("requests_per_second", DefaultRequestsPerSecond)
	v.SetDefault("burst", 1)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("state_backend", BackendFile)
	v.SetDefault("redis_key", DefaultRedisKey)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.UserName == "" {
		return errors.New("user_name is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("api_url must be an absolute URL (got %q)", c.APIURL)
	}

	if _, err := c.Start(); err != nil {
		return err
	}
	if _, _, err := c.Period(time.Now()); err != nil {
		return err
	}

	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be > 0 (got %v)", c.RequestsPerSecond)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be >= 1 (got %d)", c.Burst)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0 (got %s)", c.RequestTimeout)
	}

	switch c.StateBackend {
	case BackendFile:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("redis_url is required for the redis state backend")
		}
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			return fmt.Errorf("redis_url: %w", err)
		}
		if c.RedisKey == "" {
			return errors.New("redis_key must not be empty")
		}
	default:
		return fmt.Errorf("state_backend must be %q or %q (got %q)", BackendFile, BackendRedis, c.StateBackend)
	}
	return nil
}

// Start returns the parsed start_date, or the zero time when unset.
func (c *Config) Start() (time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, nil
	}
	t, err := schema.ParseTime(c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	return t, nil
}

// Period returns the usage year and month, defaulting to the month of now
// in UTC.
func (c *Config) Period(now time.Time) (year, month int, err error) {
	if c.UsagePeriod == "" {
		now = now.UTC()
		return now.Year(), int(now.Month()), nil
	}
	t, err := time.Parse(periodLayout, c.UsagePeriod)
	if err != nil {
		return 0, 0, fmt.Errorf("usage_period must be YYYY-MM (got %q)", c.UsagePeriod)
	}
	return t.Year(), int(t.Month()), nil
}

// RedisOptions parses redis_url.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis_url: %w", err)
	}
	return opts, nil
}
