package crawler

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultMaxConnections = 10
	DefaultRequestTimeout = 30 * time.Second
)

// Config holds the settings for one crawl run.
type Config struct {
	// Seeds are turned into "initial" jobs when the run starts.
	Seeds []string
	// MaxConnections caps the number of fetches in flight at once.
	MaxConnections int
	// UserAgent is sent with every request unless a job overrides it.
	UserAgent string
	// RequestTimeout bounds a single fetch.
	RequestTimeout time.Duration
	// MaxBodyBytes fails fetches whose body is larger. Zero means no limit.
	MaxBodyBytes int64
	// StopOnError cancels the remaining work after the first failed job.
	// When false every error is collected and reported after the run drains.
	StopOnError bool
}

// WithDefaults fills zero values with their defaults.
func (c Config) WithDefaults() Config {
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Validate checks for obviously bad configuration values.
func (c Config) Validate() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("crawler.max_connections must be >= 1, got %d", c.MaxConnections)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("crawler.request_timeout must be >= 0, got %s", c.RequestTimeout)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("crawler.max_body_bytes must be >= 0, got %d", c.MaxBodyBytes)
	}
	return nil
}

// LoadConfig reads the crawler.* keys from v, applies defaults and validates.
func LoadConfig(v *viper.Viper) (Config, error) {
	maxConns := v.GetInt("crawler.max_connections")
	if v.IsSet("crawler.max-connections") {
		maxConns = v.GetInt("crawler.max-connections")
	}
	cfg := Config{
		Seeds:          v.GetStringSlice("crawler.initial_urls"),
		MaxConnections: maxConns,
		UserAgent:      v.GetString("crawler.user_agent"),
		RequestTimeout: v.GetDuration("crawler.request_timeout"),
		MaxBodyBytes:   v.GetInt64("crawler.max_body_bytes"),
		StopOnError:    v.GetBool("crawler.stop_on_error"),
	}.WithDefaults()
	return cfg, cfg.Validate()
}
