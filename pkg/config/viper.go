// Package config loads jobcrawl settings from defaults, an optional config
// file and JOBCRAWL_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/JakeFAU/jobcrawl/pkg/crawler"
)

// EnvPrefix is prepended to every environment override,
// e.g. JOBCRAWL_CRAWLER_MAX_CONNECTIONS=4.
const EnvPrefix = "JOBCRAWL"

// SetDefaults registers the default value of every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crawler.initial_urls", []string{})
	v.SetDefault("crawler.max_connections", crawler.DefaultMaxConnections)
	v.SetDefault("crawler.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("crawler.request_timeout", crawler.DefaultRequestTimeout.String())
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("crawler.stop_on_error", false)
	v.SetDefault("crawler.same_host_only", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "stderr")
	v.SetDefault("log.development", false)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("progress.log_events", false)
}

// Load builds a Viper instance with defaults and environment bindings. When
// path is set that file must exist; otherwise config.{yaml,toml,json} is
// looked up in the working directory and $HOME/.jobcrawl, and a missing file
// is not an error.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.jobcrawl")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}
