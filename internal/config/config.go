// Package config loads engine-wide defaults with viper, the way
// tyemirov-utils/preflight/viperconfig loads scheduler configuration:
// environment variables, an optional file, and struct-tag driven
// unmarshaling into a typed struct.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Engine holds the tunables spec.md leaves to "engine-configured"
// language: replay-log page size, default retry ladder, job TTL.
type Engine struct {
	Namespace string `mapstructure:"namespace"`

	MaxReplayFields int `mapstructure:"max_replay_fields"`
	MaxReplayBytes  int `mapstructure:"max_replay_bytes"`

	DefaultMaxAttempts        int           `mapstructure:"default_max_attempts"`
	DefaultBackoffCoefficient float64       `mapstructure:"default_backoff_coefficient"`
	DefaultMaximumInterval    time.Duration `mapstructure:"default_maximum_interval"`

	JobTTL time.Duration `mapstructure:"job_ttl"`

	KeyPrefix string `mapstructure:"key_prefix"`
}

// Defaults returns the engine defaults used when no config source
// overrides them.
func Defaults() Engine {
	return Engine{
		Namespace:                 "default",
		MaxReplayFields:           1000,
		MaxReplayBytes:            4 << 20,
		DefaultMaxAttempts:        5,
		DefaultBackoffCoefficient: 2.0,
		DefaultMaximumInterval:    time.Minute,
		JobTTL:                    24 * time.Hour,
		KeyPrefix:                 "durable:",
	}
}

// Load builds an Engine config from (in ascending priority) the
// compiled-in defaults, an optional config file, and environment
// variables prefixed DURABLE_ (e.g. DURABLE_NAMESPACE, DURABLE_JOB_TTL).
func Load(configFile string) (Engine, error) {
	v := viper.New()
	defaults := Defaults()

	v.SetDefault("namespace", defaults.Namespace)
	v.SetDefault("max_replay_fields", defaults.MaxReplayFields)
	v.SetDefault("max_replay_bytes", defaults.MaxReplayBytes)
	v.SetDefault("default_max_attempts", defaults.DefaultMaxAttempts)
	v.SetDefault("default_backoff_coefficient", defaults.DefaultBackoffCoefficient)
	v.SetDefault("default_maximum_interval", defaults.DefaultMaximumInterval)
	v.SetDefault("job_ttl", defaults.JobTTL)
	v.SetDefault("key_prefix", defaults.KeyPrefix)

	v.SetEnvPrefix("durable")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Engine{}, errors.Wrap(err, "config: read config file")
		}
	}

	var cfg Engine
	if err := v.Unmarshal(&cfg); err != nil {
		return Engine{}, errors.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}
