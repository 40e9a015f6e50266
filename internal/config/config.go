// Package config loads service configuration from an optional YAML file,
// LEARNWISE_-prefixed environment variables, and command line flags, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "LEARNWISE_"

type Config struct {
	ListenAddr   string `koanf:"listen_addr" validate:"required,hostname_port"`
	DatabasePath string `koanf:"database_path" validate:"required"`
	LogLevel     string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// RedisAddr enables the Redis question cache when set. Empty keeps the
	// in-process cache.
	RedisAddr string        `koanf:"redis_addr" validate:"omitempty,hostname_port"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"min=0"`

	Session   SessionConfig   `koanf:"session"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
}

type SessionConfig struct {
	MaxQuestions int           `koanf:"max_questions" validate:"min=1,max=100"`
	Timeout      time.Duration `koanf:"timeout" validate:"min=1m"`
}

type SchedulerConfig struct {
	DesiredRetention float64 `koanf:"desired_retention" validate:"gt=0,lt=1"`
	MaximumInterval  int     `koanf:"maximum_interval" validate:"min=1"`
}

func defaults() Config {
	return Config{
		ListenAddr:   "localhost:8080",
		DatabasePath: "learnwise.db",
		LogLevel:     "info",
		CacheTTL:     5 * time.Minute,
		Session: SessionConfig{
			MaxQuestions: 20,
			Timeout:      2 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			DesiredRetention: 0.9,
			MaximumInterval:  36500,
		},
	}
}

// Load merges defaults, the YAML file at path (skipped when absent),
// environment variables, and flags, then validates the result. flags may be
// nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	// LEARNWISE_SESSION_MAX_QUESTIONS -> session.max_questions.
	err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return envKey(strings.ToLower(strings.TrimPrefix(key, envPrefix)))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps a lowercased env var suffix to its koanf key. Nested keys use
// their section name as the first underscore-separated segment.
func envKey(key string) string {
	for _, section := range []string{"session", "scheduler"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// RegisterFlags declares the command line flags Load understands. Flag
// names match koanf keys so posflag maps them directly. Flag defaults
// mirror the built-in defaults: posflag merges an unchanged flag's default
// when no file or env value set the key.
func RegisterFlags(flags *pflag.FlagSet) {
	d := defaults()
	flags.String("listen_addr", d.ListenAddr, "address to serve HTTP on")
	flags.String("database_path", d.DatabasePath, "path to the sqlite database")
	flags.String("log_level", d.LogLevel, "log level: debug, info, warn or error")
	flags.String("redis_addr", d.RedisAddr, "redis address for the question cache")
}
