// Package config resolves the gateway's configuration once at startup
// into an immutable struct, grounded on the teacher's internal/config
// loader (YAML file plus environment overrides, defaults for anything
// absent from both).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-gatekeeper/internal/auth"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// EnvPrefix namespaces every environment variable this gateway reads
// (spec §6: "*_HOST, *_PORT, *_AUTH_MODE, *_LOG_LEVEL, templates
// directory override").
const EnvPrefix = "GATEKEEPER_"

// Config is the gateway's fully-resolved, immutable runtime
// configuration. It is built once at startup by Load and passed by
// value from then on (spec §5: "Configuration is resolved once at
// startup into an immutable struct and passed by value").
type Config struct {
	Host           string             `yaml:"host"`
	Port           int                `yaml:"port"`
	AuthMode       auth.Mode          `yaml:"authMode"`
	LogLevel       string             `yaml:"logLevel"`
	TemplatesDir   string             `yaml:"templatesDir"`
	DefaultTimeout int                `yaml:"defaultTimeoutMs"`
	DefaultRetries int                `yaml:"defaultRetries"`
	RateLimit      RateLimitConfig    `yaml:"rateLimit"`
	Backpressure   BackpressureConfig `yaml:"backpressure"`
}

// RateLimitConfig mirrors auth.Config's shape for YAML/env resolution.
type RateLimitConfig struct {
	Limit    int `yaml:"limit"`
	WindowMs int `yaml:"windowMs"`
}

// BackpressureConfig mirrors backpressure.Config's shape for YAML/env
// resolution.
type BackpressureConfig struct {
	Capacity   int     `yaml:"capacity"`
	RefillRate float64 `yaml:"refillRate"`
	QueueDepth int     `yaml:"queueDepth"`
}

// Default returns the schema defaults applied before any file or
// environment override (spec §6: "Unknown values fall back to schema
// defaults").
func Default() Config {
	return Config{
		Host:           "localhost",
		Port:           8080,
		AuthMode:       auth.ModeLocalTrusted,
		LogLevel:       "info",
		TemplatesDir:   "./templates",
		DefaultTimeout: 30_000,
		DefaultRetries: 2,
		RateLimit:      RateLimitConfig{Limit: 100, WindowMs: 60_000},
		Backpressure:   BackpressureConfig{Capacity: 10, RefillRate: 5, QueueDepth: 32},
	}
}

// Load resolves Config from, in increasing precedence: schema defaults,
// an optional YAML file at path (skipped with an informational log line
// if absent), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
			}
			logging.Info("config", "no config file at %s, using defaults", path)
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
			logging.Info("config", "loaded configuration from %s", path)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := lookupEnv("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		} else {
			logging.Warn("config", "ignoring invalid %sPORT=%q: %v", EnvPrefix, v, err)
		}
	}
	if v, ok := lookupEnv("AUTH_MODE"); ok {
		switch auth.Mode(v) {
		case auth.ModeLocalTrusted, auth.ModeExternalSecure:
			cfg.AuthMode = auth.Mode(v)
		default:
			logging.Warn("config", "ignoring unknown %sAUTH_MODE=%q, keeping %q", EnvPrefix, v, cfg.AuthMode)
		}
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("TEMPLATES_DIR"); ok {
		cfg.TemplatesDir = v
	}
}

func lookupEnv(suffix string) (string, bool) {
	v := os.Getenv(EnvPrefix + suffix)
	if v == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}
