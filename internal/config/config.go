// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Package config loads Watchtower configuration using Koanf v2 with
// layered sources: built-in defaults, an optional YAML file, and
// environment variables. Precedence is ENV > File > Defaults.
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
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/corvexa/watchtower/internal/security"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "WATCHTOWER_CONFIG"

// DefaultConfigPaths are searched in order when WATCHTOWER_CONFIG is unset.
var DefaultConfigPaths = []string{
	"./watchtower.yaml",
	"./config/watchtower.yaml",
	"/etc/watchtower/watchtower.yaml",
}

// Config is the top-level application configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Storage  StorageConfig  `koanf:"storage"`
	NATS     NATSConfig     `koanf:"nats"`
	Server   ServerConfig   `koanf:"server"`
	Authz    AuthzConfig    `koanf:"authz"`
	Security SecurityConfig `koanf:"security"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig controls the Badger key-value store. An empty Dir or
// InMemory=true runs Badger fully in memory.
type StorageConfig struct {
	Dir      string `koanf:"dir"`
	InMemory bool   `koanf:"in_memory"`
}

// NATSConfig controls event publishing. When Embedded is true an
// in-process NATS server with JetStream is started and URL is ignored.
type NATSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	StoreDir string `koanf:"store_dir"`
	Prefix   string `koanf:"prefix" validate:"required"`
}

// ServerConfig controls the admin HTTP API.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	RequestLimit    int           `koanf:"request_limit" validate:"gt=0"`
	RequestWindow   time.Duration `koanf:"request_window" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// AuthzConfig controls the Casbin enforcer. Empty paths fall back to
// the embedded model and policy.
type AuthzConfig struct {
	ModelPath      string   `koanf:"model_path"`
	PolicyPath     string   `koanf:"policy_path"`
	AdminSubjects  []string `koanf:"admin_subjects"`
	OracleSubjects []string `koanf:"oracle_subjects"`
}

// SecurityConfig carries the initial detection thresholds used to seed
// the monitor on first start. Stored configuration takes precedence
// once Initialize has run.
type SecurityConfig struct {
	BurstThreshold          uint32        `koanf:"burst_threshold" validate:"gt=0"`
	BurstWindow             time.Duration `koanf:"burst_window" validate:"gt=0"`
	ErrorRateThreshold      uint32        `koanf:"error_rate_threshold" validate:"lte=100"`
	ActorAnomalyThreshold   uint32        `koanf:"actor_anomaly_threshold" validate:"gt=0"`
	CircuitBreakerThreshold uint32        `koanf:"circuit_breaker_threshold" validate:"gt=0"`
	CircuitBreakerTimeout   time.Duration `koanf:"circuit_breaker_timeout" validate:"gt=0"`
	AutoMitigationEnabled   bool          `koanf:"auto_mitigation_enabled"`
	RateLimit               uint32        `koanf:"rate_limit" validate:"gt=0"`
	RateLimitWindow         time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// SecurityDefaults converts the seed thresholds into the monitor's
// runtime configuration type.
func (s SecurityConfig) SecurityDefaults() *security.Config {
	return &security.Config{
		BurstDetectionThreshold: s.BurstThreshold,
		BurstWindow:             s.BurstWindow,
		ErrorRateThreshold:      s.ErrorRateThreshold,
		ActorAnomalyThreshold:   s.ActorAnomalyThreshold,
		CircuitBreakerThreshold: s.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   s.CircuitBreakerTimeout,
		AutoMitigationEnabled:   s.AutoMitigationEnabled,
		RateLimitPerWindow:      s.RateLimit,
		RateLimitWindow:         s.RateLimitWindow,
	}
}

func defaultConfig() Config {
	sec := security.DefaultConfig()
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Storage: StorageConfig{
			Dir:      "./data/watchtower",
			InMemory: false,
		},
		NATS: NATSConfig{
			Enabled:  true,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			Host:     "127.0.0.1",
			Port:     4222,
			StoreDir: "./data/nats",
			Prefix:   "watchtower",
		},
		Server: ServerConfig{
			Addr:            ":8085",
			RequestLimit:    120,
			RequestWindow:   time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Authz: AuthzConfig{},
		Security: SecurityConfig{
			BurstThreshold:          sec.BurstDetectionThreshold,
			BurstWindow:             sec.BurstWindow,
			ErrorRateThreshold:      sec.ErrorRateThreshold,
			ActorAnomalyThreshold:   sec.ActorAnomalyThreshold,
			CircuitBreakerThreshold: sec.CircuitBreakerThreshold,
			CircuitBreakerTimeout:   sec.CircuitBreakerTimeout,
			AutoMitigationEnabled:   sec.AutoMitigationEnabled,
			RateLimit:               sec.RateLimitPerWindow,
			RateLimitWindow:         sec.RateLimitWindow,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. WATCHTOWER_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("WATCHTOWER_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first readable config file, preferring
// the WATCHTOWER_CONFIG path, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf paths:
//
//	WATCHTOWER_LOG_LEVEL           -> log.level
//	WATCHTOWER_NATS_URL            -> nats.url
//	WATCHTOWER_SECURITY_RATE_LIMIT -> security.rate_limit
//
// The first underscore-separated token selects the config section and
// the remainder becomes the key within it.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "WATCHTOWER_"))

	// WATCHTOWER_CONFIG selects the file path, not a config key.
	if key == "config" {
		return ""
	}

	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// sliceConfigPaths lists keys parsed from comma-separated strings when
// supplied via environment variables.
var sliceConfigPaths = []string{
	"authz.admin_subjects",
	"authz.oracle_subjects",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw := k.Get(path)
		s, ok := raw.(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks the configuration with struct tags plus
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled without an embedded server")
	}
	if !c.Storage.InMemory && c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required when storage.in_memory is false")
	}
	return nil
}
