// Package config loads the engine configuration from a YAML file with
// environment-variable overrides. A .env file, when present, is loaded
// before overrides are applied.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Fees     FeesConfig     `yaml:"fees"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string `yaml:"port"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

// DatabaseConfig points at PostgreSQL. An empty URL selects the in-memory
// store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig controls the optional read-through cache.
type RedisConfig struct {
	URL             string `yaml:"url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// FeesConfig selects the fee regime.
type FeesConfig struct {
	Regime           string  `yaml:"regime"` // platform | legacy
	CreatorThreshold float64 `yaml:"creator_threshold"`
}

// LogConfig controls the format and level of logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config at path and applies environment overrides.
// A missing file is not an error; defaults plus the environment apply.
func Load(path string) (*Config, error) {
	// Load .env if present (errors are silenced when there is no file).
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Timeout returns the per-request timeout as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful-shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// CacheTTL returns the Redis cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

// applyEnvOverrides overrides values with environment variables if present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("FEE_REGIME"); v != "" {
		cfg.Fees.Regime = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults ensures required values have sensible defaults.
func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.TimeoutSeconds <= 0 {
		cfg.Server.TimeoutSeconds = 30
	}
	if cfg.Server.ShutdownSeconds <= 0 {
		cfg.Server.ShutdownSeconds = 5
	}
	if cfg.Redis.CacheTTLSeconds <= 0 {
		cfg.Redis.CacheTTLSeconds = 30
	}
	if cfg.Fees.Regime == "" {
		cfg.Fees.Regime = "platform"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
