// Package config loads service configuration from a YAML file, an optional
// .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Elasticity ElasticityConfig `yaml:"elasticity"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// StorageConfig selects and tunes the store.
type StorageConfig struct {
	DatabaseURL     string `yaml:"database_url"` // empty selects the in-memory store
	RedisURL        string `yaml:"redis_url"`    // empty disables the cache
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// SnapshotConfig controls the periodic portfolio snapshot job.
type SnapshotConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	Concurrency     int     `yaml:"concurrency"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
}

// ElasticityConfig controls elasticity quotes.
type ElasticityConfig struct {
	TradeSize float64 `yaml:"trade_size"`
}

// LogConfig controls the format and level of logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, then applies .env and environment
// overrides and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	// Load .env if present.
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTLSeconds) * time.Second
}

// SnapshotInterval returns the snapshot job period.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Snapshot.IntervalSeconds) * time.Second
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SNAPSHOT_INTERVAL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config.Load: SNAPSHOT_INTERVAL_SECONDS=%q: %w", v, err)
		}
		cfg.Snapshot.IntervalSeconds = n
	}
	return nil
}

// setDefaults fills unset values.
func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Storage.CacheTTLSeconds <= 0 {
		cfg.Storage.CacheTTLSeconds = 30
	}
	if cfg.Snapshot.IntervalSeconds <= 0 {
		cfg.Snapshot.IntervalSeconds = 15 * 60
	}
	if cfg.Snapshot.Concurrency <= 0 {
		cfg.Snapshot.Concurrency = 4
	}
	if cfg.Snapshot.RatePerSecond <= 0 {
		cfg.Snapshot.RatePerSecond = 20
	}
	if cfg.Elasticity.TradeSize <= 0 {
		cfg.Elasticity.TradeSize = 50
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
