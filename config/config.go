// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/secshare/secshare/internal/models"
	"github.com/secshare/secshare/internal/tier"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Blob      BlobConfig      `yaml:"blob"`
	Transfers TransfersConfig `yaml:"transfers"`
	Tiers     TiersConfig     `yaml:"tiers"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StoreConfig struct {
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BlobConfig struct {
	Type string `yaml:"type"`
	Dir  string `yaml:"dir"`
}

type TransfersConfig struct {
	ReaperInterval      time.Duration `yaml:"reaper_interval"`
	MaxPasswordAttempts int           `yaml:"max_password_attempts"`
}

type TierConfig struct {
	MaxSizeBytes int64         `yaml:"max_size_bytes"`
	MaxTransfers int           `yaml:"max_transfers"`
	Window       time.Duration `yaml:"window"`
	Expiry       time.Duration `yaml:"expiry"`
}

type TiersConfig struct {
	Free    TierConfig `yaml:"free"`
	Premium TierConfig `yaml:"premium"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	RetrievePerMin int  `yaml:"retrieve_per_min"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
		},
		Blob: BlobConfig{
			Type: "fs",
			Dir:  "temp_files",
		},
		Transfers: TransfersConfig{
			ReaperInterval:      30 * time.Second,
			MaxPasswordAttempts: 5,
		},
		Tiers: TiersConfig{
			Free: TierConfig{
				MaxSizeBytes: 50 * 1024 * 1024,
				MaxTransfers: 5,
				Window:       24 * time.Hour,
				Expiry:       15 * time.Minute,
			},
			Premium: TierConfig{
				MaxSizeBytes: 1024 * 1024 * 1024,
				MaxTransfers: 20,
				Window:       24 * time.Hour,
				Expiry:       15 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
			RetrievePerMin: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}

	if v := os.Getenv("BLOB_TYPE"); v != "" {
		c.Blob.Type = v
	}
	if v := os.Getenv("BLOB_DIR"); v != "" {
		c.Blob.Dir = v
	}

	if v := os.Getenv("REAPER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Transfers.ReaperInterval = d
		}
	}
	if v := os.Getenv("MAX_PASSWORD_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transfers.MaxPasswordAttempts = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_RETRIEVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RetrievePerMin = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Store.Type != "memory" && c.Store.Type != "redis" {
		return fmt.Errorf("invalid store type: %s (must be 'memory' or 'redis')", c.Store.Type)
	}

	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when store type is 'redis'")
	}

	if c.Blob.Type != "fs" && c.Blob.Type != "memory" {
		return fmt.Errorf("invalid blob store type: %s (must be 'fs' or 'memory')", c.Blob.Type)
	}

	if c.Blob.Type == "fs" && c.Blob.Dir == "" {
		return fmt.Errorf("blob dir is required when blob store type is 'fs'")
	}

	if c.Transfers.ReaperInterval <= 0 {
		return fmt.Errorf("reaper_interval must be positive")
	}

	if c.Transfers.MaxPasswordAttempts < 1 {
		return fmt.Errorf("max_password_attempts must be at least 1")
	}

	if _, err := c.TierPolicy(); err != nil {
		return err
	}

	return nil
}

// TierPolicy builds the validated tier policy from the configured limits.
func (c *Config) TierPolicy() (*tier.Policy, error) {
	return tier.NewPolicy(map[models.Tier]tier.Limits{
		models.TierFree:    c.Tiers.Free.limits(),
		models.TierPremium: c.Tiers.Premium.limits(),
	})
}

func (tc TierConfig) limits() tier.Limits {
	return tier.Limits{
		MaxContentSize: tc.MaxSizeBytes,
		MaxTransfers:   tc.MaxTransfers,
		Window:         tc.Window,
		Expiry:         tc.Expiry,
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
