// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Environment always wins, so a container
// deployment can override a checked-in config file key by key.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skilltrace/lrs/pkg/attachments"
	"github.com/skilltrace/lrs/pkg/database"
)

// Config holds server configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port string `yaml:"port"`
	// BaseURL is the externally visible URL prefix, used to build the
	// "more" continuation links.
	BaseURL string `yaml:"base_url"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`
	// DefaultLanguage orders canonical-format language selection when the
	// request carries no Accept-Language.
	DefaultLanguage string `yaml:"default_language"`

	Database    database.Config    `yaml:"database"`
	Attachments attachments.Config `yaml:"attachments"`
	Query       QueryConfig        `yaml:"query"`
	Auth        AuthConfig         `yaml:"auth"`
	RateLimit   RateLimitConfig    `yaml:"rate_limit"`
}

// QueryConfig controls result-set paging and continuation caching.
type QueryConfig struct {
	// DefaultLimit applies when a statements query names no limit.
	DefaultLimit int `yaml:"default_limit"`
	// MaxLimit caps any requested limit.
	MaxLimit int `yaml:"max_limit"`
	// RedisAddr enables the Redis continuation cache when non-empty;
	// otherwise the in-process cache is used.
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	SIDTTL        time.Duration `yaml:"sid_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Capacity bounds the in-process cache entry count.
	Capacity int `yaml:"capacity"`
}

// AuthConfig carries the root API credential.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RateLimitConfig controls the per-IP request limiter.
type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Port:            "8080",
		BaseURL:         "http://localhost:8080/xapi",
		LogLevel:        "INFO",
		DefaultLanguage: "en",
		Database:        database.DefaultConfig(),
		Attachments:     attachments.Config{Backend: attachments.BackendFS, DataDir: "data"},
		Query: QueryConfig{
			DefaultLimit:  50,
			MaxLimit:      500,
			SIDTTL:        2 * time.Hour,
			SweepInterval: 5 * time.Minute,
			Capacity:      10000,
		},
		RateLimit: RateLimitConfig{RPS: 100, Burst: 200},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("LRS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Port, "PORT")
	setString(&c.BaseURL, "LRS_BASE_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.DefaultLanguage, "LRS_DEFAULT_LANGUAGE")

	setString(&c.Database.Driver, "LRS_DB_DRIVER")
	setString(&c.Database.DSN, "LRS_DB_DSN")
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = dsn
	}
	setInt(&c.Database.MaxOpenConns, "LRS_DB_MAX_OPEN_CONNS")
	setInt(&c.Database.MaxIdleConns, "LRS_DB_MAX_IDLE_CONNS")

	if backend := os.Getenv("LRS_ATTACHMENT_BACKEND"); backend != "" {
		c.Attachments.Backend = attachments.Backend(backend)
	}
	setString(&c.Attachments.DataDir, "LRS_DATA_DIR")
	setString(&c.Attachments.S3Bucket, "LRS_S3_BUCKET")
	setString(&c.Attachments.S3Region, "LRS_S3_REGION")
	setString(&c.Attachments.S3Endpoint, "LRS_S3_ENDPOINT")
	setString(&c.Attachments.GCSBucket, "LRS_GCS_BUCKET")

	setInt(&c.Query.DefaultLimit, "LRS_DEFAULT_LIMIT")
	setInt(&c.Query.MaxLimit, "LRS_MAX_LIMIT")
	setString(&c.Query.RedisAddr, "LRS_REDIS_ADDR")
	setString(&c.Query.RedisPassword, "LRS_REDIS_PASSWORD")
	setDuration(&c.Query.SIDTTL, "LRS_SID_TTL")

	setString(&c.Auth.Username, "LRS_ROOT_USERNAME")
	setString(&c.Auth.Password, "LRS_ROOT_PASSWORD")

	setInt(&c.RateLimit.RPS, "LRS_RATE_LIMIT_RPS")
	setInt(&c.RateLimit.Burst, "LRS_RATE_LIMIT_BURST")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database DSN is required")
	}
	if c.Query.DefaultLimit <= 0 || c.Query.MaxLimit < c.Query.DefaultLimit {
		return fmt.Errorf("config: limits must satisfy 0 < default_limit <= max_limit")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
