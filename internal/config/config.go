// Package config defines the top-level configuration for tradekeeper and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEKEEPER_* environment variables.
type Config struct {
	Keeper   KeeperConfig   `toml:"keeper"`
	Prices   PricesConfig   `toml:"prices"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// KeeperConfig holds the keeper identity and scan loop parameters.
type KeeperConfig struct {
	PrivateKey   string   `toml:"private_key"`
	KeyFile      string   `toml:"key_file"`
	KeyPassword  string   `toml:"key_password"`
	Interval     duration `toml:"interval"`
	CycleTimeout duration `toml:"cycle_timeout"`
	Concurrency  int      `toml:"concurrency"`
	SweepExpired bool     `toml:"sweep_expired"`
	// UseLock guards each cycle with the Redis lock so only one keeper
	// instance scans at a time. Ignored when Redis is disabled.
	UseLock bool     `toml:"use_lock"`
	LockTTL duration `toml:"lock_ttl"`
}

// PricesConfig holds price cache parameters.
type PricesConfig struct {
	MaxAge duration `toml:"max_age"`
	// Admin initialises the cache. Empty means the keeper identity.
	Admin       string   `toml:"admin"`
	Keepers     []string `toml:"keepers"`
	Stablecoins []string `toml:"stablecoins"`
}

// LedgerConfig controls execution checks in the order ledger and alert
// registry.
type LedgerConfig struct {
	VerifyExecutionPrice bool  `toml:"verify_execution_price"`
	MaxDeviationBps      int64 `toml:"max_deviation_bps"`
}

// FeedConfig holds upstream price source parameters.
type FeedConfig struct {
	DecibelURL     string   `toml:"decibel_url"`
	DecibelTimeout duration `toml:"decibel_timeout"`

	BinanceEnabled bool     `toml:"binance_enabled"`
	BinanceURL     string   `toml:"binance_url"`
	BinanceTokens  []string `toml:"binance_tokens"`
	BinanceMaxAge  duration `toml:"binance_max_age"`

	RatePerSecond       float64  `toml:"rate_per_second"`
	Burst               int      `toml:"burst"`
	BreakerFailureRatio float64  `toml:"breaker_failure_ratio"`
	BreakerMinRequests  int      `toml:"breaker_min_requests"`
	BreakerOpenTimeout  duration `toml:"breaker_open_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the cold-storage export of terminal records.
// Requires postgres and s3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// AuthConfig holds wallet-login session parameters.
type AuthConfig struct {
	JWTSecret    string   `toml:"jwt_secret"`
	TokenTTL     duration `toml:"token_ttl"`
	MaxClockSkew duration `toml:"max_clock_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Keeper: KeeperConfig{
			Interval:     duration{10 * time.Second},
			CycleTimeout: duration{30 * time.Second},
			Concurrency:  8,
			SweepExpired: true,
			UseLock:      true,
			LockTTL:      duration{45 * time.Second},
		},
		Prices: PricesConfig{
			MaxAge:      duration{60 * time.Second},
			Stablecoins: []string{"USDC", "USDT"},
		},
		Ledger: LedgerConfig{
			VerifyExecutionPrice: true,
			MaxDeviationBps:      200,
		},
		Feed: FeedConfig{
			DecibelURL:          "https://api.netna.aptoslabs.com/decibel",
			DecibelTimeout:      duration{15 * time.Second},
			BinanceEnabled:      false,
			BinanceURL:          "wss://stream.binance.com:9443/stream",
			BinanceTokens:       []string{"BTC", "ETH", "SOL", "APT"},
			BinanceMaxAge:       duration{30 * time.Second},
			RatePerSecond:       10,
			Burst:               5,
			BreakerFailureRatio: 0.5,
			BreakerMinRequests:  5,
			BreakerOpenTimeout:  duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "tradekeeper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			KeyPrefix:  "tradekeeper:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradekeeper-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Auth: AuthConfig{
			TokenTTL:     duration{24 * time.Hour},
			MaxClockSkew: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"order_executed", "alert_triggered", "keeper_attention"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"keeper": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsKeeper reports whether the mode runs the keeper loop.
func (c *Config) RunsKeeper() bool {
	m := strings.ToLower(c.Mode)
	return m == "keeper" || m == "full"
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: keeper, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Keeper identity is needed whenever the loop runs.
	if c.RunsKeeper() {
		if c.Keeper.PrivateKey == "" && c.Keeper.KeyFile == "" {
			errs = append(errs, "keeper: either private_key or key_file must be set for mode "+c.Mode)
		}
		if c.Keeper.KeyFile != "" && c.Keeper.KeyPassword == "" {
			errs = append(errs, "keeper: key_password is required when key_file is set")
		}
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
		if c.Keeper.CycleTimeout.Duration < 0 {
			errs = append(errs, "keeper: cycle_timeout must be >= 0")
		}
		if c.Keeper.Concurrency < 1 {
			errs = append(errs, "keeper: concurrency must be >= 1")
		}
	}

	// Prices
	if c.Prices.MaxAge.Duration <= 0 {
		errs = append(errs, "prices: max_age must be > 0")
	}
	if c.Prices.Admin != "" && !common.IsHexAddress(c.Prices.Admin) {
		errs = append(errs, fmt.Sprintf("prices: admin %q is not a hex address", c.Prices.Admin))
	}
	for _, k := range c.Prices.Keepers {
		if !common.IsHexAddress(k) {
			errs = append(errs, fmt.Sprintf("prices: keeper %q is not a hex address", k))
		}
	}
	if !c.RunsKeeper() && c.Prices.Admin == "" && len(c.Prices.Keepers) > 0 {
		errs = append(errs, "prices: admin is required to register keepers without a keeper identity")
	}

	// Ledger
	if c.Ledger.VerifyExecutionPrice && c.Ledger.MaxDeviationBps <= 0 {
		errs = append(errs, "ledger: max_deviation_bps must be > 0 when verify_execution_price is set")
	}

	// Feed
	if c.Feed.BinanceEnabled && len(c.Feed.BinanceTokens) == 0 {
		errs = append(errs, "feed: binance_tokens must not be empty when binance_enabled is set")
	}
	if c.Feed.BreakerFailureRatio < 0 || c.Feed.BreakerFailureRatio > 1 {
		errs = append(errs, fmt.Sprintf("feed: breaker_failure_ratio must be within [0, 1], got %g", c.Feed.BreakerFailureRatio))
	}
	if c.Feed.BreakerMinRequests < 0 {
		errs = append(errs, "feed: breaker_min_requests must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive needs both the ledger tables and a bucket.
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: postgres must be enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
		if len(c.Auth.JWTSecret) < 16 {
			errs = append(errs, "auth: jwt_secret must be at least 16 bytes for mode "+c.Mode)
		}
		if c.Auth.TokenTTL.Duration <= 0 {
			errs = append(errs, "auth: token_ttl must be > 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
