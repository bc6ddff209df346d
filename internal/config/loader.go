package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEKEEPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEKEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Keeper ──
	setStr(&cfg.Keeper.PrivateKey, "TRADEKEEPER_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.KeyFile, "TRADEKEEPER_KEEPER_KEY_FILE")
	setStr(&cfg.Keeper.KeyPassword, "TRADEKEEPER_KEEPER_KEY_PASSWORD")
	setDuration(&cfg.Keeper.Interval, "TRADEKEEPER_KEEPER_INTERVAL")
	setDuration(&cfg.Keeper.CycleTimeout, "TRADEKEEPER_KEEPER_CYCLE_TIMEOUT")
	setInt(&cfg.Keeper.Concurrency, "TRADEKEEPER_KEEPER_CONCURRENCY")
	setBool(&cfg.Keeper.SweepExpired, "TRADEKEEPER_KEEPER_SWEEP_EXPIRED")
	setBool(&cfg.Keeper.UseLock, "TRADEKEEPER_KEEPER_USE_LOCK")
	setDuration(&cfg.Keeper.LockTTL, "TRADEKEEPER_KEEPER_LOCK_TTL")

	// ── Prices ──
	setDuration(&cfg.Prices.MaxAge, "TRADEKEEPER_PRICES_MAX_AGE")
	setStr(&cfg.Prices.Admin, "TRADEKEEPER_PRICES_ADMIN")
	setStringSlice(&cfg.Prices.Keepers, "TRADEKEEPER_PRICES_KEEPERS")
	setStringSlice(&cfg.Prices.Stablecoins, "TRADEKEEPER_PRICES_STABLECOINS")

	// ── Ledger ──
	setBool(&cfg.Ledger.VerifyExecutionPrice, "TRADEKEEPER_LEDGER_VERIFY_EXECUTION_PRICE")
	setInt64(&cfg.Ledger.MaxDeviationBps, "TRADEKEEPER_LEDGER_MAX_DEVIATION_BPS")

	// ── Feed ──
	setStr(&cfg.Feed.DecibelURL, "TRADEKEEPER_FEED_DECIBEL_URL")
	setDuration(&cfg.Feed.DecibelTimeout, "TRADEKEEPER_FEED_DECIBEL_TIMEOUT")
	setBool(&cfg.Feed.BinanceEnabled, "TRADEKEEPER_FEED_BINANCE_ENABLED")
	setStr(&cfg.Feed.BinanceURL, "TRADEKEEPER_FEED_BINANCE_URL")
	setStringSlice(&cfg.Feed.BinanceTokens, "TRADEKEEPER_FEED_BINANCE_TOKENS")
	setDuration(&cfg.Feed.BinanceMaxAge, "TRADEKEEPER_FEED_BINANCE_MAX_AGE")
	setFloat64(&cfg.Feed.RatePerSecond, "TRADEKEEPER_FEED_RATE_PER_SECOND")
	setInt(&cfg.Feed.Burst, "TRADEKEEPER_FEED_BURST")
	setFloat64(&cfg.Feed.BreakerFailureRatio, "TRADEKEEPER_FEED_BREAKER_FAILURE_RATIO")
	setInt(&cfg.Feed.BreakerMinRequests, "TRADEKEEPER_FEED_BREAKER_MIN_REQUESTS")
	setDuration(&cfg.Feed.BreakerOpenTimeout, "TRADEKEEPER_FEED_BREAKER_OPEN_TIMEOUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADEKEEPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADEKEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEKEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEKEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEKEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEKEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEKEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEKEEPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEKEEPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEKEEPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEKEEPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEKEEPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEKEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEKEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEKEEPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEKEEPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEKEEPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEKEEPER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TRADEKEEPER_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEKEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEKEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEKEEPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEKEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEKEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEKEEPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEKEEPER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADEKEEPER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "TRADEKEEPER_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "TRADEKEEPER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "TRADEKEEPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEKEEPER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "TRADEKEEPER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "TRADEKEEPER_SERVER_RATE_LIMIT_WINDOW")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "TRADEKEEPER_AUTH_JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "TRADEKEEPER_AUTH_TOKEN_TTL")
	setDuration(&cfg.Auth.MaxClockSkew, "TRADEKEEPER_AUTH_MAX_CLOCK_SKEW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEKEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEKEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEKEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "TRADEKEEPER_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "TRADEKEEPER_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "TRADEKEEPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEKEEPER_MODE")
	setStr(&cfg.LogLevel, "TRADEKEEPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
