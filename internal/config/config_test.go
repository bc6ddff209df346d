package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func validConfig() Config {
	cfg := Defaults()
	cfg.Keeper.PrivateKey = testKey
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestDefaultsNeedIdentityAndSecret(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeper: either private_key or key_file must be set")
	assert.Contains(t, err.Error(), "auth: jwt_secret must be at least 16 bytes")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Prices.Keepers = []string{"not-an-address"}
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "every tuesday"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, `prices: keeper "not-an-address" is not a hex address`)
	assert.Contains(t, msg, "archive: postgres must be enabled")
	assert.Contains(t, msg, `archive: cron "every tuesday"`)
	assert.Contains(t, msg, "notify: telegram_token and telegram_chat_id must be set together")
}

func TestServerModeSkipsKeeperChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Auth.JWTSecret = "0123456789abcdef"
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsServer())
	assert.False(t, cfg.RunsKeeper())

	cfg.Mode = "keeper"
	cfg.Auth.JWTSecret = ""
	cfg.Keeper.KeyFile = "keeper.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password is required")
	assert.NotContains(t, err.Error(), "jwt_secret")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradekeeper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "keeper"

[keeper]
interval = "3s"
concurrency = 2

[prices]
stablecoins = ["USDC"]

[archive]
cron = "30 2 * * *"
`), 0o600))

	t.Setenv("TRADEKEEPER_KEEPER_INTERVAL", "5s")
	t.Setenv("TRADEKEEPER_PRICES_KEEPERS", " 0x00000000000000000000000000000000000000aa , ,0x00000000000000000000000000000000000000bb")
	t.Setenv("TRADEKEEPER_LEDGER_MAX_DEVIATION_BPS", "150")
	t.Setenv("TRADEKEEPER_REDIS_ENABLED", "true")
	t.Setenv("TRADEKEEPER_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, 2, cfg.Keeper.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Keeper.CycleTimeout.Duration, "untouched defaults survive")
	assert.Equal(t, []string{"USDC"}, cfg.Prices.Stablecoins)
	assert.Equal(t, []string{
		"0x00000000000000000000000000000000000000aa",
		"0x00000000000000000000000000000000000000bb",
	}, cfg.Prices.Keepers)
	assert.Equal(t, int64(150), cfg.Ledger.MaxDeviationBps)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable overrides are ignored")
	assert.Equal(t, "30 2 * * *", cfg.Archive.Cron)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[keeper]\ninterval = \"soon\"\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://u:p@db/tk"
	cfg.Notify.WebhookSecret = "shh"
	cfg.Server.CORSOrigins = []string{"https://app.example"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Keeper.PrivateKey)
	assert.Equal(t, "***", out.Auth.JWTSecret)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Notify.WebhookSecret)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "https://app.example", cfg.Server.CORSOrigins[0])
	assert.Equal(t, testKey, cfg.Keeper.PrivateKey)
}
