package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekeeper/internal/config"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireInMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Keeper.PrivateKey = testKey
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Prices.Keepers = []string{"0x00000000000000000000000000000000000000bb"}
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Identity)
	id := deps.Identity.Address()
	assert.True(t, deps.Prices.IsKeeper(id), "identity administers and keeps the cache")
	assert.True(t, deps.Prices.IsKeeper(common.HexToAddress("0x00000000000000000000000000000000000000bb")))

	assert.NotNil(t, deps.Auth)
	assert.NotNil(t, deps.Source)
	assert.Nil(t, deps.Binance)
	assert.Nil(t, deps.LockManager, "no lock without redis")
	assert.Nil(t, deps.OrderStore)
	assert.Nil(t, deps.Scheduler)
	assert.Zero(t, deps.Orders.PendingCount())
}

func TestWireServerModeWithoutAdmin(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "server"
	cfg.Auth.JWTSecret = "0123456789abcdef"

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Identity)
	err = deps.Prices.UpdatePrice(context.Background(), common.HexToAddress("0x00000000000000000000000000000000000000aa"), "APT", domain.Price(100), 0)
	assert.Error(t, err)
}

func TestWireServerModeWithAdmin(t *testing.T) {
	admin := "0x00000000000000000000000000000000000000aa"
	cfg := config.Defaults()
	cfg.Mode = "server"
	cfg.Auth.JWTSecret = "0123456789abcdef"
	cfg.Prices.Admin = admin

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.True(t, deps.Prices.IsKeeper(common.HexToAddress(admin)))
	require.NoError(t, deps.Prices.UpdatePrice(context.Background(), common.HexToAddress(admin), "APT", domain.Price(100), 0))
}

func TestKeeperModeNeedsIdentity(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "keeper"
	a := New(&cfg, discard())

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	err = a.KeeperMode(context.Background(), deps)
	assert.ErrorContains(t, err, "keeper identity")
}
