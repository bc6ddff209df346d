package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradekeeper/internal/archive"
	"github.com/alanyoungcy/tradekeeper/internal/auth"
	s3blob "github.com/alanyoungcy/tradekeeper/internal/blob/s3"
	"github.com/alanyoungcy/tradekeeper/internal/cache/memory"
	"github.com/alanyoungcy/tradekeeper/internal/cache/redis"
	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/config"
	"github.com/alanyoungcy/tradekeeper/internal/crypto"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
	"github.com/alanyoungcy/tradekeeper/internal/feed"
	"github.com/alanyoungcy/tradekeeper/internal/metrics"
	"github.com/alanyoungcy/tradekeeper/internal/notify"
	"github.com/alanyoungcy/tradekeeper/internal/service"
	"github.com/alanyoungcy/tradekeeper/internal/store/postgres"
)

// Dependencies bundles every collaborator that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores (nil when postgres is disabled)
	OrderStore *postgres.OrderStore
	AlertStore *postgres.AlertStore
	StatsStore *postgres.StatsStore
	AuditStore *postgres.AuditStore

	// Caches. LockManager is nil without Redis.
	PriceStore  domain.PriceStore
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archive (nil unless archive is enabled)
	Archiver  domain.Archiver
	Scheduler *archive.Scheduler

	// Ledger
	Prices *service.PriceCache
	Orders *service.OrderLedger
	Alerts *service.AlertRegistry
	Stats  *service.StatsAggregator

	// Feeds. Binance is nil unless enabled.
	Source  domain.PriceSource
	Binance *feed.BinanceStream

	// Identity is the keeper signer; nil in server mode.
	Identity *crypto.Identity
	Auth     *auth.Service
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{
		Clock:   clock.Real{},
		Metrics: metrics.New(),
	}

	// --- Keeper identity ---
	src := crypto.IdentitySource{
		RawPrivateKey: cfg.Keeper.PrivateKey,
		KeyFile:       cfg.Keeper.KeyFile,
		Password:      cfg.Keeper.KeyPassword,
	}
	if src.Configured() {
		id, err := crypto.LoadIdentity(src)
		if err != nil {
			return fail("keeper identity", err)
		}
		deps.Identity = id
		logger.InfoContext(ctx, "keeper identity loaded", slog.String("address", id.Address().Hex()))
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AlertStore = postgres.NewAlertStore(pool)
		deps.StatsStore = postgres.NewStatsStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis, or in-process equivalents ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceStore = redis.NewPriceStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Keeper.UseLock {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
	} else {
		deps.PriceStore = memory.NewPriceStore()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Ledger services ---
	deps.Prices = service.NewPriceCache(deps.PriceStore, deps.SignalBus, deps.Clock, cfg.Prices.MaxAge.Duration, logger)
	if err := initPriceCache(ctx, cfg, deps); err != nil {
		return fail("price cache", err)
	}

	deps.Stats = service.NewStatsAggregator()
	deps.Orders = service.NewOrderLedger(deps.Stats, service.NewPriceQuoter(cfg.Prices.Stablecoins), deps.Clock, logger).
		WithBus(deps.SignalBus)
	deps.Alerts = service.NewAlertRegistry(deps.Clock, logger).
		WithBus(deps.SignalBus)
	if deps.Notifier.Enabled() {
		deps.Orders.WithNotifier(deps.Notifier)
		deps.Alerts.WithNotifier(deps.Notifier)
	}
	if cfg.Ledger.VerifyExecutionPrice {
		deps.Orders.WithPriceVerifier(deps.Prices, cfg.Ledger.MaxDeviationBps)
		deps.Alerts.WithPriceVerifier(deps.Prices, cfg.Ledger.MaxDeviationBps)
	}
	if deps.OrderStore != nil {
		deps.Orders.WithStore(deps.OrderStore, deps.StatsStore)
		deps.Alerts.WithStore(deps.AlertStore)
		if err := deps.Orders.Restore(ctx); err != nil {
			return fail("restore orders", err)
		}
		if err := deps.Alerts.Restore(ctx); err != nil {
			return fail("restore alerts", err)
		}
	}

	// --- Price feeds: stablecoins, then Decibel, then the Binance stream ---
	sources := []domain.PriceSource{
		feed.NewStable(cfg.Prices.Stablecoins),
		feed.NewGuarded(
			feed.NewDecibelSource(cfg.Feed.DecibelURL, cfg.Feed.DecibelTimeout.Duration),
			guardOptions(cfg.Feed),
			deps.Metrics,
			logger,
		),
	}
	if cfg.Feed.BinanceEnabled {
		deps.Binance = feed.NewBinanceStream(cfg.Feed.BinanceURL, cfg.Feed.BinanceTokens, cfg.Feed.BinanceMaxAge.Duration, logger)
		sources = append(sources, deps.Binance)
	}
	deps.Source = feed.NewFallback(sources...)

	// --- Auth ---
	if cfg.RunsServer() {
		authSvc, err := auth.NewService(auth.Options{
			Secret:       cfg.Auth.JWTSecret,
			TokenTTL:     cfg.Auth.TokenTTL.Duration,
			MaxClockSkew: cfg.Auth.MaxClockSkew.Duration,
			Keepers:      deps.Prices,
			Clock:        deps.Clock,
		})
		if err != nil {
			return fail("auth", err)
		}
		deps.Auth = authSvc
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled && deps.OrderStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "archive bucket not reachable yet",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.OrderStore,
			deps.AlertStore,
			deps.AuditStore,
		)
		sched, err := archive.NewScheduler(deps.Archiver, cfg.Archive.Cron, cfg.Archive.RetentionDays, deps.Clock, logger)
		if err != nil {
			return fail("archive scheduler", err)
		}
		deps.Scheduler = sched
	}

	return deps, cleanup, nil
}

// initPriceCache installs the admin and keeper list. The admin defaults to
// the keeper identity; with neither, the cache stays uninitialised and price
// writes fail with domain.ErrNotInitialized.
func initPriceCache(ctx context.Context, cfg *config.Config, deps *Dependencies) error {
	var admin domain.Address
	switch {
	case cfg.Prices.Admin != "":
		admin = common.HexToAddress(cfg.Prices.Admin)
	case deps.Identity != nil:
		admin = deps.Identity.Address()
	default:
		return nil
	}
	if err := deps.Prices.Initialize(ctx, admin); err != nil && !errors.Is(err, domain.ErrAlreadyInitialized) {
		return err
	}

	keepers := make([]domain.Address, 0, len(cfg.Prices.Keepers)+1)
	if deps.Identity != nil {
		keepers = append(keepers, deps.Identity.Address())
	}
	for _, k := range cfg.Prices.Keepers {
		keepers = append(keepers, common.HexToAddress(k))
	}
	for _, k := range keepers {
		if err := deps.Prices.AddKeeper(ctx, admin, k); err != nil {
			return err
		}
	}
	return nil
}

func guardOptions(f config.FeedConfig) feed.GuardOptions {
	minReq := f.BreakerMinRequests
	if minReq < 0 {
		minReq = 0
	}
	return feed.GuardOptions{
		RatePerSecond: f.RatePerSecond,
		Burst:         f.Burst,
		FailureRatio:  f.BreakerFailureRatio,
		MinRequests:   uint32(minReq),
		OpenTimeout:   f.BreakerOpenTimeout.Duration,
	}
}
