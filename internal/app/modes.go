package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradekeeper/internal/keeper"
	"github.com/alanyoungcy/tradekeeper/internal/server"
	"github.com/alanyoungcy/tradekeeper/internal/server/handler"
	"github.com/alanyoungcy/tradekeeper/internal/server/ws"
)

// KeeperMode runs the scan loop, the streaming feed and the archive schedule.
// Orders and alerts created by a separate server process reach it through
// postgres.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	a.warnUnshared(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	if _, err := a.startKeeper(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// ServerMode serves the HTTP API and websocket without a keeper loop. Prices
// arrive through POST /api/prices from external keepers.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	a.warnUnshared(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)
	if deps.OrderStore != nil {
		g.Go(func() error {
			return a.syncLoop(ctx, deps)
		})
	}
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs the keeper and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	coord, err := a.startKeeper(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, coord)
	return g.Wait()
}

// startKeeper adds the keeper goroutines to g and returns the coordinator.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*keeper.Coordinator, error) {
	if deps.Identity == nil {
		return nil, errors.New("app: keeper mode needs a keeper identity")
	}

	coord := keeper.NewCoordinator(keeper.Config{
		Identity:     deps.Identity.Address(),
		Interval:     a.cfg.Keeper.Interval.Duration,
		CycleTimeout: a.cfg.Keeper.CycleTimeout.Duration,
		Concurrency:  a.cfg.Keeper.Concurrency,
		SweepExpired: a.cfg.Keeper.SweepExpired,
		LockTTL:      a.cfg.Keeper.LockTTL.Duration,
	}, deps.Prices, deps.Orders, deps.Alerts, deps.Source, deps.Clock, a.logger).
		WithMetrics(deps.Metrics).
		WithBus(deps.SignalBus)
	if deps.LockManager != nil {
		coord.WithLock(deps.LockManager)
	}
	if deps.Notifier.Enabled() {
		coord.WithNotifier(deps.Notifier)
	}
	if deps.OrderStore != nil {
		coord.WithSync(deps.Orders, deps.Alerts)
	}

	if deps.Binance != nil {
		g.Go(func() error {
			return deps.Binance.Run(ctx)
		})
	}

	g.Go(func() error {
		return coord.Run(ctx)
	})

	if deps.Scheduler != nil {
		g.Go(func() error {
			return deps.Scheduler.Run(ctx)
		})
	}

	return coord, nil
}

// syncLoop reloads orders and alerts written by keeper processes so the API
// serves their executions and triggers.
func (a *App) syncLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Keeper.Interval.Duration
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := deps.Orders.Sync(ctx); err != nil {
			a.logger.WarnContext(ctx, "sync orders failed", slog.String("error", err.Error()))
		}
		if _, err := deps.Alerts.Sync(ctx); err != nil {
			a.logger.WarnContext(ctx, "sync alerts failed", slog.String("error", err.Error()))
		}
	}
}

func (a *App) warnUnshared(ctx context.Context, deps *Dependencies) {
	if deps.OrderStore == nil {
		a.logger.WarnContext(ctx, "postgres disabled: orders and alerts are not shared with other processes",
			slog.String("mode", a.cfg.Mode))
	}
}

// startHTTPServer adds the websocket hub and HTTP server goroutines to g.
// The server is shut down gracefully when the context is cancelled. coord is
// nil when this process runs no keeper.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, coord *keeper.Coordinator) {
	var reporter handler.CycleReporter
	if coord != nil {
		reporter = coord
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(),
		Status: handler.NewStatusHandler(a.cfg.Mode, reporter, deps.Orders),
		Auth:   handler.NewAuthHandler(deps.Auth, a.logger),
		Orders: handler.NewOrderHandler(deps.Orders, a.logger),
		Alerts: handler.NewAlertHandler(deps.Alerts, a.logger),
		Stats:  handler.NewStatsHandler(deps.Stats),
		Prices: handler.NewPriceHandler(deps.Prices, a.logger),
	}, hub, server.Deps{
		Tokens:  deps.Auth,
		Limiter: deps.RateLimiter,
		Metrics: deps.Metrics,
	}, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
