// Package keeper runs the execution loop: refresh prices for every token
// referenced by open orders and alerts, evaluate conditions against fresh
// cached prices, and submit execute/trigger calls to the ledger.
package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/condition"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
	"github.com/alanyoungcy/tradekeeper/internal/metrics"
)

const cycleLockKey = "keeper:cycle"

// Prices is the price cache as seen by the keeper.
type Prices interface {
	BatchUpdatePrices(ctx context.Context, keeper domain.Address, tokens []string, prices, confidences []domain.Price) error
	GetPriceSafe(ctx context.Context, token string) (domain.Price, bool, error)
}

// Orders is the order ledger as seen by the keeper.
type Orders interface {
	PendingOrders() []domain.ConditionalOrder
	PendingCount() uint64
	Execute(ctx context.Context, executor domain.Address, id uint64, observed domain.Price) (domain.ConditionalOrder, error)
	SweepExpired(ctx context.Context) (int, error)
}

// Alerts is the alert registry as seen by the keeper.
type Alerts interface {
	ActiveAlerts() []domain.PriceAlert
	Trigger(ctx context.Context, executor, owner domain.Address, id uint64, observed domain.Price) (domain.PriceAlert, error)
}

// Syncer reloads ledger state other processes wrote to the shared store.
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// Notifier receives operator-attention messages.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config controls the loop.
type Config struct {
	Identity     domain.Address
	Interval     time.Duration
	CycleTimeout time.Duration
	Concurrency  int
	SweepExpired bool
	LockTTL      time.Duration
}

// CycleReport summarises one scan cycle.
type CycleReport struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	Skipped         bool          `json:"skipped,omitempty"`
	Synced          int           `json:"synced,omitempty"`
	TokensRequested int           `json:"tokens_requested"`
	TokensUpdated   int           `json:"tokens_updated"`
	TokensBackedOff int           `json:"tokens_backed_off"`
	FeedFailures    int           `json:"feed_failures"`
	Expired         int           `json:"expired"`
	StalePrices     int           `json:"stale_prices"`
	OrdersExecuted  int           `json:"orders_executed"`
	AlertsTriggered int           `json:"alerts_triggered"`
	Benign          int           `json:"benign"`
	Transient       int           `json:"transient"`
	Attention       int           `json:"attention"`
}

// Coordinator is the keeper loop. Only one cycle runs at a time.
type Coordinator struct {
	cfg     Config
	prices  Prices
	orders  Orders
	alerts  Alerts
	source  domain.PriceSource
	clock   clock.Clock
	backoff *tokenBackoff
	dedup   *Dedup
	logger  *slog.Logger

	lock     domain.LockManager
	metrics  *metrics.Metrics
	notifier Notifier
	bus      domain.SignalBus
	syncers  []Syncer

	cycleMu  sync.Mutex
	reportMu sync.RWMutex
	last     *CycleReport
}

// NewCoordinator creates a Coordinator. source supplies quotes for every
// token the ledger references.
func NewCoordinator(cfg Config, prices Prices, orders Orders, alerts Alerts, source domain.PriceSource, clk clock.Clock, logger *slog.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.CycleTimeout + 5*time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{
		cfg:     cfg,
		prices:  prices,
		orders:  orders,
		alerts:  alerts,
		source:  source,
		clock:   clk,
		backoff: newTokenBackoff(),
		dedup:   NewDedup(15 * time.Minute),
		logger:  logger.With(slog.String("component", "keeper")),
	}
}

// WithLock elects a single active keeper across processes.
func (c *Coordinator) WithLock(lm domain.LockManager) *Coordinator {
	c.lock = lm
	return c
}

// WithMetrics records per-cycle metrics.
func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// WithNotifier forwards operator-attention errors.
func (c *Coordinator) WithNotifier(n Notifier) *Coordinator {
	c.notifier = n
	return c
}

// WithBus publishes a keeper_cycle event after each cycle.
func (c *Coordinator) WithBus(bus domain.SignalBus) *Coordinator {
	c.bus = bus
	return c
}

// WithSync reloads shared state through each syncer at the start of every
// cycle.
func (c *Coordinator) WithSync(syncers ...Syncer) *Coordinator {
	c.syncers = append(c.syncers, syncers...)
	return c
}

// LastReport returns the most recent cycle report, or nil before the first
// cycle completes.
func (c *Coordinator) LastReport() *CycleReport {
	c.reportMu.RLock()
	defer c.reportMu.RUnlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}

// Run executes a cycle immediately and then on every tick until ctx is
// cancelled. A cycle already in flight when ctx is cancelled runs to
// completion under its own timeout.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "keeper started",
		slog.String("identity", c.cfg.Identity.Hex()),
		slog.Duration("interval", c.cfg.Interval),
	)
	defer c.logger.InfoContext(ctx, "keeper stopped")

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		c.runOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) runOnce(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CycleTimeout)
	defer cancel()
	if _, err := c.RunCycle(cycleCtx); err != nil {
		c.logger.ErrorContext(ctx, "keeper cycle failed", slog.String("error", err.Error()))
	}
}

// RunCycle performs one full scan.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleReport, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := c.clock.Now()
	wallStart := time.Now()
	report := CycleReport{StartedAt: start}

	if c.lock != nil {
		unlock, err := c.lock.Acquire(ctx, cycleLockKey, c.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			report.Skipped = true
			c.logger.DebugContext(ctx, "another keeper holds the cycle lock")
			c.finish(ctx, &report, wallStart, "skipped")
			return report, nil
		}
		if err != nil {
			c.finish(ctx, &report, wallStart, "error")
			return report, fmt.Errorf("keeper: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	c.dedup.Cleanup(start)
	for _, s := range c.syncers {
		n, err := s.Sync(ctx)
		report.Synced += n
		if err != nil {
			c.logger.WarnContext(ctx, "sync ledger state failed", slog.String("error", err.Error()))
		}
	}

	orders := c.orders.PendingOrders()
	alerts := c.alerts.ActiveAlerts()
	c.refreshPrices(ctx, referencedTokens(orders, alerts), &report)

	if c.cfg.SweepExpired {
		n, err := c.orders.SweepExpired(ctx)
		report.Expired = n
		if err != nil {
			c.logger.WarnContext(ctx, "sweep expired orders failed", slog.String("error", err.Error()))
		}
		if n > 0 {
			orders = c.orders.PendingOrders()
		}
	}

	c.evaluate(ctx, orders, alerts, &report)

	outcome := "ok"
	if report.Attention > 0 {
		outcome = "attention"
	}
	c.finish(ctx, &report, wallStart, outcome)
	return report, nil
}

type fetchResult struct {
	token string
	quote domain.PriceQuote
	err   error
}

// refreshPrices fetches every token not in backoff and applies the valid
// quotes in one batch.
func (c *Coordinator) refreshPrices(ctx context.Context, tokens []string, report *CycleReport) {
	report.TokensRequested = len(tokens)
	if len(tokens) == 0 || c.source == nil {
		return
	}

	now := c.clock.Now()
	p := pool.NewWithResults[fetchResult]().WithMaxGoroutines(c.cfg.Concurrency)
	for _, tok := range tokens {
		if !c.backoff.ready(tok, now) {
			report.TokensBackedOff++
			continue
		}
		p.Go(func() fetchResult {
			q, err := c.source.Fetch(ctx, tok)
			return fetchResult{token: tok, quote: q, err: err}
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].token < results[j].token })

	var (
		upTokens []string
		upPrices []domain.Price
		upConfs  []domain.Price
	)
	for _, r := range results {
		if r.err == nil && (r.quote.Price <= 0 || r.quote.Confidence < 0) {
			r.err = fmt.Errorf("quote %s/%s: %w", r.quote.Price, r.quote.Confidence, domain.ErrInvalidPrice)
		}
		if r.err != nil {
			report.FeedFailures++
			delay := c.backoff.fail(r.token, now)
			c.logger.WarnContext(ctx, "price fetch failed",
				slog.String("token", r.token),
				slog.Duration("retry_in", delay),
				slog.String("error", r.err.Error()),
			)
			if c.metrics != nil {
				c.metrics.FeedFailures.WithLabelValues(c.source.Name(), r.token).Inc()
			}
			continue
		}
		c.backoff.succeed(r.token)
		upTokens = append(upTokens, r.token)
		upPrices = append(upPrices, r.quote.Price)
		upConfs = append(upConfs, r.quote.Confidence)
	}
	if len(upTokens) == 0 {
		return
	}

	if err := c.prices.BatchUpdatePrices(ctx, c.cfg.Identity, upTokens, upPrices, upConfs); err != nil {
		c.handleFailure(ctx, "prices", 0, err, report)
		return
	}
	report.TokensUpdated = len(upTokens)
}

// evaluate submits every order and alert whose condition is met by a fresh
// cached price. Submissions run concurrently; each touches one record.
func (c *Coordinator) evaluate(ctx context.Context, orders []domain.ConditionalOrder, alerts []domain.PriceAlert, report *CycleReport) {
	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(c.cfg.Concurrency)

	lookup := c.priceLookup(ctx, report, &mu)

	for _, o := range orders {
		price, ok := lookup(o.WatchToken)
		if !ok || !condition.Met(o.Condition, o.TargetPrice, price) {
			continue
		}
		p.Go(func() {
			_, err := c.orders.Execute(ctx, c.cfg.Identity, o.ID, price)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.OrdersExecuted++
				c.countSubmission("order", "success")
				return
			}
			c.handleFailure(ctx, "order", o.ID, err, report)
		})
	}

	for _, a := range alerts {
		price, ok := lookup(a.Token)
		if !ok || !condition.Met(a.Condition, a.TargetPrice, price) {
			continue
		}
		p.Go(func() {
			_, err := c.alerts.Trigger(ctx, c.cfg.Identity, a.Owner, a.ID, price)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.AlertsTriggered++
				c.countSubmission("alert", "success")
				return
			}
			c.handleFailure(ctx, "alert", a.ID, err, report)
		})
	}

	p.Wait()
}

// priceLookup memoises GetPriceSafe per token for the cycle. Stale or
// missing prices are reported once and defer evaluation to the next cycle.
func (c *Coordinator) priceLookup(ctx context.Context, report *CycleReport, mu *sync.Mutex) func(string) (domain.Price, bool) {
	type cached struct {
		price domain.Price
		ok    bool
	}
	seen := make(map[string]cached)
	return func(token string) (domain.Price, bool) {
		if v, ok := seen[token]; ok {
			return v.price, v.ok
		}
		price, fresh, err := c.prices.GetPriceSafe(ctx, token)
		v := cached{price: price, ok: err == nil && fresh}
		if err != nil {
			c.logger.WarnContext(ctx, "read cached price failed",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
		}
		if err == nil && !fresh {
			mu.Lock()
			report.StalePrices++
			mu.Unlock()
			c.logger.DebugContext(ctx, "price stale, deferring", slog.String("token", token))
		}
		seen[token] = v
		return v.price, v.ok
	}
}

// handleFailure classifies a submission error. Callers hold the report
// lock where submissions run concurrently.
func (c *Coordinator) handleFailure(ctx context.Context, kind string, id uint64, err error, report *CycleReport) {
	class := Classify(err)
	c.countSubmission(kind, string(class))
	log := c.logger.With(
		slog.String("kind", kind),
		slog.Uint64("id", id),
		slog.String("error", err.Error()),
	)
	switch class {
	case ClassBenign:
		report.Benign++
		log.DebugContext(ctx, "submission lost race or no longer eligible")
	case ClassTransient:
		report.Transient++
		log.WarnContext(ctx, "transient submission failure, retrying next cycle")
	case ClassAttention:
		report.Attention++
		log.ErrorContext(ctx, "submission needs operator attention")
		c.escalate(ctx, kind, id, err)
	}
}

func (c *Coordinator) escalate(ctx context.Context, kind string, id uint64, err error) {
	key := fmt.Sprintf("%s:%d:%s", kind, id, err.Error())
	if c.dedup.IsDuplicate(key, c.clock.Now()) {
		return
	}
	msg := fmt.Sprintf("%s %d: %v", kind, id, err)
	if c.bus != nil {
		payload, _ := json.Marshal(domain.LedgerEvent{
			Type:    domain.EventKeeperAttention,
			Message: msg,
			At:      c.clock.Now(),
		})
		if pubErr := c.bus.Publish(ctx, domain.ChannelKeeper, payload); pubErr != nil {
			c.logger.WarnContext(ctx, "publish attention event failed", slog.String("error", pubErr.Error()))
		}
	}
	if c.notifier != nil {
		if nErr := c.notifier.Notify(ctx, string(domain.EventKeeperAttention), "Keeper needs attention", msg); nErr != nil {
			c.logger.WarnContext(ctx, "attention notification failed", slog.String("error", nErr.Error()))
		}
	}
}

func (c *Coordinator) countSubmission(kind, result string) {
	if c.metrics != nil {
		c.metrics.KeeperSubmissions.WithLabelValues(kind, result).Inc()
	}
}

func (c *Coordinator) finish(ctx context.Context, report *CycleReport, wallStart time.Time, outcome string) {
	report.Duration = time.Since(wallStart)

	if c.metrics != nil {
		c.metrics.KeeperCycleDuration.WithLabelValues(outcome).Observe(report.Duration.Seconds())
		c.metrics.KeeperCycles.WithLabelValues(outcome).Inc()
		c.metrics.PendingOrders.Set(float64(c.orders.PendingCount()))
		c.metrics.ActiveAlerts.Set(float64(len(c.alerts.ActiveAlerts())))
	}

	r := *report
	c.reportMu.Lock()
	c.last = &r
	c.reportMu.Unlock()

	if !report.Skipped {
		c.logger.InfoContext(ctx, "keeper cycle complete",
			slog.Duration("duration", report.Duration),
			slog.Int("tokens_updated", report.TokensUpdated),
			slog.Int("feed_failures", report.FeedFailures),
			slog.Int("orders_executed", report.OrdersExecuted),
			slog.Int("alerts_triggered", report.AlertsTriggered),
			slog.Int("attention", report.Attention),
		)
	}

	if c.bus != nil && !report.Skipped {
		payload, err := json.Marshal(map[string]any{
			"type":   domain.EventKeeperCycle,
			"report": r,
			"at":     c.clock.Now(),
		})
		if err == nil {
			if pubErr := c.bus.Publish(ctx, domain.ChannelKeeper, payload); pubErr != nil {
				c.logger.WarnContext(ctx, "publish cycle event failed", slog.String("error", pubErr.Error()))
			}
		}
	}
}

// referencedTokens returns the sorted set of tokens watched by orders and
// alerts.
func referencedTokens(orders []domain.ConditionalOrder, alerts []domain.PriceAlert) []string {
	set := make(map[string]struct{}, len(orders)+len(alerts))
	for _, o := range orders {
		set[o.WatchToken] = struct{}{}
	}
	for _, a := range alerts {
		set[a.Token] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		if t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
