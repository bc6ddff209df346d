package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// DefaultMaxPriceAge is the staleness window applied to cached prices.
const DefaultMaxPriceAge = 60 * time.Second

// PriceCache holds the latest price per token. Writes are restricted to an
// allow-list of keepers managed by the admin set at Initialize.
type PriceCache struct {
	store  domain.PriceStore
	clock  clock.Clock
	maxAge time.Duration
	pub    publisher
	logger *slog.Logger

	mu          sync.RWMutex
	initialized bool
	admin       domain.Address
	keepers     map[domain.Address]struct{}
}

// NewPriceCache creates a PriceCache over store. A nil bus disables events.
func NewPriceCache(store domain.PriceStore, bus domain.SignalBus, clk clock.Clock, maxAge time.Duration, logger *slog.Logger) *PriceCache {
	if maxAge <= 0 {
		maxAge = DefaultMaxPriceAge
	}
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logger.With(slog.String("component", "price_cache"))
	return &PriceCache{
		store:   store,
		clock:   clk,
		maxAge:  maxAge,
		pub:     publisher{bus: bus, logger: logger},
		logger:  logger,
		keepers: make(map[domain.Address]struct{}),
	}
}

// Initialize sets admin as the cache administrator and first keeper. It can
// only be called once.
func (c *PriceCache) Initialize(ctx context.Context, admin domain.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return domain.ErrAlreadyInitialized
	}
	if admin == (domain.Address{}) {
		return fmt.Errorf("price_cache: initialize: %w", domain.ErrUnauthorized)
	}
	c.initialized = true
	c.admin = admin
	c.keepers[admin] = struct{}{}
	c.logger.InfoContext(ctx, "price cache initialized", slog.String("admin", admin.Hex()))
	return nil
}

// AddKeeper authorizes keeper to write prices. Only the admin may call it.
func (c *PriceCache) AddKeeper(ctx context.Context, caller, keeper domain.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAdminLocked(caller); err != nil {
		return fmt.Errorf("price_cache: add keeper: %w", err)
	}
	c.keepers[keeper] = struct{}{}
	c.logger.InfoContext(ctx, "keeper added", slog.String("keeper", keeper.Hex()))
	return nil
}

// RemoveKeeper revokes keeper. Only the admin may call it.
func (c *PriceCache) RemoveKeeper(ctx context.Context, caller, keeper domain.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAdminLocked(caller); err != nil {
		return fmt.Errorf("price_cache: remove keeper: %w", err)
	}
	delete(c.keepers, keeper)
	c.logger.InfoContext(ctx, "keeper removed", slog.String("keeper", keeper.Hex()))
	return nil
}

func (c *PriceCache) checkAdminLocked(caller domain.Address) error {
	if !c.initialized {
		return domain.ErrNotInitialized
	}
	if caller != c.admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// IsKeeper reports whether addr may write prices.
func (c *PriceCache) IsKeeper(addr domain.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keepers[addr]
	return ok
}

// MaxAge returns the staleness window.
func (c *PriceCache) MaxAge() time.Duration { return c.maxAge }

// UpdatePrice writes a single entry stamped with the current time.
func (c *PriceCache) UpdatePrice(ctx context.Context, keeper domain.Address, token string, price, confidence domain.Price) error {
	return c.BatchUpdatePrices(ctx, keeper, []string{token}, []domain.Price{price}, []domain.Price{confidence})
}

// BatchUpdatePrices validates every element before writing any of them. A
// single bad element aborts the whole batch.
func (c *PriceCache) BatchUpdatePrices(ctx context.Context, keeper domain.Address, tokens []string, prices, confidences []domain.Price) error {
	c.mu.RLock()
	initialized := c.initialized
	_, authorized := c.keepers[keeper]
	c.mu.RUnlock()

	if !initialized {
		return fmt.Errorf("price_cache: update prices: %w", domain.ErrNotInitialized)
	}
	if !authorized {
		return fmt.Errorf("price_cache: update prices by %s: %w", keeper.Hex(), domain.ErrUnauthorized)
	}
	if len(tokens) != len(prices) || len(tokens) != len(confidences) {
		return fmt.Errorf("price_cache: update prices: %d tokens, %d prices, %d confidences: %w",
			len(tokens), len(prices), len(confidences), domain.ErrInvalidPrice)
	}
	if len(tokens) == 0 {
		return nil
	}

	now := c.clock.Now()
	entries := make([]domain.PriceFeedEntry, len(tokens))
	for i, tok := range tokens {
		tok = domain.NormalizeToken(tok)
		if tok == "" {
			return fmt.Errorf("price_cache: update prices: empty token at %d: %w", i, domain.ErrInvalidPrice)
		}
		if prices[i] <= 0 {
			return fmt.Errorf("price_cache: update prices: %s price %s: %w", tok, prices[i], domain.ErrInvalidPrice)
		}
		if confidences[i] < 0 {
			return fmt.Errorf("price_cache: update prices: %s confidence %s: %w", tok, confidences[i], domain.ErrInvalidPrice)
		}
		entries[i] = domain.PriceFeedEntry{
			Token:      tok,
			Price:      prices[i],
			Confidence: confidences[i],
			UpdatedAt:  now,
		}
	}

	if err := c.store.PutBatch(ctx, entries); err != nil {
		return fmt.Errorf("price_cache: update prices: %w", err)
	}

	for _, e := range entries {
		c.pub.publish(ctx, domain.LedgerEvent{
			Type:  domain.EventPricesUpdated,
			Token: e.Token,
			Price: e.Price,
			At:    now,
		})
	}
	return nil
}

// GetPrice returns the entry for token, or a zero entry if it has never
// been priced.
func (c *PriceCache) GetPrice(ctx context.Context, token string) (domain.PriceFeedEntry, error) {
	tok := domain.NormalizeToken(token)
	e, err := c.store.Get(ctx, tok)
	if err != nil {
		if isNotFound(err) {
			return domain.PriceFeedEntry{Token: tok}, nil
		}
		return domain.PriceFeedEntry{}, fmt.Errorf("price_cache: get %s: %w", tok, err)
	}
	return e, nil
}

// IsPriceFresh reports whether token has an entry no older than the
// staleness window.
func (c *PriceCache) IsPriceFresh(ctx context.Context, token string) (bool, error) {
	e, err := c.GetPrice(ctx, token)
	if err != nil {
		return false, err
	}
	return c.fresh(e), nil
}

// GetPriceSafe returns the price together with its freshness from a single
// read of the entry.
func (c *PriceCache) GetPriceSafe(ctx context.Context, token string) (domain.Price, bool, error) {
	e, err := c.GetPrice(ctx, token)
	if err != nil {
		return 0, false, err
	}
	return e.Price, c.fresh(e), nil
}

// RequireFreshPrice returns the price for token or ErrFeedNotFound /
// ErrPriceStale.
func (c *PriceCache) RequireFreshPrice(ctx context.Context, token string) (domain.Price, error) {
	e, err := c.GetPrice(ctx, token)
	if err != nil {
		return 0, err
	}
	if !e.Exists() {
		return 0, fmt.Errorf("price_cache: %s: %w", e.Token, domain.ErrFeedNotFound)
	}
	if !c.fresh(e) {
		return 0, fmt.Errorf("price_cache: %s last updated %s: %w", e.Token, e.UpdatedAt.Format(time.RFC3339), domain.ErrPriceStale)
	}
	return e.Price, nil
}

// All returns every cached entry.
func (c *PriceCache) All(ctx context.Context) ([]domain.PriceFeedEntry, error) {
	entries, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("price_cache: list: %w", err)
	}
	return entries, nil
}

// Tokens returns the symbols currently held in the cache.
func (c *PriceCache) Tokens(ctx context.Context) ([]string, error) {
	entries, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Token)
	}
	return out, nil
}

func (c *PriceCache) fresh(e domain.PriceFeedEntry) bool {
	if !e.Exists() {
		return false
	}
	return c.clock.Now().Sub(e.UpdatedAt) <= c.maxAge
}
