package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/condition"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// PriceVerifier supplies a trusted reference price for a token. It is
// implemented by PriceCache.
type PriceVerifier interface {
	RequireFreshPrice(ctx context.Context, token string) (domain.Price, error)
}

// Notifier delivers user-facing notifications. It is implemented by
// notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// orderRecord pairs an order with the lock that serializes its transitions.
// Holding mu while checking Status == PENDING is the compare-and-swap gate
// between racing cancel and execute calls.
type orderRecord struct {
	mu    sync.Mutex
	order domain.ConditionalOrder
}

// OrderLedger is the authoritative store of conditional orders.
type OrderLedger struct {
	stats    *StatsAggregator
	quoter   Quoter
	clock    clock.Clock
	store    domain.OrderStore
	statsDB  domain.StatsStore
	verifier PriceVerifier
	maxDevBp int64
	notifier Notifier
	pub      publisher
	logger   *slog.Logger

	mu      sync.RWMutex
	orders  map[uint64]*orderRecord
	nextID  uint64
	pending atomic.Int64
}

// NewOrderLedger creates an in-memory ledger. Persistence, events and
// price verification are attached with the With* methods before use.
func NewOrderLedger(stats *StatsAggregator, quoter Quoter, clk clock.Clock, logger *slog.Logger) *OrderLedger {
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logger.With(slog.String("component", "order_ledger"))
	return &OrderLedger{
		stats:  stats,
		quoter: quoter,
		clock:  clk,
		pub:    publisher{logger: logger},
		logger: logger,
		orders: make(map[uint64]*orderRecord),
	}
}

// WithStore makes every transition write through to store before it is
// committed in memory. stats, if non-nil, is used by Restore.
func (l *OrderLedger) WithStore(store domain.OrderStore, stats domain.StatsStore) *OrderLedger {
	l.store = store
	l.statsDB = stats
	return l
}

// WithBus publishes committed transitions on bus.
func (l *OrderLedger) WithBus(bus domain.SignalBus) *OrderLedger {
	l.pub.bus = bus
	return l
}

// WithPriceVerifier rejects executions whose observed price deviates from
// the verifier's fresh price by more than maxDeviationBps.
func (l *OrderLedger) WithPriceVerifier(v PriceVerifier, maxDeviationBps int64) *OrderLedger {
	l.verifier = v
	l.maxDevBp = maxDeviationBps
	return l
}

// WithNotifier sends an order_executed notification to the owner's channels.
func (l *OrderLedger) WithNotifier(n Notifier) *OrderLedger {
	l.notifier = n
	return l
}

// Create validates req and appends a PENDING order.
func (l *OrderLedger) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.ConditionalOrder, error) {
	if req.Owner == (domain.Address{}) {
		return domain.ConditionalOrder{}, fmt.Errorf("service: create order: %w", domain.ErrUnauthorized)
	}
	if req.AmountIn == 0 {
		return domain.ConditionalOrder{}, fmt.Errorf("service: create order: amount_in is zero: %w", domain.ErrInvalidAmount)
	}
	if !condition.ValidForOrder(req.Condition) {
		return domain.ConditionalOrder{}, fmt.Errorf("service: create order: condition %q: %w", req.Condition, domain.ErrInvalidCondition)
	}
	if req.TargetPrice <= 0 {
		return domain.ConditionalOrder{}, fmt.Errorf("service: create order: target price %s: %w", req.TargetPrice, domain.ErrInvalidPrice)
	}
	if req.Duration <= 0 {
		return domain.ConditionalOrder{}, fmt.Errorf("service: create order: duration %s: %w", req.Duration, domain.ErrInvalidAmount)
	}
	tokenIn := domain.NormalizeToken(req.TokenIn)
	tokenOut := domain.NormalizeToken(req.TokenOut)
	if tokenIn == "" || tokenOut == "" || tokenIn == tokenOut {
		return domain.ConditionalOrder{}, fmt.Errorf("service: create order: pair %q/%q: %w", tokenIn, tokenOut, domain.ErrInvalidCondition)
	}

	now := l.clock.Now()
	o := domain.ConditionalOrder{
		Owner:        req.Owner,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
		Condition:    req.Condition,
		TargetPrice:  req.TargetPrice,
		Status:       domain.OrderStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(req.Duration),
		WatchToken:   l.quoter.WatchToken(tokenIn, tokenOut),
	}

	if l.store != nil {
		id, err := l.store.NextID(ctx)
		if err != nil {
			return domain.ConditionalOrder{}, fmt.Errorf("service: create order: %w", err)
		}
		o.ID = id
		if err := l.store.Create(ctx, o); err != nil {
			return domain.ConditionalOrder{}, fmt.Errorf("service: create order: %w", err)
		}
	}

	l.mu.Lock()
	if l.store == nil {
		o.ID = l.nextID + 1
	}
	if o.ID > l.nextID {
		l.nextID = o.ID
	}
	l.orders[o.ID] = &orderRecord{order: o}
	l.pending.Add(1)
	l.stats.recordOrder(o.Owner, now)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "order created",
		slog.Uint64("order_id", o.ID),
		slog.String("owner", o.Owner.Hex()),
		slog.String("condition", string(o.Condition)),
		slog.String("target", o.TargetPrice.String()),
	)
	owner := o.Owner
	l.pub.publish(ctx, domain.LedgerEvent{
		Type:     domain.EventOrderCreated,
		OrderID:  o.ID,
		Owner:    &owner,
		Token:    o.WatchToken,
		Price:    o.TargetPrice,
		AmountIn: o.AmountIn,
		At:       now,
	})
	return o, nil
}

// Cancel moves a PENDING order owned by caller to CANCELLED. A non-owner is
// rejected whatever the order's status.
func (l *OrderLedger) Cancel(ctx context.Context, caller domain.Address, id uint64) (domain.ConditionalOrder, error) {
	rec := l.lookup(id)
	if rec == nil {
		return domain.ConditionalOrder{}, fmt.Errorf("service: cancel order %d: %w", id, domain.ErrNotFound)
	}

	rec.mu.Lock()
	o := rec.order
	if o.Owner != caller {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: cancel order %d: %w", id, domain.ErrUnauthorized)
	}
	if o.Status != domain.OrderStatusPending {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: cancel order %d in status %s: %w", id, o.Status, domain.ErrNotFound)
	}
	o.Status = domain.OrderStatusCancelled
	if err := l.persistStatus(ctx, o); err != nil {
		l.reconcile(ctx, rec, err)
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: cancel order %d: %w", id, err)
	}
	rec.order = o
	l.pending.Add(-1)
	rec.mu.Unlock()

	l.logger.InfoContext(ctx, "order cancelled", slog.Uint64("order_id", id))
	l.pub.publish(ctx, domain.LedgerEvent{
		Type:    domain.EventOrderCancelled,
		OrderID: id,
		Owner:   &caller,
		Token:   o.WatchToken,
		At:      l.clock.Now(),
	})
	return o, nil
}

// Execute fills a PENDING order at observed. Exactly one of any number of
// concurrent calls for the same order can succeed; the rest fail with
// ErrNotFound.
func (l *OrderLedger) Execute(ctx context.Context, executor domain.Address, id uint64, observed domain.Price) (domain.ConditionalOrder, error) {
	if executor == (domain.Address{}) {
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d: %w", id, domain.ErrUnauthorized)
	}
	rec := l.lookup(id)
	if rec == nil {
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d: %w", id, domain.ErrNotFound)
	}

	rec.mu.Lock()
	o := rec.order
	if o.Status != domain.OrderStatusPending {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d in status %s: %w", id, o.Status, domain.ErrNotFound)
	}
	now := l.clock.Now()
	if o.Expired(now) {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d expired at %s: %w", id, o.ExpiresAt.Format(time.RFC3339), domain.ErrOrderExpired)
	}
	if observed <= 0 {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d at %s: %w", id, observed, domain.ErrInvalidPrice)
	}
	if !condition.Met(o.Condition, o.TargetPrice, observed) {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d: %s %s not met at %s: %w",
			id, o.Condition, o.TargetPrice, observed, domain.ErrInvalidCondition)
	}
	if err := l.verify(ctx, o.WatchToken, observed); err != nil {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d: %w", id, err)
	}
	out, err := l.quoter.AmountOut(o, observed)
	if err != nil {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d: %w", id, err)
	}
	if out < o.MinAmountOut {
		rec.mu.Unlock()
		return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d: amount out %d below minimum %d: %w",
			id, out, o.MinAmountOut, domain.ErrSlippageExceeded)
	}

	o.Status = domain.OrderStatusExecuted
	o.ExecutedAt = &now
	o.ExecutionPrice = observed
	o.AmountOut = out
	o.Executor = &executor
	if l.store != nil {
		if err := l.store.MarkExecuted(ctx, o); err != nil {
			l.reconcile(ctx, rec, err)
			rec.mu.Unlock()
			return domain.ConditionalOrder{}, fmt.Errorf("service: execute order %d: %w", id, err)
		}
	}
	rec.order = o
	l.pending.Add(-1)
	l.stats.recordTrade(o.Owner, o.AmountIn, now)
	rec.mu.Unlock()

	l.logger.InfoContext(ctx, "order executed",
		slog.Uint64("order_id", id),
		slog.String("executor", executor.Hex()),
		slog.String("price", observed.String()),
		slog.Uint64("amount_out", out),
	)
	owner := o.Owner
	l.pub.publish(ctx, domain.LedgerEvent{
		Type:      domain.EventOrderExecuted,
		OrderID:   id,
		Owner:     &owner,
		Token:     o.WatchToken,
		Price:     observed,
		AmountIn:  o.AmountIn,
		AmountOut: out,
		At:        now,
	})
	l.notify(ctx, o)
	return o, nil
}

// SweepExpired moves every PENDING order past its expiry to EXPIRED and
// returns how many were moved.
func (l *OrderLedger) SweepExpired(ctx context.Context) (int, error) {
	now := l.clock.Now()
	swept := 0
	for _, rec := range l.snapshot() {
		rec.mu.Lock()
		o := rec.order
		if o.Status != domain.OrderStatusPending || !o.Expired(now) {
			rec.mu.Unlock()
			continue
		}
		o.Status = domain.OrderStatusExpired
		if err := l.persistStatus(ctx, o); err != nil {
			conflict := l.reconcile(ctx, rec, err)
			rec.mu.Unlock()
			if conflict {
				continue
			}
			return swept, fmt.Errorf("service: expire order %d: %w", o.ID, err)
		}
		rec.order = o
		l.pending.Add(-1)
		rec.mu.Unlock()

		swept++
		owner := o.Owner
		l.pub.publish(ctx, domain.LedgerEvent{
			Type:    domain.EventOrderExpired,
			OrderID: o.ID,
			Owner:   &owner,
			Token:   o.WatchToken,
			At:      now,
		})
	}
	if swept > 0 {
		l.logger.InfoContext(ctx, "expired orders swept", slog.Int("count", swept))
	}
	return swept, nil
}

// Get returns a copy of order id.
func (l *OrderLedger) Get(id uint64) (domain.ConditionalOrder, error) {
	rec := l.lookup(id)
	if rec == nil {
		return domain.ConditionalOrder{}, fmt.Errorf("service: get order %d: %w", id, domain.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.order, nil
}

// List returns orders matching f in ascending id order.
func (l *OrderLedger) List(f domain.OrderFilter) []domain.ConditionalOrder {
	var out []domain.ConditionalOrder
	for _, rec := range l.snapshot() {
		rec.mu.Lock()
		o := rec.order
		rec.mu.Unlock()
		if f.Owner != nil && o.Owner != *f.Owner {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return paginate(out, f.Offset, f.Limit)
}

// PendingOrders returns every PENDING order in ascending id order.
func (l *OrderLedger) PendingOrders() []domain.ConditionalOrder {
	return l.List(domain.OrderFilter{Status: domain.OrderStatusPending})
}

// PendingCount returns the number of PENDING orders.
func (l *OrderLedger) PendingCount() uint64 {
	n := l.pending.Load()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// Restore rebuilds the ledger from the attached store. It must run before
// the ledger serves any call.
func (l *OrderLedger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	orders, err := l.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("service: restore orders: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = make(map[uint64]*orderRecord, len(orders))
	l.nextID = 0
	var pending int64
	for _, o := range orders {
		l.orders[o.ID] = &orderRecord{order: o}
		if o.ID > l.nextID {
			l.nextID = o.ID
		}
		if o.Status == domain.OrderStatusPending {
			pending++
		}
	}
	l.pending.Store(pending)

	if l.statsDB != nil {
		users, err := l.statsDB.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("service: restore user stats: %w", err)
		}
		protocol, err := l.statsDB.GetProtocol(ctx)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("service: restore protocol stats: %w", err)
		}
		l.stats.Restore(users, protocol)
	} else {
		l.stats.reset()
		for _, o := range orders {
			l.stats.recordOrder(o.Owner, o.CreatedAt)
			if o.Status == domain.OrderStatusExecuted && o.ExecutedAt != nil {
				l.stats.recordTrade(o.Owner, o.AmountIn, *o.ExecutedAt)
			}
		}
	}

	l.logger.InfoContext(ctx, "orders restored",
		slog.Int("count", len(orders)),
		slog.Int64("pending", pending),
	)
	return nil
}

// Sync folds in transitions other processes wrote to the attached store:
// new PENDING orders are added and local PENDING orders the store has
// already moved take the stored state. It returns how many records changed.
func (l *OrderLedger) Sync(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	stored, err := l.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: sync orders: %w", err)
	}
	pendingIDs := make(map[uint64]struct{}, len(stored))
	changed := 0

	l.mu.Lock()
	for _, o := range stored {
		pendingIDs[o.ID] = struct{}{}
		if _, ok := l.orders[o.ID]; ok {
			continue
		}
		l.orders[o.ID] = &orderRecord{order: o}
		if o.ID > l.nextID {
			l.nextID = o.ID
		}
		l.pending.Add(1)
		l.stats.recordOrder(o.Owner, o.CreatedAt)
		changed++
	}
	l.mu.Unlock()

	for _, rec := range l.snapshot() {
		rec.mu.Lock()
		id := rec.order.ID
		if rec.order.Status != domain.OrderStatusPending {
			rec.mu.Unlock()
			continue
		}
		if _, ok := pendingIDs[id]; ok {
			rec.mu.Unlock()
			continue
		}
		o, err := l.store.GetByID(ctx, id)
		if err != nil {
			rec.mu.Unlock()
			return changed, fmt.Errorf("service: sync order %d: %w", id, err)
		}
		if l.adopt(rec, o) {
			changed++
		}
		rec.mu.Unlock()
	}
	if changed > 0 {
		l.logger.DebugContext(ctx, "orders synced", slog.Int("changed", changed))
	}
	return changed, nil
}

// reconcile handles a failed write on a PENDING record held under rec.mu.
// When the store rejected the write because the row is no longer PENDING,
// the stored state replaces the local one and reconcile reports true.
func (l *OrderLedger) reconcile(ctx context.Context, rec *orderRecord, cause error) bool {
	if l.store == nil || !errors.Is(cause, domain.ErrNotFound) {
		return false
	}
	o, err := l.store.GetByID(ctx, rec.order.ID)
	if err != nil {
		l.logger.WarnContext(ctx, "reload order after conflict failed",
			slog.Uint64("order_id", rec.order.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !l.adopt(rec, o) {
		return false
	}
	l.logger.InfoContext(ctx, "order moved by another process",
		slog.Uint64("order_id", o.ID),
		slog.String("status", string(o.Status)),
	)
	return true
}

// adopt replaces a local PENDING order with a stored terminal one. Callers
// hold rec.mu.
func (l *OrderLedger) adopt(rec *orderRecord, stored domain.ConditionalOrder) bool {
	if rec.order.Status != domain.OrderStatusPending || stored.Status == domain.OrderStatusPending {
		return false
	}
	rec.order = stored
	l.pending.Add(-1)
	if stored.Status == domain.OrderStatusExecuted && stored.ExecutedAt != nil {
		l.stats.recordTrade(stored.Owner, stored.AmountIn, *stored.ExecutedAt)
	}
	return true
}

func (l *OrderLedger) lookup(id uint64) *orderRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orders[id]
}

// snapshot returns the records sorted by id.
func (l *OrderLedger) snapshot() []*orderRecord {
	l.mu.RLock()
	recs := make([]*orderRecord, 0, len(l.orders))
	ids := make([]uint64, 0, len(l.orders))
	for id := range l.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		recs = append(recs, l.orders[id])
	}
	l.mu.RUnlock()
	return recs
}

func (l *OrderLedger) persistStatus(ctx context.Context, o domain.ConditionalOrder) error {
	if l.store == nil {
		return nil
	}
	return l.store.UpdateStatus(ctx, o)
}

func (l *OrderLedger) verify(ctx context.Context, token string, observed domain.Price) error {
	if l.verifier == nil {
		return nil
	}
	ref, err := l.verifier.RequireFreshPrice(ctx, token)
	if err != nil {
		return err
	}
	if !withinBps(observed, ref, l.maxDevBp) {
		return fmt.Errorf("observed %s deviates from %s %s by more than %d bps: %w",
			observed, token, ref, l.maxDevBp, domain.ErrInvalidPrice)
	}
	return nil
}

func (l *OrderLedger) notify(ctx context.Context, o domain.ConditionalOrder) {
	if l.notifier == nil {
		return
	}
	title := fmt.Sprintf("Order #%d executed", o.ID)
	msg := fmt.Sprintf("%d %s -> %d %s at %s (owner %s)",
		o.AmountIn, o.TokenIn, o.AmountOut, o.TokenOut, o.ExecutionPrice, o.Owner.Hex())
	go func(ctx context.Context) {
		if err := l.notifier.Notify(ctx, string(domain.EventOrderExecuted), title, msg); err != nil {
			l.logger.WarnContext(ctx, "order notification failed",
				slog.Uint64("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(ctx))
}
