package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekeeper/internal/cache/memory"
	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

var (
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	keeper = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

func usd(s string) domain.Price {
	p, err := domain.ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

type fixture struct {
	clock  *clock.Fake
	bus    *memory.SignalBus
	prices *PriceCache
	stats  *StatsAggregator
	ledger *OrderLedger
	alerts *AlertRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := memory.NewSignalBus()

	prices := NewPriceCache(memory.NewPriceStore(), bus, clk, DefaultMaxPriceAge, logger)
	require.NoError(t, prices.Initialize(context.Background(), admin))
	require.NoError(t, prices.AddKeeper(context.Background(), admin, keeper))

	stats := NewStatsAggregator()
	ledger := NewOrderLedger(stats, NewPriceQuoter(nil), clk, logger).
		WithBus(bus).
		WithPriceVerifier(prices, 200)
	alerts := NewAlertRegistry(clk, logger).WithBus(bus)

	return &fixture{clock: clk, bus: bus, prices: prices, stats: stats, ledger: ledger, alerts: alerts}
}

func (f *fixture) setPrice(t *testing.T, token, price string) {
	t.Helper()
	require.NoError(t, f.prices.UpdatePrice(context.Background(), keeper, token, usd(price), 0))
}

func buyAPTBelow(target string) domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		Owner:       alice,
		TokenIn:     "USDC",
		TokenOut:    "APT",
		AmountIn:    20,
		Condition:   domain.ConditionBelow,
		TargetPrice: usd(target),
		Duration:    time.Hour,
	}
}

func TestScenarioA_BelowOrderExecutesOnceConditionMet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), o.ID)
	assert.Equal(t, "APT", o.WatchToken)
	assert.True(t, o.IsBuy())

	f.setPrice(t, "APT", "8.50")
	price, fresh, err := f.prices.GetPriceSafe(ctx, "APT")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, usd("8.50"), price)

	_, err = f.ledger.Execute(ctx, keeper, o.ID, price)
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)
	got, err := f.ledger.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	f.clock.Advance(10 * time.Second)
	f.setPrice(t, "APT", "6.50")
	price, fresh, err = f.prices.GetPriceSafe(ctx, "APT")
	require.NoError(t, err)
	require.True(t, fresh)

	executed, err := f.ledger.Execute(ctx, keeper, o.ID, price)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, executed.Status)
	require.NotNil(t, executed.ExecutedAt)
	assert.Equal(t, f.clock.Now(), *executed.ExecutedAt)
	assert.Equal(t, uint64(3), executed.AmountOut)
	assert.Equal(t, keeper, *executed.Executor)

	us := f.stats.UserStats(alice)
	assert.Equal(t, uint64(1), us.TradeCount)
	assert.Equal(t, uint64(20), us.Volume)
	ps := f.stats.ProtocolStats()
	assert.Equal(t, uint64(1), ps.TotalTrades)
	assert.Equal(t, uint64(20), ps.TotalVolume)
	assert.Equal(t, uint64(1), ps.TotalOrders)
	assert.Zero(t, f.ledger.PendingCount())
}

func TestScenarioB_ConcurrentExecuteSucceedsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.setPrice(t, "APT", "6.50")

	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)

	const racers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			errs = append(errs, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range errs {
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	got, err := f.ledger.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
	assert.Equal(t, uint64(1), f.stats.UserStats(alice).TradeCount)
	assert.Equal(t, uint64(20), f.stats.ProtocolStats().TotalVolume)
}

func TestScenarioC_AlertTriggersOnlyAboveTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.alerts.Create(ctx, domain.CreateAlertRequest{
		Owner:       alice,
		Token:       "btc",
		Condition:   domain.ConditionAbove,
		TargetPrice: usd("100000"),
		Message:     "take profit",
	})
	require.NoError(t, err)
	assert.Equal(t, "BTC", a.Token)

	_, err = f.alerts.Trigger(ctx, keeper, alice, a.ID, usd("99000"))
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)
	got, err := f.alerts.Get(a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	triggered, err := f.alerts.Trigger(ctx, keeper, alice, a.ID, usd("100500"))
	require.NoError(t, err)
	assert.False(t, triggered.IsActive)
	require.NotNil(t, triggered.TriggeredAt)
	assert.Equal(t, usd("100500"), triggered.TriggeredPrice)

	_, err = f.alerts.Trigger(ctx, keeper, alice, a.ID, usd("100500"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Zero(t, f.stats.ProtocolStats().TotalTrades)
}

func TestExecuteTwiceDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.setPrice(t, "APT", "6.50")
	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)

	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	require.NoError(t, err)
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
	assert.Equal(t, uint64(1), f.stats.UserStats(alice).TradeCount)
}

func TestCreateOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*domain.CreateOrderRequest)
		want   error
	}{
		{"zero amount", func(r *domain.CreateOrderRequest) { r.AmountIn = 0 }, domain.ErrInvalidAmount},
		{"eq condition", func(r *domain.CreateOrderRequest) { r.Condition = domain.ConditionEq }, domain.ErrInvalidCondition},
		{"immediate condition", func(r *domain.CreateOrderRequest) { r.Condition = domain.ConditionImmediate }, domain.ErrInvalidCondition},
		{"zero target", func(r *domain.CreateOrderRequest) { r.TargetPrice = 0 }, domain.ErrInvalidPrice},
		{"no duration", func(r *domain.CreateOrderRequest) { r.Duration = 0 }, domain.ErrInvalidAmount},
		{"same token", func(r *domain.CreateOrderRequest) { r.TokenOut = "usdc" }, domain.ErrInvalidCondition},
		{"no owner", func(r *domain.CreateOrderRequest) { r.Owner = domain.Address{} }, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := buyAPTBelow("7.00")
			tt.mutate(&req)
			_, err := f.ledger.Create(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.ledger.List(domain.OrderFilter{}))
	assert.Zero(t, f.ledger.PendingCount())
	assert.Zero(t, f.stats.ProtocolStats().TotalOrders)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)

	_, err = f.ledger.Cancel(ctx, bob, o.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	cancelled, err := f.ledger.Cancel(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Zero(t, f.ledger.PendingCount())

	_, err = f.ledger.Cancel(ctx, alice, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.ledger.Cancel(ctx, bob, o.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "non-owner is rejected whatever the status")

	f.setPrice(t, "APT", "6.50")
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.ledger.Cancel(ctx, alice, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteExpiredOrderStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	f.setPrice(t, "APT", "6.50")
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	assert.ErrorIs(t, err, domain.ErrOrderExpired)

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Equal(t, uint64(1), f.ledger.PendingCount())

	n, err := f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)
	assert.Zero(t, f.ledger.PendingCount())

	n, err = f.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecuteSlippageFloor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.setPrice(t, "APT", "6.50")

	req := buyAPTBelow("7.00")
	req.MinAmountOut = 4
	o, err := f.ledger.Create(ctx, req)
	require.NoError(t, err)

	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestExecutePriceVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)

	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)

	f.setPrice(t, "APT", "8.50")
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	assert.ErrorIs(t, err, domain.ErrInvalidPrice, "observed price far from cached price")

	f.setPrice(t, "APT", "6.55")
	f.clock.Advance(DefaultMaxPriceAge + time.Second)
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("6.50"))
	assert.ErrorIs(t, err, domain.ErrPriceStale)

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestUnmetConditionReportedBeforeVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.alerts.WithPriceVerifier(f.prices, 200)

	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)
	a, err := f.alerts.Create(ctx, domain.CreateAlertRequest{
		Owner:       alice,
		Token:       "BTC",
		Condition:   domain.ConditionAbove,
		TargetPrice: usd("100000"),
	})
	require.NoError(t, err)

	// No cached price for either token.
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("8.50"))
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)
	_, err = f.alerts.Trigger(ctx, keeper, alice, a.ID, usd("99000"))
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	// Cached price far from the observed one.
	f.setPrice(t, "APT", "20")
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("8.50"))
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	// Stale cache.
	f.setPrice(t, "APT", "8.50")
	f.clock.Advance(DefaultMaxPriceAge + time.Second)
	_, err = f.ledger.Execute(ctx, keeper, o.ID, usd("8.50"))
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestSellQuote(t *testing.T) {
	q := NewPriceQuoter(nil)
	o := domain.ConditionalOrder{
		ID:         1,
		TokenIn:    "APT",
		TokenOut:   "USDC",
		AmountIn:   20,
		WatchToken: q.WatchToken("APT", "USDC"),
	}
	require.False(t, o.IsBuy())
	out, err := q.AmountOut(o, usd("8.55"))
	require.NoError(t, err)
	assert.Equal(t, uint64(171), out)
}

func TestPendingCountMatchesRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.setPrice(t, "APT", "6.50")
	rng := rand.New(rand.NewSource(7))

	var ids []uint64
	for i := 0; i < 200; i++ {
		switch rng.Intn(3) {
		case 0:
			o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
			require.NoError(t, err)
			ids = append(ids, o.ID)
		case 1:
			if len(ids) > 0 {
				_, _ = f.ledger.Cancel(ctx, alice, ids[rng.Intn(len(ids))])
			}
		case 2:
			if len(ids) > 0 {
				_, _ = f.ledger.Execute(ctx, keeper, ids[rng.Intn(len(ids))], usd("6.50"))
			}
		}
		pending := f.ledger.List(domain.OrderFilter{Status: domain.OrderStatusPending})
		require.Equal(t, uint64(len(pending)), f.ledger.PendingCount())
	}
}

func TestOrderListingFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
		require.NoError(t, err)
	}
	req := buyAPTBelow("7.00")
	req.Owner = bob
	_, err := f.ledger.Create(ctx, req)
	require.NoError(t, err)

	owner := alice
	mine := f.ledger.List(domain.OrderFilter{Owner: &owner})
	assert.Len(t, mine, 3)
	page := f.ledger.List(domain.OrderFilter{Owner: &owner, Offset: 1, Limit: 1})
	require.Len(t, page, 1)
	assert.Equal(t, uint64(2), page[0].ID)
	assert.Equal(t, uint64(3), f.stats.UserStats(alice).OrderCount)
	assert.Equal(t, uint64(4), f.stats.ProtocolStats().TotalOrders)
}

func TestAlertCancelAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.alerts.Create(ctx, domain.CreateAlertRequest{
		Owner: alice, Token: "APT", Condition: domain.ConditionEq, TargetPrice: usd("7"),
	})
	require.NoError(t, err)

	_, err = f.alerts.Cancel(ctx, bob, a.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	for i := 0; i < 2; i++ {
		got, err := f.alerts.Cancel(ctx, alice, a.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	}

	_, err = f.alerts.Trigger(ctx, keeper, alice, a.ID, usd("7"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, f.alerts.Delete(ctx, bob, a.ID), domain.ErrUnauthorized)
	require.NoError(t, f.alerts.Delete(ctx, alice, a.ID))
	_, err = f.alerts.Get(a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAlertValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.alerts.Create(ctx, domain.CreateAlertRequest{Owner: alice, Token: "APT", Condition: domain.ConditionImmediate, TargetPrice: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	long := make([]byte, domain.MaxAlertMessageLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.alerts.Create(ctx, domain.CreateAlertRequest{Owner: alice, Token: "APT", Condition: domain.ConditionAbove, TargetPrice: 1, Message: string(long)})
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	a, err := f.alerts.Create(ctx, domain.CreateAlertRequest{Owner: alice, Token: "APT", Condition: domain.ConditionAbove, TargetPrice: usd("7")})
	require.NoError(t, err)
	_, err = f.alerts.Trigger(ctx, keeper, bob, a.ID, usd("8"))
	assert.ErrorIs(t, err, domain.ErrNotFound, "owner mismatch")
}

func TestPriceCacheAuthorization(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	c := NewPriceCache(memory.NewPriceStore(), nil, clk, 0, logger)

	err := c.UpdatePrice(ctx, admin, "APT", usd("1"), 0)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	require.NoError(t, c.Initialize(ctx, admin))
	assert.ErrorIs(t, c.Initialize(ctx, admin), domain.ErrAlreadyInitialized)

	assert.ErrorIs(t, c.UpdatePrice(ctx, keeper, "APT", usd("1"), 0), domain.ErrUnauthorized)
	assert.ErrorIs(t, c.AddKeeper(ctx, keeper, keeper), domain.ErrUnauthorized)
	require.NoError(t, c.AddKeeper(ctx, admin, keeper))
	require.NoError(t, c.UpdatePrice(ctx, keeper, "APT", usd("1"), 0))

	require.NoError(t, c.RemoveKeeper(ctx, admin, keeper))
	assert.False(t, c.IsKeeper(keeper))
	assert.ErrorIs(t, c.UpdatePrice(ctx, keeper, "APT", usd("1"), 0), domain.ErrUnauthorized)
}

func TestBatchUpdateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.prices.BatchUpdatePrices(ctx, keeper,
		[]string{"APT", "BTC"},
		[]domain.Price{usd("6.5"), 0},
		[]domain.Price{0, 0},
	)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	err = f.prices.BatchUpdatePrices(ctx, keeper,
		[]string{"APT", "BTC"},
		[]domain.Price{usd("6.5")},
		[]domain.Price{0, 0},
	)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	e, err := f.prices.GetPrice(ctx, "APT")
	require.NoError(t, err)
	assert.False(t, e.Exists())
	assert.Zero(t, e.Price)

	require.NoError(t, f.prices.BatchUpdatePrices(ctx, keeper,
		[]string{"APT", "BTC"},
		[]domain.Price{usd("6.5"), usd("100000")},
		[]domain.Price{usd("0.01"), usd("5")},
	))
	tokens, err := f.prices.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"APT", "BTC"}, tokens)
}

func TestPriceFreshnessWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	fresh, err := f.prices.IsPriceFresh(ctx, "APT")
	require.NoError(t, err)
	assert.False(t, fresh, "absent token is never fresh")

	f.setPrice(t, "APT", "6.5")
	f.clock.Advance(DefaultMaxPriceAge)
	_, fresh, err = f.prices.GetPriceSafe(ctx, "APT")
	require.NoError(t, err)
	assert.True(t, fresh, "exactly at the window is still fresh")

	f.clock.Advance(time.Nanosecond)
	price, fresh, err := f.prices.GetPriceSafe(ctx, "APT")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, usd("6.5"), price)

	_, err = f.prices.RequireFreshPrice(ctx, "APT")
	assert.True(t, errors.Is(err, domain.ErrPriceStale))
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o, err := f.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, alice, o.ID)
	require.NoError(t, err)

	msgs, err := f.bus.StreamRead(ctx, domain.StreamLedgerEvents, "0", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, string(msgs[0].Payload), `"order_created"`)
	assert.Contains(t, string(msgs[1].Payload), `"order_cancelled"`)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func TestTriggeredAlertIsNotified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := &recordingNotifier{done: make(chan struct{}, 1)}
	f.alerts.WithNotifier(n)

	a, err := f.alerts.Create(ctx, domain.CreateAlertRequest{Owner: alice, Token: "APT", Condition: domain.ConditionBelow, TargetPrice: usd("7")})
	require.NoError(t, err)
	_, err = f.alerts.Trigger(ctx, keeper, alice, a.ID, usd("6.9"))
	require.NoError(t, err)

	select {
	case <-n.done:
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{string(domain.EventAlertTriggered)}, n.events)
}
