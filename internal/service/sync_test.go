package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// memOrderStore is a domain.OrderStore shared by several ledgers in one
// test, standing in for one Postgres database behind several processes.
type memOrderStore struct {
	mu   sync.Mutex
	seq  uint64
	rows map[uint64]domain.ConditionalOrder
}

var _ domain.OrderStore = (*memOrderStore)(nil)

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{rows: make(map[uint64]domain.ConditionalOrder)}
}

func (s *memOrderStore) NextID(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *memOrderStore) Create(_ context.Context, o domain.ConditionalOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[o.ID]; ok {
		return fmt.Errorf("order %d: duplicate key", o.ID)
	}
	s.rows[o.ID] = o
	return nil
}

func (s *memOrderStore) UpdateStatus(_ context.Context, o domain.ConditionalOrder) error {
	return s.movePending(o)
}

func (s *memOrderStore) MarkExecuted(_ context.Context, o domain.ConditionalOrder) error {
	return s.movePending(o)
}

func (s *memOrderStore) movePending(o domain.ConditionalOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[o.ID]; !ok || cur.Status != domain.OrderStatusPending {
		return domain.ErrNotFound
	}
	s.rows[o.ID] = o
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id uint64) (domain.ConditionalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return domain.ConditionalOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrderStore) LoadAll(context.Context) ([]domain.ConditionalOrder, error) {
	return s.filter(func(domain.ConditionalOrder) bool { return true }), nil
}

func (s *memOrderStore) ListPending(context.Context) ([]domain.ConditionalOrder, error) {
	return s.filter(func(o domain.ConditionalOrder) bool { return o.Status == domain.OrderStatusPending }), nil
}

func (s *memOrderStore) ListTerminalBefore(context.Context, time.Time) ([]domain.ConditionalOrder, error) {
	return s.filter(func(o domain.ConditionalOrder) bool { return o.Status.Terminal() }), nil
}

func (s *memOrderStore) filter(keep func(domain.ConditionalOrder) bool) []domain.ConditionalOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConditionalOrder
	for id := uint64(1); id <= s.seq; id++ {
		if o, ok := s.rows[id]; ok && keep(o) {
			out = append(out, o)
		}
	}
	return out
}

type memAlertStore struct {
	mu   sync.Mutex
	seq  uint64
	rows map[uint64]domain.PriceAlert
}

var _ domain.AlertStore = (*memAlertStore)(nil)

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{rows: make(map[uint64]domain.PriceAlert)}
}

func (s *memAlertStore) NextID(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *memAlertStore) Create(_ context.Context, a domain.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID]; ok {
		return fmt.Errorf("alert %d: duplicate key", a.ID)
	}
	s.rows[a.ID] = a
	return nil
}

func (s *memAlertStore) Deactivate(_ context.Context, a domain.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[a.ID]; !ok || !cur.IsActive {
		return domain.ErrNotFound
	}
	s.rows[a.ID] = a
	return nil
}

func (s *memAlertStore) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *memAlertStore) GetByID(_ context.Context, id uint64) (domain.PriceAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return domain.PriceAlert{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *memAlertStore) LoadAll(context.Context) ([]domain.PriceAlert, error) {
	return s.filter(func(domain.PriceAlert) bool { return true }), nil
}

func (s *memAlertStore) ListActive(context.Context) ([]domain.PriceAlert, error) {
	return s.filter(func(a domain.PriceAlert) bool { return a.IsActive }), nil
}

func (s *memAlertStore) ListInactiveBefore(context.Context, time.Time) ([]domain.PriceAlert, error) {
	return s.filter(func(a domain.PriceAlert) bool { return !a.IsActive }), nil
}

func (s *memAlertStore) filter(keep func(domain.PriceAlert) bool) []domain.PriceAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PriceAlert
	for id := uint64(1); id <= s.seq; id++ {
		if a, ok := s.rows[id]; ok && keep(a) {
			out = append(out, a)
		}
	}
	return out
}

type process struct {
	stats  *StatsAggregator
	ledger *OrderLedger
	alerts *AlertRegistry
}

func newProcess(t *testing.T, clk clock.Clock, orders *memOrderStore, alerts *memAlertStore) *process {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stats := NewStatsAggregator()
	p := &process{
		stats:  stats,
		ledger: NewOrderLedger(stats, NewPriceQuoter(nil), clk, logger).WithStore(orders, nil),
		alerts: NewAlertRegistry(clk, logger).WithStore(alerts),
	}
	require.NoError(t, p.ledger.Restore(context.Background()))
	require.NoError(t, p.alerts.Restore(context.Background()))
	return p
}

func TestLedgersSharingAStore(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemOrderStore()
	api := newProcess(t, clk, store, newMemAlertStore())
	keeperSide := newProcess(t, clk, store, newMemAlertStore())

	first, err := api.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)
	second, err := keeperSide.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "ids come from the shared store")

	n, err := keeperSide.ledger.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(2), keeperSide.ledger.PendingCount())
	assert.Equal(t, uint64(2), keeperSide.stats.UserStats(alice).OrderCount)

	// Cancelled through the API, then picked up by the keeper's next sync.
	_, err = api.ledger.Cancel(ctx, alice, first.ID)
	require.NoError(t, err)
	n, err = keeperSide.ledger.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := keeperSide.ledger.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Equal(t, uint64(1), keeperSide.ledger.PendingCount())

	// Executed by the keeper while the API still holds it as PENDING.
	_, err = api.ledger.Sync(ctx)
	require.NoError(t, err)
	_, err = keeperSide.ledger.Execute(ctx, keeper, second.ID, usd("6.50"))
	require.NoError(t, err)
	_, err = api.ledger.Cancel(ctx, alice, second.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err = api.ledger.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
	assert.Zero(t, api.ledger.PendingCount())
	assert.Equal(t, uint64(1), api.stats.UserStats(alice).TradeCount)
}

func TestSweepSkipsOrdersMovedElsewhere(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemOrderStore()
	api := newProcess(t, clk, store, newMemAlertStore())
	keeperSide := newProcess(t, clk, store, newMemAlertStore())

	o, err := api.ledger.Create(ctx, buyAPTBelow("7.00"))
	require.NoError(t, err)
	_, err = keeperSide.ledger.Sync(ctx)
	require.NoError(t, err)
	_, err = api.ledger.Cancel(ctx, alice, o.ID)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	swept, err := keeperSide.ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
	got, err := keeperSide.ledger.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Zero(t, keeperSide.ledger.PendingCount())
}

func TestRegistriesSharingAStore(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemAlertStore()
	api := newProcess(t, clk, newMemOrderStore(), store)
	keeperSide := newProcess(t, clk, newMemOrderStore(), store)

	req := domain.CreateAlertRequest{
		Owner:       alice,
		Token:       "BTC",
		Condition:   domain.ConditionAbove,
		TargetPrice: usd("100000"),
	}
	deleted, err := api.alerts.Create(ctx, req)
	require.NoError(t, err)
	cancelled, err := api.alerts.Create(ctx, req)
	require.NoError(t, err)

	n, err := keeperSide.alerts.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, keeperSide.alerts.ActiveAlerts(), 2)

	require.NoError(t, api.alerts.Delete(ctx, alice, deleted.ID))
	n, err = keeperSide.alerts.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = keeperSide.alerts.Get(deleted.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Cancelled through the API before the keeper syncs again.
	_, err = api.alerts.Cancel(ctx, alice, cancelled.ID)
	require.NoError(t, err)
	_, err = keeperSide.alerts.Trigger(ctx, keeper, alice, cancelled.ID, usd("100500"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := keeperSide.alerts.Get(cancelled.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.TriggeredAt)
	assert.Empty(t, keeperSide.alerts.ActiveAlerts())
}

func TestAlertIDsSurviveDeleteAndRestart(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMemAlertStore()
	before := newProcess(t, clk, newMemOrderStore(), store)

	req := domain.CreateAlertRequest{Owner: alice, Token: "BTC", Condition: domain.ConditionAbove, TargetPrice: usd("100000")}
	_, err := before.alerts.Create(ctx, req)
	require.NoError(t, err)
	newest, err := before.alerts.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, before.alerts.Delete(ctx, alice, newest.ID))

	after := newProcess(t, clk, newMemOrderStore(), store)
	next, err := after.alerts.Create(ctx, req)
	require.NoError(t, err)
	assert.Greater(t, next.ID, newest.ID)
}
