package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStable(t *testing.T) {
	s := NewStable([]string{"usdc", "USDT"})

	q, err := s.Fetch(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, "1", q.Price.String())
	assert.Equal(t, "stable", q.Source)

	_, err = s.Fetch(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)
}

func decibelServer(t *testing.T, marketCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/markets", func(w http.ResponseWriter, r *http.Request) {
		marketCalls.Add(1)
		_, _ = io.WriteString(w, `[
			{"market_addr":"0xbtc","market_name":"BTC-USD"},
			{"market_addr":"0xapt","market_name":"APT-USD"},
			{"market_addr":"0xeth","market_name":"ETH-USD"}
		]`)
	})
	mux.HandleFunc("GET /api/v1/prices", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("market") {
		case "0xbtc":
			_, _ = io.WriteString(w, `[{"market":"0xbtc","mark_px":97010.5,"oracle_px":97000,"transaction_unix_ms":1740830400000}]`)
		case "0xapt":
			_, _ = io.WriteString(w, `[{"market":"0xapt","mark_px":"6.55","oracle_px":null}]`)
		case "0xeth":
			_, _ = io.WriteString(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDecibelSource(t *testing.T) {
	var marketCalls atomic.Int32
	srv := decibelServer(t, &marketCalls)
	d := NewDecibelSource(srv.URL, time.Second)
	ctx := context.Background()

	q, err := d.Fetch(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "BTC", q.Token)
	assert.Equal(t, "97000", q.Price.String())
	assert.Equal(t, "10.5", q.Confidence.String())
	assert.Equal(t, time.UnixMilli(1740830400000).UTC(), q.Timestamp)

	q, err = d.Fetch(ctx, "APT")
	require.NoError(t, err)
	assert.Equal(t, "6.55", q.Price.String(), "mark price when no oracle price")
	assert.Zero(t, q.Confidence)

	_, err = d.Fetch(ctx, "ETH")
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)

	_, err = d.Fetch(ctx, "DOGE")
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)

	assert.Equal(t, int32(1), marketCalls.Load(), "market table is cached")
}

func TestDecibelRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewDecibelSource(srv.URL, time.Second).Fetch(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestBinanceHandleMessage(t *testing.T) {
	b := NewBinanceStream("", []string{"BTC", "matic"}, time.Minute, discardLogger())
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@ticker/polusdt@ticker", b.StreamURL())

	combined := `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1740830400000,"s":"BTCUSDT",` +
		`"c":"97000.10","C":1740830399999,"b":"96999.90","B":"1.5","a":"97000.30","A":"2.0"}}`
	require.NoError(t, b.handleMessage([]byte(combined)))

	q, err := b.Fetch(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "97000.1", q.Price.String())
	assert.Equal(t, "0.2", q.Confidence.String())
	assert.Equal(t, "binance", q.Source)

	raw := `{"e":"24hrTicker","s":"POLUSDT","c":"0.45","b":"0","a":"0"}`
	require.NoError(t, b.handleMessage([]byte(raw)))
	q, err = b.Fetch(context.Background(), "MATIC")
	require.NoError(t, err)
	assert.Equal(t, "0.45", q.Price.String())
	assert.Zero(t, q.Confidence)

	assert.Error(t, b.handleMessage([]byte(`{"s":"ETHUSDT","c":"3000"}`)))
	assert.Error(t, b.handleMessage([]byte(`{"s":"BTCUSDT","c":"0"}`)))

	_, err = b.Fetch(context.Background(), "ETH")
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)
}

func TestBinanceStaleQuote(t *testing.T) {
	b := NewBinanceStream("", []string{"BTC"}, time.Minute, discardLogger())
	b.quotes["BTC"] = domain.PriceQuote{Token: "BTC", Price: 1, Timestamp: time.Now().Add(-2 * time.Minute)}

	_, err := b.Fetch(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrPriceStale)
}

type scriptedSource struct {
	name  string
	err   error
	price domain.Price
	calls atomic.Int32
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Fetch(_ context.Context, token string) (domain.PriceQuote, error) {
	s.calls.Add(1)
	if s.err != nil {
		return domain.PriceQuote{}, s.err
	}
	return domain.PriceQuote{Token: token, Price: s.price, Source: s.name}, nil
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	first := &scriptedSource{name: "a", err: domain.ErrFeedNotFound}
	second := &scriptedSource{name: "b", price: 42}
	f := NewFallback(first, nil, second)
	assert.Equal(t, "a,b", f.Name())

	q, err := f.Fetch(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "b", q.Source)

	second.err = errors.New("boom")
	_, err = f.Fetch(ctx, "BTC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)
	assert.Contains(t, err.Error(), "boom")

	_, err = NewFallback().Fetch(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	src := &scriptedSource{name: "flaky", err: errors.New("connection reset")}
	g := NewGuarded(src, GuardOptions{RatePerSecond: 1000, Burst: 100, MinRequests: 3, OpenTimeout: time.Hour}, nil, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := g.Fetch(ctx, "BTC")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Fetch(ctx, "BTC")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), src.calls.Load(), "open breaker short-circuits")
}

func TestGuardedIgnoresNotFound(t *testing.T) {
	ctx := context.Background()
	src := &scriptedSource{name: "sparse", err: domain.ErrFeedNotFound}
	g := NewGuarded(src, GuardOptions{RatePerSecond: 1000, Burst: 100, MinRequests: 2}, nil, discardLogger())

	for i := 0; i < 5; i++ {
		_, err := g.Fetch(ctx, "DOGE")
		assert.ErrorIs(t, err, domain.ErrFeedNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}
