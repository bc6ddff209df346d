package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// DefaultDecibelURL is the public Decibel REST root.
const DefaultDecibelURL = "https://api.netna.aptoslabs.com/decibel"

const marketsTTL = 5 * time.Minute

type decibelMarket struct {
	MarketAddr string `json:"market_addr"`
	MarketName string `json:"market_name"`
}

type decibelPrice struct {
	Market            string          `json:"market"`
	MarkPx            decimal.Decimal `json:"mark_px"`
	OraclePx          decimal.Decimal `json:"oracle_px"`
	TransactionUnixMs int64           `json:"transaction_unix_ms"`
}

// DecibelSource fetches perp oracle prices from the Decibel REST API. The
// symbol to market address table is cached for five minutes.
type DecibelSource struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	markets   map[string]string
	fetchedAt time.Time
}

var _ domain.PriceSource = (*DecibelSource)(nil)

// NewDecibelSource creates a client for baseURL (DefaultDecibelURL when
// empty).
func NewDecibelSource(baseURL string, timeout time.Duration) *DecibelSource {
	if baseURL == "" {
		baseURL = DefaultDecibelURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DecibelSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (d *DecibelSource) Name() string { return "decibel" }

// Fetch returns the oracle price for token, falling back to the mark price
// when no oracle price is published. Confidence is the mark/oracle spread.
func (d *DecibelSource) Fetch(ctx context.Context, token string) (domain.PriceQuote, error) {
	tok := domain.NormalizeToken(token)
	addr, err := d.marketAddr(ctx, tok)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("feed/decibel: %s: %w", tok, err)
	}

	body, err := doGet(ctx, d.httpClient, d.baseURL+"/api/v1/prices?market="+url.QueryEscape(addr))
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("feed/decibel: prices %s: %w", tok, err)
	}
	var prices []decibelPrice
	if err := json.Unmarshal(body, &prices); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("feed/decibel: decode prices %s: %w", tok, err)
	}
	if len(prices) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("feed/decibel: no price for %s: %w", tok, domain.ErrFeedNotFound)
	}

	p := prices[0]
	px := p.OraclePx
	if !px.IsPositive() {
		px = p.MarkPx
	}
	if !px.IsPositive() {
		return domain.PriceQuote{}, fmt.Errorf("feed/decibel: %s price %s: %w", tok, px, domain.ErrInvalidPrice)
	}
	var conf decimal.Decimal
	if p.MarkPx.IsPositive() && p.OraclePx.IsPositive() {
		conf = p.MarkPx.Sub(p.OraclePx).Abs()
	}
	ts := time.Now().UTC()
	if p.TransactionUnixMs > 0 {
		ts = time.UnixMilli(p.TransactionUnixMs).UTC()
	}
	price, err := domain.PriceFromDecimal(px)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("feed/decibel: %s: %w", tok, err)
	}
	confidence, err := domain.PriceFromDecimal(conf)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("feed/decibel: %s confidence: %w", tok, err)
	}
	return domain.PriceQuote{
		Token:      tok,
		Price:      price,
		Confidence: confidence,
		Timestamp:  ts,
		Source:     d.Name(),
	}, nil
}

// marketAddr resolves a symbol such as "BTC" to its market address,
// refreshing the cached table when it is older than marketsTTL.
func (d *DecibelSource) marketAddr(ctx context.Context, symbol string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.markets == nil || time.Since(d.fetchedAt) > marketsTTL {
		markets, err := d.loadMarkets(ctx)
		if err != nil {
			// Serve the stale table if there is one.
			if d.markets == nil {
				return "", err
			}
		} else {
			d.markets = markets
			d.fetchedAt = time.Now()
		}
	}
	addr, ok := d.markets[symbol]
	if !ok {
		return "", domain.ErrFeedNotFound
	}
	return addr, nil
}

func (d *DecibelSource) loadMarkets(ctx context.Context) (map[string]string, error) {
	body, err := doGet(ctx, d.httpClient, d.baseURL+"/api/v1/markets")
	if err != nil {
		return nil, fmt.Errorf("markets: %w", err)
	}
	var list []decibelMarket
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	out := make(map[string]string, len(list))
	for _, m := range list {
		symbol, _, _ := strings.Cut(m.MarketName, "-")
		if symbol == "" || m.MarketAddr == "" {
			continue
		}
		out[domain.NormalizeToken(symbol)] = m.MarketAddr
	}
	return out, nil
}
