package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// DefaultBinanceURL is the combined-stream endpoint.
const DefaultBinanceURL = "wss://stream.binance.com:9443/stream"

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// binanceSymbols maps tokens whose Binance pair is not simply
// lower(token)+"usdt".
var binanceSymbols = map[string]string{
	"MATIC": "polusdt",
}

// BinanceSymbol returns the USDT ticker symbol for token.
func BinanceSymbol(token string) string {
	tok := domain.NormalizeToken(token)
	if s, ok := binanceSymbols[tok]; ok {
		return s
	}
	return strings.ToLower(tok) + "usdt"
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerFields decodes a ticker by exact key. Binance sends keys that
// differ only in case ("c" price, "C" close time), which encoding/json
// would fold together on a struct.
type tickerFields map[string]json.RawMessage

func (f tickerFields) str(key string) string {
	var s string
	if raw, ok := f[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func (f tickerFields) dec(key string) decimal.Decimal {
	d, err := decimal.NewFromString(f.str(key))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// BinanceStream keeps the latest 24h-ticker quote per token from the
// Binance combined stream. Fetch serves from memory and never blocks on the
// network.
type BinanceStream struct {
	url    string
	tokens map[string]string // binance symbol -> token
	maxAge time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	quotes map[string]domain.PriceQuote
}

var _ domain.PriceSource = (*BinanceStream)(nil)

// NewBinanceStream subscribes to tickers for tokens. Quotes older than
// maxAge are not served.
func NewBinanceStream(baseURL string, tokens []string, maxAge time.Duration, logger *slog.Logger) *BinanceStream {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	m := make(map[string]string, len(tokens))
	for _, t := range tokens {
		m[BinanceSymbol(t)] = domain.NormalizeToken(t)
	}
	return &BinanceStream{
		url:    baseURL,
		tokens: m,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "binance_stream")),
		quotes: make(map[string]domain.PriceQuote),
	}
}

func (b *BinanceStream) Name() string { return "binance" }

func (b *BinanceStream) Fetch(_ context.Context, token string) (domain.PriceQuote, error) {
	tok := domain.NormalizeToken(token)
	b.mu.RLock()
	q, ok := b.quotes[tok]
	b.mu.RUnlock()
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("feed/binance: %s: %w", tok, domain.ErrFeedNotFound)
	}
	if time.Since(q.Timestamp) > b.maxAge {
		return domain.PriceQuote{}, fmt.Errorf("feed/binance: %s last tick %s: %w", tok, q.Timestamp.Format(time.RFC3339), domain.ErrPriceStale)
	}
	return q, nil
}

// StreamURL returns the combined-stream URL for the configured tokens.
func (b *BinanceStream) StreamURL() string {
	streams := make([]string, 0, len(b.tokens))
	for sym := range b.tokens {
		streams = append(streams, sym+"@ticker")
	}
	sort.Strings(streams)
	return b.url + "?streams=" + strings.Join(streams, "/")
}

// Run keeps a connection open until ctx is cancelled, reconnecting with
// exponential backoff from 1s up to 60s.
func (b *BinanceStream) Run(ctx context.Context) error {
	if len(b.tokens) == 0 {
		b.logger.InfoContext(ctx, "no tokens to stream, exiting")
		return nil
	}
	delay := time.Second
	for {
		connected, err := b.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = time.Second
		}
		b.logger.WarnContext(ctx, "binance stream disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// runConnection reports whether the dial succeeded along with the error
// that ended the session.
func (b *BinanceStream) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.StreamURL(), nil)
	if err != nil {
		return false, fmt.Errorf("feed/binance: connect: %w", err)
	}
	defer conn.Close()
	b.logger.InfoContext(ctx, "binance stream connected", slog.Int("tokens", len(b.tokens)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed/binance: %w: %v", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := b.handleMessage(msg); err != nil {
			b.logger.DebugContext(ctx, "skip binance message", slog.String("error", err.Error()))
		}
	}
}

// handleMessage records a ticker from either the combined or the raw
// stream format.
func (b *BinanceStream) handleMessage(msg []byte) error {
	var env combinedMessage
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	data := []byte(env.Data)
	if len(data) == 0 {
		data = msg
	}

	var t tickerFields
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("decode ticker: %w", err)
	}
	symbol := t.str("s")
	token, ok := b.tokens[strings.ToLower(symbol)]
	if !ok {
		return fmt.Errorf("unsubscribed symbol %q", symbol)
	}
	last, bid, ask := t.dec("c"), t.dec("b"), t.dec("a")
	if !last.IsPositive() {
		return fmt.Errorf("%s: non-positive price %s", symbol, last)
	}

	var conf decimal.Decimal
	if bid.IsPositive() && ask.GreaterThan(bid) {
		conf = ask.Sub(bid).Div(decimal.NewFromInt(2))
	}
	price, err := domain.PriceFromDecimal(last)
	if err != nil {
		return fmt.Errorf("%s: %w", symbol, err)
	}
	confidence, err := domain.PriceFromDecimal(conf)
	if err != nil {
		return fmt.Errorf("%s confidence: %w", symbol, err)
	}
	q := domain.PriceQuote{
		Token:      token,
		Price:      price,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
		Source:     b.Name(),
	}
	b.mu.Lock()
	b.quotes[token] = q
	b.mu.Unlock()
	return nil
}
