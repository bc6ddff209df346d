package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceDecimals is the number of fractional digits carried by Price.
const PriceDecimals = 8

// PriceScale is 10^PriceDecimals.
const PriceScale int64 = 100_000_000

// Price is a fixed-point quote in the stable unit with 8 decimals
// (650_000_000 == 6.50).
type Price int64

// ParsePrice parses a decimal string such as "6.5" or "100000". Digits past
// the 8th decimal are truncated.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return PriceFromDecimal(d)
}

// PriceFromDecimal converts d to fixed point, truncating extra precision.
// Values that do not fit in 8-decimal int64 fail with ErrInvalidPrice.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	scaled := d.Shift(PriceDecimals).Truncate(0).BigInt()
	if !scaled.IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidPrice, d)
	}
	return Price(scaled.Int64()), nil
}

// Decimal returns p as an exact decimal.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceDecimals)
}

// Float64 returns an approximate float for display and metrics.
func (p Price) Float64() float64 {
	f, _ := p.Decimal().Float64()
	return f
}

// String renders p with trailing zeros trimmed ("6.5").
func (p Price) String() string {
	return p.Decimal().String()
}

// MarshalJSON renders p as a JSON string so no precision is lost in
// JavaScript clients.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare JSON numbers.
func (p *Price) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, string(data))
	}
	v, err := PriceFromDecimal(d)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// NormalizeToken canonicalises a token symbol ("btc " -> "BTC").
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// PriceFeedEntry is the cached quote for one token.
type PriceFeedEntry struct {
	Token      string    `json:"token"`
	Price      Price     `json:"price"`
	Confidence Price     `json:"confidence"`
	UpdatedAt  time.Time `json:"last_update"`
}

// Exists reports whether the entry holds a quote.
func (e PriceFeedEntry) Exists() bool {
	return !e.UpdatedAt.IsZero()
}

// PriceQuote is a single observation delivered by an upstream feed.
type PriceQuote struct {
	Token      string
	Price      Price
	Confidence Price
	Timestamp  time.Time
	Source     string
}
