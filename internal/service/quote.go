package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// DefaultStablecoins are the quote-leg tokens priced at 1.0.
var DefaultStablecoins = []string{"USDC", "USDT"}

// Quoter resolves which token an order watches and what it receives when
// it fills at a given price.
type Quoter interface {
	WatchToken(tokenIn, tokenOut string) string
	AmountOut(o domain.ConditionalOrder, price domain.Price) (uint64, error)
}

// PriceQuoter is the fixed-rate Quoter: buys receive in/price units of the
// watched token, sells receive in*price units of the quote token. Both
// round down.
type PriceQuoter struct {
	stables map[string]struct{}
}

var _ Quoter = (*PriceQuoter)(nil)

// NewPriceQuoter builds a quoter treating stables as the quote leg. An empty
// list falls back to DefaultStablecoins.
func NewPriceQuoter(stables []string) *PriceQuoter {
	if len(stables) == 0 {
		stables = DefaultStablecoins
	}
	m := make(map[string]struct{}, len(stables))
	for _, s := range stables {
		m[domain.NormalizeToken(s)] = struct{}{}
	}
	return &PriceQuoter{stables: m}
}

// IsStable reports whether token is a quote-leg stablecoin.
func (q *PriceQuoter) IsStable(token string) bool {
	_, ok := q.stables[domain.NormalizeToken(token)]
	return ok
}

// WatchToken returns tokenOut when tokenIn is a stablecoin, tokenIn otherwise.
func (q *PriceQuoter) WatchToken(tokenIn, tokenOut string) string {
	if q.IsStable(tokenIn) {
		return domain.NormalizeToken(tokenOut)
	}
	return domain.NormalizeToken(tokenIn)
}

func (q *PriceQuoter) AmountOut(o domain.ConditionalOrder, price domain.Price) (uint64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("quote order %d at %s: %w", o.ID, price, domain.ErrInvalidPrice)
	}
	in := decimal.NewFromUint64(o.AmountIn)
	var out decimal.Decimal
	if o.IsBuy() {
		out, _ = in.Shift(domain.PriceDecimals).QuoRem(decimal.NewFromInt(int64(price)), 0)
	} else {
		out = in.Mul(price.Decimal()).Floor()
	}
	if out.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("quote order %d: amount out overflows: %w", o.ID, domain.ErrInvalidAmount)
	}
	return out.BigInt().Uint64(), nil
}
