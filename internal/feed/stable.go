// Package feed implements the upstream price sources polled by the keeper.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// Stable prices the configured stablecoins at exactly 1.0 without any
// network call. Other tokens return domain.ErrFeedNotFound so a Fallback
// moves on to the next source.
type Stable struct {
	tokens map[string]struct{}
}

var _ domain.PriceSource = (*Stable)(nil)

// NewStable creates a Stable source for tokens.
func NewStable(tokens []string) *Stable {
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[domain.NormalizeToken(t)] = struct{}{}
	}
	return &Stable{tokens: m}
}

func (s *Stable) Name() string { return "stable" }

func (s *Stable) Fetch(_ context.Context, token string) (domain.PriceQuote, error) {
	tok := domain.NormalizeToken(token)
	if _, ok := s.tokens[tok]; !ok {
		return domain.PriceQuote{}, fmt.Errorf("feed/stable: %s: %w", tok, domain.ErrFeedNotFound)
	}
	return domain.PriceQuote{
		Token:     tok,
		Price:     domain.Price(domain.PriceScale),
		Timestamp: time.Now().UTC(),
		Source:    s.Name(),
	}, nil
}
