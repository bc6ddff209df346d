package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// Fallback asks each source in order and returns the first quote. When
// every source fails the errors are joined, so errors.Is still matches
// domain.ErrFeedNotFound and friends.
type Fallback struct {
	sources []domain.PriceSource
}

var _ domain.PriceSource = (*Fallback)(nil)

// NewFallback chains sources. Nil sources are skipped.
func NewFallback(sources ...domain.PriceSource) *Fallback {
	f := &Fallback{}
	for _, s := range sources {
		if s != nil {
			f.sources = append(f.sources, s)
		}
	}
	return f
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.sources))
	for i, s := range f.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (f *Fallback) Fetch(ctx context.Context, token string) (domain.PriceQuote, error) {
	if len(f.sources) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("feed: no sources for %s: %w", token, domain.ErrFeedNotFound)
	}
	var errs []error
	for _, s := range f.sources {
		if err := ctx.Err(); err != nil {
			return domain.PriceQuote{}, err
		}
		q, err := s.Fetch(ctx, token)
		if err == nil {
			return q, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return domain.PriceQuote{}, errors.Join(errs...)
}
