package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
	"github.com/alanyoungcy/tradekeeper/internal/metrics"
)

// GuardOptions tunes the breaker and limiter around a source.
type GuardOptions struct {
	RatePerSecond float64
	Burst         int
	FailureRatio  float64
	MinRequests   uint32
	OpenTimeout   time.Duration
}

// Guarded wraps a source with a circuit breaker and a request rate limit.
// Not-found answers do not count against the breaker.
type Guarded struct {
	source  domain.PriceSource
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

var _ domain.PriceSource = (*Guarded)(nil)

// NewGuarded builds the guard. m may be nil.
func NewGuarded(source domain.PriceSource, opts GuardOptions, m *metrics.Metrics, logger *slog.Logger) *Guarded {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = 0.5
	}
	if opts.MinRequests == 0 {
		opts.MinRequests = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	log := logger.With(slog.String("component", "feed_guard"), slog.String("source", source.Name()))

	settings := gobreaker.Settings{
		Name:        source.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < opts.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= opts.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrFeedNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("feed breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if m != nil {
				m.BreakerState.WithLabelValues(name).Set(breakerGauge(to))
			}
		},
	}

	return &Guarded{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
	}
}

func (g *Guarded) Name() string { return g.source.Name() }

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State { return g.breaker.State() }

func (g *Guarded) Fetch(ctx context.Context, token string) (domain.PriceQuote, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("feed/%s: wait: %w", g.source.Name(), err)
	}
	res, err := g.breaker.Execute(func() (any, error) {
		return g.source.Fetch(ctx, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.PriceQuote{}, fmt.Errorf("feed/%s: %s: %w", g.source.Name(), token, err)
		}
		return domain.PriceQuote{}, err
	}
	return res.(domain.PriceQuote), nil
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
