package domain

import (
	"context"
	"time"
)

// PriceStore holds the latest feed entry per token. PutBatch is atomic and
// never moves an entry's UpdatedAt backwards.
type PriceStore interface {
	Get(ctx context.Context, token string) (PriceFeedEntry, error)
	PutBatch(ctx context.Context, entries []PriceFeedEntry) error
	List(ctx context.Context) ([]PriceFeedEntry, error)
}

// PriceSource fetches a quote for one token from an upstream feed.
type PriceSource interface {
	Name() string
	Fetch(ctx context.Context, token string) (PriceQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
