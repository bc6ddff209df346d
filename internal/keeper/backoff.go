package keeper

import (
	"sync"
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the exponential delay for the given retry count
// starting at 1s and capped at 60s.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}
	// 2^30 seconds is far past maxDelay; avoids shifting into overflow.
	if retryCount > 30 {
		return maxDelay
	}
	backoff := baseDelay * time.Duration(1<<retryCount)
	if backoff > maxDelay {
		return maxDelay
	}
	return backoff
}

type backoffState struct {
	failures int
	until    time.Time
}

// tokenBackoff tracks per-token fetch failures so a failing feed for one
// token never delays the others.
type tokenBackoff struct {
	mu     sync.Mutex
	tokens map[string]backoffState
}

func newTokenBackoff() *tokenBackoff {
	return &tokenBackoff{tokens: make(map[string]backoffState)}
}

// ready reports whether token may be fetched at now.
func (b *tokenBackoff) ready(token string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.tokens[token]
	return !ok || !now.Before(st.until)
}

// fail records a failure and returns the delay before the next attempt.
func (b *tokenBackoff) fail(token string, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.tokens[token]
	delay := CalculateBackoff(st.failures)
	st.failures++
	st.until = now.Add(delay)
	b.tokens[token] = st
	return delay
}

func (b *tokenBackoff) succeed(token string) {
	b.mu.Lock()
	delete(b.tokens, token)
	b.mu.Unlock()
}
