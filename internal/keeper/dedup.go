package keeper

import (
	"sync"
	"time"
)

// Dedup suppresses repeats of the same key within a TTL. The keeper uses it
// so a persistent operator-attention error notifies once rather than every
// cycle.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within the TTL before now.
// Unseen or expired keys are recorded.
func (d *Dedup) IsDuplicate(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup drops keys older than the TTL.
func (d *Dedup) Cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
