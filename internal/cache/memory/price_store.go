// Package memory implements the domain cache interfaces in process memory.
// It backs single-process deployments and tests when Redis is disabled.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// PriceStore implements domain.PriceStore with a mutex-guarded map.
type PriceStore struct {
	mu      sync.RWMutex
	entries map[string]domain.PriceFeedEntry
}

// NewPriceStore returns an empty PriceStore.
func NewPriceStore() *PriceStore {
	return &PriceStore{entries: make(map[string]domain.PriceFeedEntry)}
}

// Get returns domain.ErrNotFound when token has no entry.
func (s *PriceStore) Get(_ context.Context, token string) (domain.PriceFeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[token]
	if !ok {
		return domain.PriceFeedEntry{}, domain.ErrNotFound
	}
	return e, nil
}

// PutBatch writes all entries under one lock. An entry older than the one
// already stored keeps the stored timestamp.
func (s *PriceStore) PutBatch(_ context.Context, entries []domain.PriceFeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if cur, ok := s.entries[e.Token]; ok && e.UpdatedAt.Before(cur.UpdatedAt) {
			e.UpdatedAt = cur.UpdatedAt
		}
		s.entries[e.Token] = e
	}
	return nil
}

// List returns all entries sorted by token.
func (s *PriceStore) List(_ context.Context) ([]domain.PriceFeedEntry, error) {
	s.mu.RLock()
	out := make([]domain.PriceFeedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

var _ domain.PriceStore = (*PriceStore)(nil)
