package service

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// StatsAggregator keeps per-owner and protocol-wide counters. The ledger is
// its only writer; counters never decrease.
type StatsAggregator struct {
	mu       sync.RWMutex
	users    map[domain.Address]domain.UserStats
	protocol domain.ProtocolStats
}

// NewStatsAggregator returns an empty aggregator.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{users: make(map[domain.Address]domain.UserStats)}
}

// UserStats returns owner's counters; unknown owners get zeros.
func (s *StatsAggregator) UserStats(owner domain.Address) domain.UserStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if us, ok := s.users[owner]; ok {
		return us
	}
	return domain.UserStats{Owner: owner}
}

// ProtocolStats returns the ledger-wide counters.
func (s *StatsAggregator) ProtocolStats() domain.ProtocolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

func (s *StatsAggregator) recordOrder(owner domain.Address, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.userLocked(owner, at)
	us.OrderCount++
	s.users[owner] = us
	s.protocol.TotalOrders++
}

func (s *StatsAggregator) recordTrade(owner domain.Address, volume uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.userLocked(owner, at)
	us.TradeCount++
	us.Volume += volume
	s.users[owner] = us
	s.protocol.TotalTrades++
	s.protocol.TotalVolume += volume
}

func (s *StatsAggregator) userLocked(owner domain.Address, at time.Time) domain.UserStats {
	us, ok := s.users[owner]
	if !ok {
		us = domain.UserStats{Owner: owner, CreatedAt: at}
	}
	return us
}

func (s *StatsAggregator) reset() {
	s.mu.Lock()
	s.users = make(map[domain.Address]domain.UserStats)
	s.protocol = domain.ProtocolStats{}
	s.mu.Unlock()
}

// Restore replaces all counters with persisted values.
func (s *StatsAggregator) Restore(users []domain.UserStats, protocol domain.ProtocolStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[domain.Address]domain.UserStats, len(users))
	for _, us := range users {
		s.users[us.Owner] = us
	}
	s.protocol = protocol
}
