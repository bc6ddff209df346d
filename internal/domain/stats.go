package domain

import "time"

// UserStats are per-owner counters. They only grow.
type UserStats struct {
	Owner      Address   `json:"owner"`
	TradeCount uint64    `json:"trades"`
	Volume     uint64    `json:"volume"`
	OrderCount uint64    `json:"orders"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProtocolStats are ledger-wide counters. They only grow.
type ProtocolStats struct {
	TotalTrades uint64 `json:"total_trades"`
	TotalVolume uint64 `json:"total_volume"`
	TotalOrders uint64 `json:"total_orders"`
}
