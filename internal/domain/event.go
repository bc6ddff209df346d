package domain

import "time"

// EventType names a ledger or keeper event.
type EventType string

const (
	EventOrderCreated    EventType = "order_created"
	EventOrderCancelled  EventType = "order_cancelled"
	EventOrderExecuted   EventType = "order_executed"
	EventOrderExpired    EventType = "order_expired"
	EventAlertCreated    EventType = "alert_created"
	EventAlertCancelled  EventType = "alert_cancelled"
	EventAlertTriggered  EventType = "alert_triggered"
	EventAlertDeleted    EventType = "alert_deleted"
	EventPricesUpdated   EventType = "prices_updated"
	EventKeeperCycle     EventType = "keeper_cycle"
	EventKeeperAttention EventType = "keeper_attention"
)

// Signal bus channels.
const (
	ChannelOrders = "orders"
	ChannelAlerts = "alerts"
	ChannelPrices = "prices"
	ChannelKeeper = "keeper"

	// StreamLedgerEvents is the durable stream every event is appended to.
	StreamLedgerEvents = "ledger_events"
)

// LedgerEvent is published after a state change has been committed.
type LedgerEvent struct {
	Type      EventType `json:"type"`
	OrderID   uint64    `json:"order_id,omitempty"`
	AlertID   uint64    `json:"alert_id,omitempty"`
	Owner     *Address  `json:"owner,omitempty"`
	Token     string    `json:"token,omitempty"`
	Price     Price     `json:"price,omitempty"`
	AmountIn  uint64    `json:"amount_in,omitempty"`
	AmountOut uint64    `json:"amount_out,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Channel returns the bus channel the event belongs on.
func (e LedgerEvent) Channel() string {
	switch e.Type {
	case EventOrderCreated, EventOrderCancelled, EventOrderExecuted, EventOrderExpired:
		return ChannelOrders
	case EventAlertCreated, EventAlertCancelled, EventAlertTriggered, EventAlertDeleted:
		return ChannelAlerts
	case EventPricesUpdated:
		return ChannelPrices
	default:
		return ChannelKeeper
	}
}
