package domain

import "time"

// MaxAlertMessageLen bounds the free-text note delivered with an alert.
const MaxAlertMessageLen = 280

// PriceAlert notifies its owner once Token's price satisfies Condition.
// Alerts carry no funds. Once IsActive is false it never flips back.
type PriceAlert struct {
	ID             uint64        `json:"alert_id"`
	Owner          Address       `json:"owner"`
	Token          string        `json:"token"`
	Condition      ConditionType `json:"condition_type"`
	TargetPrice    Price         `json:"target_price"`
	Message        string        `json:"message,omitempty"`
	IsActive       bool          `json:"is_active"`
	CreatedAt      time.Time     `json:"created_at"`
	TriggeredAt    *time.Time    `json:"triggered_at,omitempty"`
	TriggeredPrice Price         `json:"triggered_price,omitempty"`
}

// CreateAlertRequest carries the arguments of create_alert.
type CreateAlertRequest struct {
	Owner       Address
	Token       string
	Condition   ConditionType
	TargetPrice Price
	Message     string
}

// AlertFilter narrows registry listings.
type AlertFilter struct {
	Owner      *Address
	ActiveOnly bool
	Limit      int
	Offset     int
}
