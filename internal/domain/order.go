package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies an owner, keeper or executor.
type Address = common.Address

// ConditionType is the comparison applied between an observed price and a
// stored target.
type ConditionType string

const (
	ConditionAbove     ConditionType = "ABOVE"
	ConditionBelow     ConditionType = "BELOW"
	ConditionEq        ConditionType = "EQ"
	ConditionImmediate ConditionType = "IMMEDIATE"
)

// ParseConditionType accepts the canonical names as well as the operator
// spellings used by the chat front end (">", "<=", "==", ...).
func ParseConditionType(s string) (ConditionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "above", ">", ">=":
		return ConditionAbove, nil
	case "below", "<", "<=":
		return ConditionBelow, nil
	case "eq", "==", "=":
		return ConditionEq, nil
	case "immediate":
		return ConditionImmediate, nil
	}
	return "", fmt.Errorf("%w: unknown condition type %q", ErrInvalidCondition, s)
}

// UnmarshalText lets JSON and TOML decoding go through ParseConditionType.
func (c *ConditionType) UnmarshalText(text []byte) error {
	ct, err := ParseConditionType(string(text))
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// OrderStatus tracks the conditional order lifecycle. PENDING moves to
// exactly one terminal state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusExecuted  OrderStatus = "EXECUTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// Terminal reports whether s can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusExecuted || s == OrderStatusCancelled || s == OrderStatusExpired
}

// ConditionalOrder swaps AmountIn of TokenIn into TokenOut once the watched
// token's price satisfies Condition against TargetPrice.
type ConditionalOrder struct {
	ID             uint64        `json:"order_id"`
	Owner          Address       `json:"owner"`
	TokenIn        string        `json:"token_in"`
	TokenOut       string        `json:"token_out"`
	AmountIn       uint64        `json:"amount_in"`
	MinAmountOut   uint64        `json:"min_amount_out"`
	Condition      ConditionType `json:"condition_type"`
	TargetPrice    Price         `json:"target_price"`
	Status         OrderStatus   `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	ExecutedAt     *time.Time    `json:"executed_at,omitempty"`
	ExecutionPrice Price         `json:"execution_price,omitempty"`
	AmountOut      uint64        `json:"amount_out,omitempty"`
	Executor       *Address      `json:"executor,omitempty"`
	// WatchToken is the token whose price drives the condition. It is
	// TokenOut when the order spends a stablecoin and TokenIn otherwise,
	// resolved once at creation.
	WatchToken string `json:"watch_token"`
}

// IsBuy reports whether the order spends the quote leg to acquire WatchToken.
func (o ConditionalOrder) IsBuy() bool {
	return o.WatchToken == o.TokenOut
}

// Expired reports whether the order can no longer execute at now.
func (o ConditionalOrder) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// CreateOrderRequest carries the arguments of create_order.
type CreateOrderRequest struct {
	Owner        Address
	TokenIn      string
	TokenOut     string
	AmountIn     uint64
	MinAmountOut uint64
	Condition    ConditionType
	TargetPrice  Price
	Duration     time.Duration
}

// OrderFilter narrows ledger listings.
type OrderFilter struct {
	Owner  *Address
	Status OrderStatus
	Limit  int
	Offset int
}
