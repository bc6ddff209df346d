// Package condition evaluates order and alert trigger conditions.
package condition

import "github.com/alanyoungcy/tradekeeper/internal/domain"

// Met reports whether observed satisfies ct against target. Both bounds are
// inclusive: BELOW holds at observed == target, as does ABOVE. Unknown
// condition types are never met.
func Met(ct domain.ConditionType, target, observed domain.Price) bool {
	switch ct {
	case domain.ConditionBelow:
		return observed <= target
	case domain.ConditionAbove:
		return observed >= target
	case domain.ConditionEq:
		return observed == target
	case domain.ConditionImmediate:
		return true
	default:
		return false
	}
}

// ValidForOrder reports whether ct may be stored on a conditional order.
func ValidForOrder(ct domain.ConditionType) bool {
	return ct == domain.ConditionAbove || ct == domain.ConditionBelow
}

// ValidForAlert reports whether ct may be stored on a price alert.
func ValidForAlert(ct domain.ConditionType) bool {
	return ct == domain.ConditionAbove || ct == domain.ConditionBelow || ct == domain.ConditionEq
}
