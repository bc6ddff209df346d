package keeper

import (
	"errors"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// Class groups submission errors by how the keeper reacts to them.
type Class string

const (
	// ClassBenign: a racer already resolved the record, or it is no longer
	// eligible. Logged and dropped.
	ClassBenign Class = "benign"
	// ClassTransient: feed, network or storage trouble. Retried naturally on
	// the next cycle.
	ClassTransient Class = "transient"
	// ClassAttention: the keeper is misconfigured or sent a malformed call.
	// Surfaced to the operator, never retried blindly.
	ClassAttention Class = "attention"
)

// Classify maps a ledger error to its Class.
func Classify(err error) Class {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidCondition),
		errors.Is(err, domain.ErrOrderExpired),
		errors.Is(err, domain.ErrSlippageExceeded):
		return ClassBenign
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrNotInitialized):
		return ClassAttention
	default:
		return ClassTransient
	}
}
