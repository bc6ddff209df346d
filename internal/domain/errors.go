package domain

import "errors"

var (
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrInvalidAmount      = errors.New("invalid amount")
	// ErrNotFound covers records that are absent or no longer in the state
	// the caller expected (e.g. an order that is not PENDING).
	ErrNotFound         = errors.New("record not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrOrderExpired     = errors.New("order expired")
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrPriceStale       = errors.New("price stale")
	ErrFeedNotFound     = errors.New("feed not found")

	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrWSDisconnect = errors.New("websocket disconnected")
)
