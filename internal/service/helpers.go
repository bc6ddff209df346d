package service

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// withinBps reports whether |observed - ref| <= ref * bps / 10000. A
// non-positive bps disables the check.
func withinBps(observed, ref domain.Price, bps int64) bool {
	if bps <= 0 {
		return true
	}
	diff := decimal.NewFromInt(int64(observed - ref)).Abs().Mul(decimal.NewFromInt(10_000))
	limit := decimal.NewFromInt(int64(ref)).Mul(decimal.NewFromInt(bps))
	return diff.LessThanOrEqual(limit)
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
