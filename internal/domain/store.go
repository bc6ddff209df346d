package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists conditional orders. Create and MarkExecuted also
// maintain the stats tables in the same transaction.
type OrderStore interface {
	NextID(ctx context.Context) (uint64, error)
	Create(ctx context.Context, o ConditionalOrder) error
	UpdateStatus(ctx context.Context, o ConditionalOrder) error
	MarkExecuted(ctx context.Context, o ConditionalOrder) error
	GetByID(ctx context.Context, id uint64) (ConditionalOrder, error)
	LoadAll(ctx context.Context) ([]ConditionalOrder, error)
	ListPending(ctx context.Context) ([]ConditionalOrder, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]ConditionalOrder, error)
}

// AlertStore persists price alerts.
type AlertStore interface {
	NextID(ctx context.Context) (uint64, error)
	Create(ctx context.Context, a PriceAlert) error
	Deactivate(ctx context.Context, a PriceAlert) error
	Delete(ctx context.Context, id uint64) error
	GetByID(ctx context.Context, id uint64) (PriceAlert, error)
	LoadAll(ctx context.Context) ([]PriceAlert, error)
	ListActive(ctx context.Context) ([]PriceAlert, error)
	ListInactiveBefore(ctx context.Context, before time.Time) ([]PriceAlert, error)
}

// StatsStore reads the persisted counters.
type StatsStore interface {
	GetUser(ctx context.Context, owner Address) (UserStats, error)
	ListUsers(ctx context.Context) ([]UserStats, error)
	GetProtocol(ctx context.Context) (ProtocolStats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
