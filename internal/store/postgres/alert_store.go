package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// AlertStore implements domain.AlertStore.
type AlertStore struct {
	pool *pgxpool.Pool
}

var _ domain.AlertStore = (*AlertStore)(nil)

func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, owner, token, condition_type, target_price, message,
	is_active, created_at, triggered_at, triggered_price`

// NextID reserves the next alert id.
func (s *AlertStore) NextID(ctx context.Context) (uint64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('price_alerts_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next alert id: %w", err)
	}
	return uint64(id), nil
}

func (s *AlertStore) Create(ctx context.Context, a domain.PriceAlert) error {
	const query = `
		INSERT INTO price_alerts (
			id, owner, token, condition_type, target_price, message, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
	_, err := s.pool.Exec(ctx, query,
		int64(a.ID), addr(a.Owner), a.Token, string(a.Condition), int64(a.TargetPrice),
		a.Message, a.IsActive, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create alert %d: %w", a.ID, err)
	}
	return nil
}

// Deactivate records a trigger (TriggeredAt set) or a cancel.
func (s *AlertStore) Deactivate(ctx context.Context, a domain.PriceAlert) error {
	const query = `
		UPDATE price_alerts SET is_active = FALSE, triggered_at = $2, triggered_price = $3, updated_at = NOW()
		WHERE id = $1 AND is_active`
	tag, err := s.pool.Exec(ctx, query, int64(a.ID), a.TriggeredAt, int64(a.TriggeredPrice))
	if err != nil {
		return fmt.Errorf("postgres: deactivate alert %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: deactivate alert %d: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *AlertStore) Delete(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_alerts WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: delete alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete alert %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *AlertStore) GetByID(ctx context.Context, id uint64) (domain.PriceAlert, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+alertSelectCols+` FROM price_alerts WHERE id = $1`, int64(id))
	if err != nil {
		return domain.PriceAlert{}, fmt.Errorf("postgres: get alert %d: %w", id, err)
	}
	alerts, err := collectAlerts(rows)
	if err != nil {
		return domain.PriceAlert{}, err
	}
	if len(alerts) == 0 {
		return domain.PriceAlert{}, domain.ErrNotFound
	}
	return alerts[0], nil
}

// ListActive returns every active alert in id order.
func (s *AlertStore) ListActive(ctx context.Context) ([]domain.PriceAlert, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+alertSelectCols+` FROM price_alerts WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active alerts: %w", err)
	}
	return collectAlerts(rows)
}

func (s *AlertStore) LoadAll(ctx context.Context) ([]domain.PriceAlert, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+alertSelectCols+` FROM price_alerts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load alerts: %w", err)
	}
	return collectAlerts(rows)
}

func (s *AlertStore) ListInactiveBefore(ctx context.Context, before time.Time) ([]domain.PriceAlert, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+alertSelectCols+` FROM price_alerts
		WHERE NOT is_active AND updated_at < $1 ORDER BY id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list inactive alerts: %w", err)
	}
	return collectAlerts(rows)
}

func collectAlerts(rows pgx.Rows) ([]domain.PriceAlert, error) {
	defer rows.Close()
	var out []domain.PriceAlert
	for rows.Next() {
		var (
			a                  domain.PriceAlert
			id, target, trigPx int64
			owner, cond        string
		)
		if err := rows.Scan(&id, &owner, &a.Token, &cond, &target, &a.Message,
			&a.IsActive, &a.CreatedAt, &a.TriggeredAt, &trigPx); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		o, err := parseAddr(owner)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert %d: %w", id, err)
		}
		a.ID = uint64(id)
		a.Owner = o
		a.Condition = domain.ConditionType(cond)
		a.TargetPrice = domain.Price(target)
		a.TriggeredPrice = domain.Price(trigPx)
		a.CreatedAt = a.CreatedAt.UTC()
		if a.TriggeredAt != nil {
			t := a.TriggeredAt.UTC()
			a.TriggeredAt = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert rows: %w", err)
	}
	return out, nil
}
