package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// OrderStore implements domain.OrderStore. Create and MarkExecuted update
// user_stats and protocol_stats in the same transaction as the order row.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, owner, token_in, token_out, watch_token,
	amount_in, min_amount_out, condition_type, target_price, status,
	created_at, expires_at, executed_at, execution_price, amount_out, executor`

// NextID reserves the next order id.
func (s *OrderStore) NextID(ctx context.Context) (uint64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('conditional_orders_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next order id: %w", err)
	}
	return uint64(id), nil
}

func (s *OrderStore) Create(ctx context.Context, o domain.ConditionalOrder) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO conditional_orders (
				id, owner, token_in, token_out, watch_token,
				amount_in, min_amount_out, condition_type, target_price, status,
				created_at, expires_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $11)`
		if _, err := tx.Exec(ctx, insert,
			int64(o.ID), addr(o.Owner), o.TokenIn, o.TokenOut, o.WatchToken,
			numeric(o.AmountIn), numeric(o.MinAmountOut), string(o.Condition), int64(o.TargetPrice), string(o.Status),
			o.CreatedAt, o.ExpiresAt,
		); err != nil {
			return fmt.Errorf("postgres: create order %d: %w", o.ID, err)
		}

		const user = `
			INSERT INTO user_stats (owner, order_count, created_at) VALUES ($1, 1, $2)
			ON CONFLICT (owner) DO UPDATE SET order_count = user_stats.order_count + 1`
		if _, err := tx.Exec(ctx, user, addr(o.Owner), o.CreatedAt); err != nil {
			return fmt.Errorf("postgres: bump user stats %s: %w", o.Owner.Hex(), err)
		}
		if _, err := tx.Exec(ctx, `UPDATE protocol_stats SET total_orders = total_orders + 1 WHERE id = 1`); err != nil {
			return fmt.Errorf("postgres: bump protocol orders: %w", err)
		}
		return nil
	})
}

// UpdateStatus records a cancel or expiry. Only PENDING rows move.
func (s *OrderStore) UpdateStatus(ctx context.Context, o domain.ConditionalOrder) error {
	const query = `
		UPDATE conditional_orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PENDING'`
	tag, err := s.pool.Exec(ctx, query, string(o.Status), int64(o.ID))
	if err != nil {
		return fmt.Errorf("postgres: update order status %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order status %d: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *OrderStore) MarkExecuted(ctx context.Context, o domain.ConditionalOrder) error {
	if o.Executor == nil || o.ExecutedAt == nil {
		return fmt.Errorf("postgres: mark executed %d: executor and executed_at required", o.ID)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const update = `
			UPDATE conditional_orders SET
				status = 'EXECUTED', executed_at = $2, execution_price = $3,
				amount_out = $4, executor = $5, updated_at = $2
			WHERE id = $1 AND status = 'PENDING'`
		tag, err := tx.Exec(ctx, update,
			int64(o.ID), *o.ExecutedAt, int64(o.ExecutionPrice), numeric(o.AmountOut), addr(*o.Executor))
		if err != nil {
			return fmt.Errorf("postgres: mark executed %d: %w", o.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: mark executed %d: %w", o.ID, domain.ErrNotFound)
		}

		const user = `
			INSERT INTO user_stats (owner, trade_count, volume, created_at) VALUES ($1, 1, $2, $3)
			ON CONFLICT (owner) DO UPDATE SET
				trade_count = user_stats.trade_count + 1,
				volume = user_stats.volume + EXCLUDED.volume`
		if _, err := tx.Exec(ctx, user, addr(o.Owner), numeric(o.AmountIn), *o.ExecutedAt); err != nil {
			return fmt.Errorf("postgres: bump user trades %s: %w", o.Owner.Hex(), err)
		}
		const protocol = `
			UPDATE protocol_stats SET total_trades = total_trades + 1, total_volume = total_volume + $1
			WHERE id = 1`
		if _, err := tx.Exec(ctx, protocol, numeric(o.AmountIn)); err != nil {
			return fmt.Errorf("postgres: bump protocol trades: %w", err)
		}
		return nil
	})
}

func (s *OrderStore) GetByID(ctx context.Context, id uint64) (domain.ConditionalOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM conditional_orders WHERE id = $1`, int64(id))
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConditionalOrder{}, domain.ErrNotFound
		}
		return domain.ConditionalOrder{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// LoadAll returns every order in id order.
func (s *OrderStore) LoadAll(ctx context.Context) ([]domain.ConditionalOrder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderSelectCols+` FROM conditional_orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load orders: %w", err)
	}
	return collectOrders(rows)
}

// ListPending returns every PENDING order in id order.
func (s *OrderStore) ListPending(ctx context.Context) ([]domain.ConditionalOrder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderSelectCols+` FROM conditional_orders
		WHERE status = 'PENDING' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending orders: %w", err)
	}
	return collectOrders(rows)
}

// ListTerminalBefore returns finished orders last touched before the cutoff.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.ConditionalOrder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderSelectCols+` FROM conditional_orders
		WHERE status IN ('EXECUTED', 'CANCELLED', 'EXPIRED') AND updated_at < $1
		ORDER BY id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]domain.ConditionalOrder, error) {
	defer rows.Close()
	var out []domain.ConditionalOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: order rows: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.ConditionalOrder, error) {
	var (
		o                           domain.ConditionalOrder
		id, target, execPrice       int64
		owner, cond, status         string
		executor                    *string
		amountIn, minOut, amountOut pgtype.Numeric
	)
	if err := row.Scan(
		&id, &owner, &o.TokenIn, &o.TokenOut, &o.WatchToken,
		&amountIn, &minOut, &cond, &target, &status,
		&o.CreatedAt, &o.ExpiresAt, &o.ExecutedAt, &execPrice, &amountOut, &executor,
	); err != nil {
		return domain.ConditionalOrder{}, err
	}

	var err error
	o.ID = uint64(id)
	if o.Owner, err = parseAddr(owner); err != nil {
		return domain.ConditionalOrder{}, err
	}
	if executor != nil {
		ex, err := parseAddr(*executor)
		if err != nil {
			return domain.ConditionalOrder{}, err
		}
		o.Executor = &ex
	}
	if o.AmountIn, err = numericUint64(amountIn); err != nil {
		return domain.ConditionalOrder{}, err
	}
	if o.MinAmountOut, err = numericUint64(minOut); err != nil {
		return domain.ConditionalOrder{}, err
	}
	if o.AmountOut, err = numericUint64(amountOut); err != nil {
		return domain.ConditionalOrder{}, err
	}
	o.Condition = domain.ConditionType(cond)
	o.Status = domain.OrderStatus(status)
	o.TargetPrice = domain.Price(target)
	o.ExecutionPrice = domain.Price(execPrice)
	o.CreatedAt = o.CreatedAt.UTC()
	o.ExpiresAt = o.ExpiresAt.UTC()
	if o.ExecutedAt != nil {
		t := o.ExecutedAt.UTC()
		o.ExecutedAt = &t
	}
	return o, nil
}
