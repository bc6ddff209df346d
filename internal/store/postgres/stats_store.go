package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// StatsStore reads the counters maintained by OrderStore.
type StatsStore struct {
	pool *pgxpool.Pool
}

var _ domain.StatsStore = (*StatsStore)(nil)

func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

const userStatsCols = `owner, trade_count, volume, order_count, created_at`

func (s *StatsStore) GetUser(ctx context.Context, owner domain.Address) (domain.UserStats, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userStatsCols+` FROM user_stats WHERE owner = $1`, addr(owner))
	u, err := scanUserStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserStats{}, domain.ErrNotFound
		}
		return domain.UserStats{}, fmt.Errorf("postgres: get user stats %s: %w", owner.Hex(), err)
	}
	return u, nil
}

func (s *StatsStore) ListUsers(ctx context.Context) ([]domain.UserStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userStatsCols+` FROM user_stats ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list user stats: %w", err)
	}
	defer rows.Close()

	var out []domain.UserStats
	for rows.Next() {
		u, err := scanUserStats(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user stats: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: user stats rows: %w", err)
	}
	return out, nil
}

func (s *StatsStore) GetProtocol(ctx context.Context) (domain.ProtocolStats, error) {
	var (
		trades, orders int64
		volume         pgtype.Numeric
	)
	err := s.pool.QueryRow(ctx,
		`SELECT total_trades, total_volume, total_orders FROM protocol_stats WHERE id = 1`,
	).Scan(&trades, &volume, &orders)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProtocolStats{}, nil
		}
		return domain.ProtocolStats{}, fmt.Errorf("postgres: get protocol stats: %w", err)
	}
	v, err := numericUint64(volume)
	if err != nil {
		return domain.ProtocolStats{}, fmt.Errorf("postgres: protocol volume: %w", err)
	}
	return domain.ProtocolStats{TotalTrades: uint64(trades), TotalVolume: v, TotalOrders: uint64(orders)}, nil
}

func scanUserStats(row pgx.Row) (domain.UserStats, error) {
	var (
		u              domain.UserStats
		owner          string
		trades, orders int64
		volume         pgtype.Numeric
	)
	if err := row.Scan(&owner, &trades, &volume, &orders, &u.CreatedAt); err != nil {
		return domain.UserStats{}, err
	}
	var err error
	if u.Owner, err = parseAddr(owner); err != nil {
		return domain.UserStats{}, err
	}
	if u.Volume, err = numericUint64(volume); err != nil {
		return domain.UserStats{}, err
	}
	u.TradeCount = uint64(trades)
	u.OrderCount = uint64(orders)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
