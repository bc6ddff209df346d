package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

//go:embed scripts/put_prices.lua
var putPricesLua string

// PriceStore implements domain.PriceStore. Each token is a hash
// "<prefix>price:<TOKEN>" with fields price, conf (8-dp integers) and ts
// (unix microseconds); "<prefix>price:tokens" indexes the tokens.
type PriceStore struct {
	c         *Client
	putPrices *redis.Script
}

var _ domain.PriceStore = (*PriceStore)(nil)

func NewPriceStore(c *Client) *PriceStore {
	return &PriceStore{c: c, putPrices: redis.NewScript(putPricesLua)}
}

func (s *PriceStore) tokenKey(token string) string { return s.c.Key("price", token) }
func (s *PriceStore) indexKey() string             { return s.c.Key("price", "tokens") }

// PutBatch writes every entry in one script call.
func (s *PriceStore) PutBatch(ctx context.Context, entries []domain.PriceFeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries)+1)
	args := make([]any, 0, len(entries)*4)
	keys = append(keys, s.indexKey())
	for _, e := range entries {
		keys = append(keys, s.tokenKey(e.Token))
		args = append(args,
			e.Token,
			strconv.FormatInt(int64(e.Price), 10),
			strconv.FormatInt(int64(e.Confidence), 10),
			strconv.FormatInt(e.UpdatedAt.UnixMicro(), 10),
		)
	}
	if err := s.putPrices.Run(ctx, s.c.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: put prices (%d): %w", len(entries), err)
	}
	return nil
}

// Get returns domain.ErrNotFound when token has no entry.
func (s *PriceStore) Get(ctx context.Context, token string) (domain.PriceFeedEntry, error) {
	vals, err := s.c.rdb.HGetAll(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return domain.PriceFeedEntry{}, fmt.Errorf("redis: get price %s: %w", token, err)
	}
	if len(vals) == 0 {
		return domain.PriceFeedEntry{}, domain.ErrNotFound
	}
	return parseEntry(token, vals)
}

// List returns every indexed entry sorted by token.
func (s *PriceStore) List(ctx context.Context) ([]domain.PriceFeedEntry, error) {
	tokens, err := s.c.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list price tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	sort.Strings(tokens)

	pipe := s.c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, t := range tokens {
		cmds[i] = pipe.HGetAll(ctx, s.tokenKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: list prices: %w", err)
	}

	out := make([]domain.PriceFeedEntry, 0, len(tokens))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, err := parseEntry(tokens[i], vals)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseEntry(token string, vals map[string]string) (domain.PriceFeedEntry, error) {
	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return domain.PriceFeedEntry{}, fmt.Errorf("redis: parse price %s: %w", token, err)
	}
	conf, err := strconv.ParseInt(vals["conf"], 10, 64)
	if err != nil {
		return domain.PriceFeedEntry{}, fmt.Errorf("redis: parse confidence %s: %w", token, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceFeedEntry{}, fmt.Errorf("redis: parse ts %s: %w", token, err)
	}
	return domain.PriceFeedEntry{
		Token:      token,
		Price:      domain.Price(price),
		Confidence: domain.Price(conf),
		UpdatedAt:  time.UnixMicro(ts).UTC(),
	}, nil
}
