package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// setIfNewerLua stores price and time only when time is not older than the
// cached one, so a replayed block never rolls a pair backwards.
const setIfNewerLua = `
local cur = redis.call('HGET', KEYS[1], 'time')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
    return 0
end
redis.call('HSET', KEYS[1], 'price', ARGV[1], 'time', ARGV[2])
return 1
`

// PriceCache implements domain.PriceCache with one hash per pair at
// "price:{platform_id}:{quote_base}".
type PriceCache struct {
	rdb        *redis.Client
	setIfNewer *redis.Script
}

// NewPriceCache returns a PriceCache on c.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), setIfNewer: redis.NewScript(setIfNewerLua)}
}

func priceKey(pair string) string {
	return "price:" + pair
}

// SetLatest caches p unless a newer price is already cached.
func (pc *PriceCache) SetLatest(ctx context.Context, p domain.LatestPrice) error {
	err := pc.setIfNewer.Run(ctx, pc.rdb, []string{priceKey(p.Pair)},
		strconv.FormatInt(int64(p.Price), 10), strconv.FormatUint(uint64(p.Time), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", p.Pair, err)
	}
	return nil
}

// GetLatest returns the cached price of pair or domain.ErrNotFound.
func (pc *PriceCache) GetLatest(ctx context.Context, pair string) (domain.LatestPrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pair)).Result()
	if err != nil {
		return domain.LatestPrice{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	p, ok, err := parseLatest(pair, vals)
	if err != nil {
		return domain.LatestPrice{}, err
	}
	if !ok {
		return domain.LatestPrice{}, domain.NotFoundf("price %s", pair)
	}
	return p, nil
}

// GetLatestMany fetches several pairs in one pipeline. Missing pairs are
// left out of the result.
func (pc *PriceCache) GetLatestMany(ctx context.Context, pairs []string) (map[string]domain.LatestPrice, error) {
	out := make(map[string]domain.LatestPrice, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(pairs))
	for _, pair := range pairs {
		cmds[pair] = pipe.HGetAll(ctx, priceKey(pair))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for pair, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if p, ok, err := parseLatest(pair, vals); err == nil && ok {
			out[pair] = p
		}
	}
	return out, nil
}

func parseLatest(pair string, vals map[string]string) (domain.LatestPrice, bool, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.LatestPrice{}, false, nil
	}
	timeStr, ok := vals["time"]
	if !ok {
		return domain.LatestPrice{}, false, nil
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return domain.LatestPrice{}, false, fmt.Errorf("redis: parse price %s: %w", pair, err)
	}
	t, err := strconv.ParseUint(timeStr, 10, 32)
	if err != nil {
		return domain.LatestPrice{}, false, fmt.Errorf("redis: parse time %s: %w", pair, err)
	}
	return domain.LatestPrice{Pair: pair, Price: domain.Price(price), Time: uint32(t)}, true, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
