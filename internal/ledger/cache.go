package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaderboardKey 缓存完整的前 MaxLeaderboardLimit 名，按需截取
const leaderboardKey = "trivia:leaderboard"

// leaderboardCache 把排行榜缓存在Redis中。
// 排行榜不是资金数据，缓存失败时直接回源数据库。
type leaderboardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func newLeaderboardCache(rdb *redis.Client, ttl time.Duration) *leaderboardCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &leaderboardCache{rdb: rdb, ttl: ttl}
}

// get 返回缓存的条目，未命中时返回 (nil, nil)
func (c *leaderboardCache) get(ctx context.Context) ([]Entry, error) {
	raw, err := c.rdb.Get(ctx, leaderboardKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *leaderboardCache) set(ctx context.Context, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, leaderboardKey, raw, c.ttl).Err()
}

func (c *leaderboardCache) invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, leaderboardKey).Err()
}
