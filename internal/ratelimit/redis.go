package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/database"
)

const redisKeyPrefix = "trivia:faucet:"

// releaseScript 只在值仍是本次写入的token时删除，避免误删后来者的窗口
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis 是多实例共享的限流实现，每个身份对应一个带过期时间的键
type Redis struct {
	rdb    *redis.Client
	window time.Duration
	status *database.Status
}

// NewRedis 创建Redis限流器，status 为 nil 时不检查健康状态
func NewRedis(rdb *redis.Client, window time.Duration, status *database.Status) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{rdb: rdb, window: window, status: status}
}

func (r *Redis) TryAcquire(ctx context.Context, key string) (*Reservation, error) {
	if r.status != nil && !r.status.IsRedisHealthy() {
		return nil, fmt.Errorf("限流器: %w", apperr.ErrStorageUnavailable)
	}

	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, redisKey, token, r.window).Result()
	if err != nil {
		return nil, fmt.Errorf("限流器写入失败: %w: %w", apperr.ErrStorageUnavailable, err)
	}
	if !ok {
		ttl, err := r.rdb.PTTL(ctx, redisKey).Result()
		if err != nil {
			return nil, fmt.Errorf("限流器读取失败: %w: %w", apperr.ErrStorageUnavailable, err)
		}
		if ttl < 0 {
			ttl = 0
		}
		return nil, &DeniedError{Key: key, RetryAfter: ttl}
	}

	return newReservation(key, func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.rdb, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("归还限流窗口失败: %w", err)
		}
		return nil
	}), nil
}
