package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limiter 按 key 的每分钟请求限流
type Limiter interface {
	Allow(ctx context.Context, key string, perMinute int) (bool, time.Duration, error)
}

// RedisLimiter redis_rate（GCRA）实现
type RedisLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisLimiter 创建 Redis 限流器
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{limiter: redis_rate.NewLimiter(client)}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, perMinute int) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, key, redis_rate.PerMinute(perMinute))
	if err != nil {
		return false, 0, err
	}
	return res.Allowed > 0, res.RetryAfter, nil
}

// NoLimit 未配置 Redis 时放行所有请求
type NoLimit struct{}

func (NoLimit) Allow(context.Context, string, int) (bool, time.Duration, error) { return true, 0, nil }
