package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss 未命中
var ErrCacheMiss = cache.ErrCacheMiss

// Cache 读写缓存
type Cache interface {
	Get(ctx context.Context, key string, target any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// UseCache 先读缓存，未命中或缓存出错时调用 callback 并回填（回填失败忽略）
func UseCache[T any](ctx context.Context, c Cache, logger *logrus.Logger, key string, ttl time.Duration, callback func() (T, error)) (T, error) {
	var v T
	err := c.Get(ctx, key, &v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		logger.WithError(err).WithField("key", key).Warn("cache get failed")
	}

	v, err = callback()
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		logger.WithError(err).WithField("key", key).Warn("cache set failed")
	}
	return v, nil
}

// LeaderboardKey 排行榜缓存键
func LeaderboardKey(gameID uint64) string {
	return fmt.Sprintf("dollarchain:leaderboard:%d", gameID)
}

// RedisCache go-redis/cache 实现，可选本地 TinyLFU
type RedisCache struct {
	instance *cache.Cache
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(client redis.UniversalClient, withLocalCache bool) *RedisCache {
	var localCache cache.LocalCache
	if withLocalCache {
		localCache = cache.NewTinyLFU(1000, 5*time.Second)
	}
	return &RedisCache{cache.New(&cache.Options{
		Redis:      client,
		LocalCache: localCache,
	})}
}

func (c *RedisCache) Get(ctx context.Context, key string, target any) error {
	return c.instance.Get(ctx, key, target)
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.instance.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
	})
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	err := c.instance.Delete(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	return err
}

// Noop 未配置 Redis 时使用，永远未命中
type Noop struct{}

func (Noop) Get(context.Context, string, any) error                { return ErrCacheMiss }
func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error                  { return nil }
