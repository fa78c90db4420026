package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/domain"
)

// RedisCache implements AvailabilityCache on redis. All calls go through a
// circuit breaker: when redis is down the breaker opens and callers fall
// back to the store instead of waiting out connection timeouts.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
	breaker *gobreaker.CircuitBreaker[int32]
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 30 * time.Second,
		breaker: gobreaker.NewCircuitBreaker[int32](gobreaker.Settings{
			Name:    "availability-cache",
			Timeout: 10 * time.Second,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrCacheMiss)
			},
		}),
	}
}

func (r *RedisCache) Get(ctx context.Context, key domain.StockKey) (int32, error) {
	return r.breaker.Execute(func() (int32, error) {
		raw, err := r.client.Get(ctx, cacheKey(key)).Result()
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		if err != nil {
			return 0, fmt.Errorf("redis get failed: %w", err)
		}

		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parse cached availability: %w", err)
		}
		return int32(v), nil
	})
}

func (r *RedisCache) Set(ctx context.Context, key domain.StockKey, available int32) error {
	_, err := r.breaker.Execute(func() (int32, error) {
		jitter := time.Duration(rand.Intn(10)) * time.Second
		ttl := r.baseTTL + jitter
		if e := r.client.Set(ctx, cacheKey(key), int64(available), ttl).Err(); e != nil {
			return 0, fmt.Errorf("redis set failed: %w", e)
		}
		return 0, nil
	})
	return err
}

func (r *RedisCache) Invalidate(ctx context.Context, key domain.StockKey) error {
	_, err := r.breaker.Execute(func() (int32, error) {
		if e := r.client.Del(ctx, cacheKey(key)).Err(); e != nil {
			return 0, fmt.Errorf("redis delete failed: %w", e)
		}
		return 0, nil
	})
	return err
}

func cacheKey(key domain.StockKey) string {
	return fmt.Sprintf("availability:%d:%s", key.ProductID, key.VariantID)
}
