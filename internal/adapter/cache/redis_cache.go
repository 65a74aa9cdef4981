package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// RedisCache holds the last known status per order, warmed from status-change
// events. It is advisory; the order store stays authoritative.
type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func statusKey(orderID string) string { return "order:status:" + orderID }

func (r *RedisCache) SetStatus(ctx context.Context, orderID string, status string) error {
	return r.rdb.Set(ctx, statusKey(orderID), status, r.ttl).Err()
}

func (r *RedisCache) GetStatus(ctx context.Context, orderID string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, statusKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

var _ usecase.OrderCache = (*RedisCache)(nil)
