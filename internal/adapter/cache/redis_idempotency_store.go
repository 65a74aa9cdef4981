package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// RedisIdempotencyStore backs both checkout idempotency keys and the webhook
// dedupe window; ttl is the retention of a remembered result and lockTTL the
// lifetime of a lock nobody resolved.
type RedisIdempotencyStore struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisIdempotencyStore(rdb redis.UniversalClient, ttl time.Duration, opts ...StoreOption) *RedisIdempotencyStore {
	o := applyStoreOptions(ttl, opts)
	return &RedisIdempotencyStore{rdb: rdb, ttl: ttl, lockTTL: o.lockTTL}
}

func lockKey(scope, key string) string { return "idemp:" + scope + ":" + key }
func mapKey(scope, key string) string  { return "idemp:map:" + scope + ":" + key }

func (s *RedisIdempotencyStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	return s.rdb.SetNX(ctx, lockKey(scope, key), "1", s.lockTTL).Result()
}

func (s *RedisIdempotencyStore) Remember(ctx context.Context, scope, key, value string) error {
	return s.rdb.Set(ctx, mapKey(scope, key), value, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, mapKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Release drops the lock and any remembered value so the key can be retried.
func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, lockKey(scope, key), mapKey(scope, key)).Err()
}

var _ usecase.IdempotencyStore = (*RedisIdempotencyStore)(nil)
