package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func exerciseIdempotency(t *testing.T, s usecase.IdempotencyStore) {
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	assert.False(t, ok, "second lock inside the window must fail")

	ok, err = s.TryLock(ctx, "cardBankTransfer", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok, "scopes are independent")

	_, found, err := s.Recall(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Remember(ctx, "cardGlobal", "evt_1", "transitioned"))
	v, found, err := s.Recall(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "transitioned", v)

	require.NoError(t, s.Release(ctx, "cardGlobal", "evt_1"))
	_, found, _ = s.Recall(ctx, "cardGlobal", "evt_1")
	assert.False(t, found)
	ok, err = s.TryLock(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok, "released key can be locked again")
}

func TestRedisIdempotencyStore(t *testing.T) {
	_, rdb := newRedis(t)
	exerciseIdempotency(t, NewRedisIdempotencyStore(rdb, time.Hour))
}

func TestRedisIdempotencyStoreExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewRedisIdempotencyStore(rdb, time.Minute)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "checkout:b1", "k1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = s.TryLock(ctx, "checkout:b1", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	exerciseIdempotency(t, NewMemoryIdempotencyStore(time.Hour))
}

func TestMemoryIdempotencyStoreExpires(t *testing.T) {
	s := NewMemoryIdempotencyStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.TryLock(ctx, "p", "k")
	require.True(t, ok)
	ok, _ = s.TryLock(ctx, "p", "k")
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = s.TryLock(ctx, "p", "k")
	assert.True(t, ok)
}

func TestRedisIdempotencyStoreLockOutlivedByResult(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewRedisIdempotencyStore(rdb, time.Hour, WithLockTTL(10*time.Second))
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(11 * time.Second)
	ok, err = s.TryLock(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok, "unresolved lock frees itself")

	require.NoError(t, s.Remember(ctx, "cardGlobal", "evt_1", "transitioned"))
	mr.FastForward(30 * time.Minute)
	v, found, err := s.Recall(ctx, "cardGlobal", "evt_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "transitioned", v)
}

func TestMemoryIdempotencyStoreLockOutlivedByResult(t *testing.T) {
	s := NewMemoryIdempotencyStore(time.Hour, WithLockTTL(10*time.Second))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.TryLock(ctx, "p", "k")
	require.True(t, ok)
	now = now.Add(11 * time.Second)
	ok, _ = s.TryLock(ctx, "p", "k")
	assert.True(t, ok, "unresolved lock frees itself")

	require.NoError(t, s.Remember(ctx, "p", "k", "paid"))
	now = now.Add(30 * time.Minute)
	v, found, _ := s.Recall(ctx, "p", "k")
	assert.True(t, found)
	assert.Equal(t, "paid", v)

	now = now.Add(time.Hour)
	_, found, _ = s.Recall(ctx, "p", "k")
	assert.False(t, found)
}

func TestRedisCache(t *testing.T) {
	_, rdb := newRedis(t)
	exerciseStatusCache(t, NewRedisCache(rdb, time.Hour))
}

func TestMemoryStatusCache(t *testing.T) {
	exerciseStatusCache(t, NewMemoryStatusCache())
}

func exerciseStatusCache(t *testing.T, c usecase.OrderCache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.GetStatus(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetStatus(ctx, "o1", "paid"))
	s, ok, err := c.GetStatus(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "paid", s)
}
