package cache

import (
	"context"
	"sync"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// MemoryStatusCache stands in for RedisCache when no Redis is configured.
type MemoryStatusCache struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryStatusCache() *MemoryStatusCache {
	return &MemoryStatusCache{m: map[string]string{}}
}

func (c *MemoryStatusCache) SetStatus(_ context.Context, orderID string, status string) error {
	c.mu.Lock()
	c.m[orderID] = status
	c.mu.Unlock()
	return nil
}

func (c *MemoryStatusCache) GetStatus(_ context.Context, orderID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.m[orderID]
	return s, ok, nil
}

var _ usecase.OrderCache = (*MemoryStatusCache)(nil)
