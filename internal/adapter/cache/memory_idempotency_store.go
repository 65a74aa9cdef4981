package cache

import (
	"context"
	"sync"
	"time"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

type memEntry struct {
	lockedUntil time.Time
	value       string
	has         bool
	expires     time.Time
}

// MemoryIdempotencyStore is the single-process fallback used when no Redis
// address is configured.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	m       map[string]*memEntry
	ttl     time.Duration
	lockTTL time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration, opts ...StoreOption) *MemoryIdempotencyStore {
	o := applyStoreOptions(ttl, opts)
	return &MemoryIdempotencyStore{m: map[string]*memEntry{}, ttl: ttl, lockTTL: o.lockTTL, now: time.Now}
}

// get returns the live entry for k, dropping it once both the lock and the
// remembered value have expired. Caller holds mu.
func (s *MemoryIdempotencyStore) get(k string) *memEntry {
	e, ok := s.m[k]
	if !ok {
		return nil
	}
	now := s.now()
	if e.has && s.ttl > 0 && now.After(e.expires) {
		e.value, e.has = "", false
	}
	if !e.has && !s.locked(e, now) {
		delete(s.m, k)
		return nil
	}
	return e
}

func (s *MemoryIdempotencyStore) locked(e *memEntry, now time.Time) bool {
	if e.lockedUntil.IsZero() {
		return false
	}
	return s.lockTTL <= 0 || !now.After(e.lockedUntil)
}

func (s *MemoryIdempotencyStore) TryLock(_ context.Context, scope, key string) (bool, error) {
	k := scope + ":" + key
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e := s.get(k)
	if e != nil && s.locked(e, now) {
		return false, nil
	}
	if e == nil {
		e = &memEntry{}
		s.m[k] = e
	}
	e.lockedUntil = now.Add(s.lockTTL)
	return true, nil
}

func (s *MemoryIdempotencyStore) Remember(_ context.Context, scope, key, value string) error {
	k := scope + ":" + key
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(k)
	if e == nil {
		e = &memEntry{}
		s.m[k] = e
	}
	e.value, e.has = value, true
	e.expires = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryIdempotencyStore) Recall(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(scope + ":" + key); e != nil && e.has {
		return e.value, true, nil
	}
	return "", false, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	delete(s.m, scope+":"+key)
	s.mu.Unlock()
	return nil
}

var _ usecase.IdempotencyStore = (*MemoryIdempotencyStore)(nil)
