package cache

import "time"

type storeOptions struct {
	lockTTL time.Duration
}

// StoreOption configures an idempotency store.
type StoreOption func(*storeOptions)

// WithLockTTL bounds how long an unresolved lock is held. A lock whose owner
// never calls Remember or Release frees itself after d. Remembered values keep
// the store's full ttl.
func WithLockTTL(d time.Duration) StoreOption {
	return func(o *storeOptions) { o.lockTTL = d }
}

func applyStoreOptions(ttl time.Duration, opts []StoreOption) storeOptions {
	o := storeOptions{lockTTL: ttl}
	for _, fn := range opts {
		fn(&o)
	}
	if o.lockTTL <= 0 || (ttl > 0 && o.lockTTL > ttl) {
		o.lockTTL = ttl
	}
	return o
}
