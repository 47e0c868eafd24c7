package cacheutil

import (
	"sync"
	"time"
)

// CachedValue represents a cached value with the time it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough implements a thread-safe read-through cache with double-checked locking.
//
// Parameters:
//   - mu: RWMutex for protecting cache access
//   - checkCache: Function to check if cached value is valid (called under RLock, then again under Lock)
//   - fetchAndCache: Function to fetch and cache new value (called under Lock)
//
// Usage:
//
//	func (r *CachedRepo) ListItems(ctx context.Context) ([]Item, error) {
//	    return cacheutil.ReadThrough(
//	        &r.mu,
//	        func(now time.Time) ([]Item, bool) {
//	            if r.cached.Value != nil && now.Sub(r.cached.FetchedAt) < r.ttl {
//	                return r.cached.Value, true
//	            }
//	            return nil, false
//	        },
//	        func(now time.Time) ([]Item, error) {
//	            items, err := r.underlying.ListItems(ctx)
//	            if err != nil {
//	                return nil, err
//	            }
//	            r.cached = cacheutil.CachedValue[[]Item]{Value: items, FetchedAt: now}
//	            return items, nil
//	        },
//	    )
//	}
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have populated the cache between RUnlock and Lock.
	// Use a fresh timestamp so newly cached data is not treated as expired.
	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}

	return fetchAndCache(nowAfterLock)
}
