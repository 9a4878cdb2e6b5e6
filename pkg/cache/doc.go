// Package cache provides a typed key-value cache with an in-process LRU
// backend and a Redis backend behind one [Cache] interface.
//
// TTL passed to Set: positive expires after the duration, zero uses the
// backend default, negative never expires.
//
// [GetOrSet] collapses concurrent misses for the same key into one call of
// the loader:
//
//	plan, err := cache.GetOrSet(ctx, plans, tenantID, func(ctx context.Context) (Plan, time.Duration, error) {
//		p, err := resolve(ctx, tenantID)
//		return p, 5 * time.Minute, err
//	})
package cache
