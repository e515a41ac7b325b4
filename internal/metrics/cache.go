package metrics

import (
	"context"
	"time"

	"github.com/gimpeliovsky-prog/license-server/internal/cache"
	"github.com/gimpeliovsky-prog/license-server/internal/store"
)

// metricsStore defines the interface for database operations needed by CacheWrapper.
// This interface allows for easier testing without requiring a full store.Store.
type metricsStore interface {
	CountActiveDevices(since time.Time) (int64, error)
	CountActiveTenants() (int64, error)
	CountOTAInFlight() (int64, error)
}

// activeDeviceWindow is how far back last_seen may be for a device to
// count as active.
const activeDeviceWindow = 30 * 24 * time.Hour

// CacheWrapper provides a read-through cache for metrics data.
// It queries the database on cache miss and updates the cache for subsequent requests.
type CacheWrapper struct {
	store metricsStore
	cache cache.Cache[int64]
}

// NewCacheWrapper creates a new cache wrapper for metrics.
func NewCacheWrapper(store *store.Store, cache cache.Cache[int64]) *CacheWrapper {
	return &CacheWrapper{
		store: store,
		cache: cache,
	}
}

// GetActiveDevicesCount retrieves the count of recently seen, non-revoked devices.
func (m *CacheWrapper) GetActiveDevicesCount(ctx context.Context, ttl time.Duration) (int64, error) {
	return m.getCountWithCache(
		ctx,
		"devices:active",
		ttl,
		func() (int64, error) {
			return m.store.CountActiveDevices(time.Now().Add(-activeDeviceWindow))
		},
	)
}

// GetActiveTenantsCount retrieves the count of active tenants.
func (m *CacheWrapper) GetActiveTenantsCount(ctx context.Context, ttl time.Duration) (int64, error) {
	return m.getCountWithCache(ctx, "tenants:active", ttl, m.store.CountActiveTenants)
}

// GetOTAInFlightCount retrieves the count of OTA rollouts started but not finished.
func (m *CacheWrapper) GetOTAInFlightCount(ctx context.Context, ttl time.Duration) (int64, error) {
	return m.getCountWithCache(ctx, "ota:in_flight", ttl, m.store.CountOTAInFlight)
}

// getCountWithCache retrieves a count using the cache-aside pattern.
func (m *CacheWrapper) getCountWithCache(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetchFunc func() (int64, error),
) (int64, error) {
	return cache.GetWithFetch(
		ctx,
		m.cache,
		key,
		ttl,
		func(ctx context.Context, key string) (int64, error) {
			return fetchFunc()
		},
	)
}
