package policy

import (
	"context"
	"time"

	"github.com/DaveCybr/couple-guard/pkg/cache"
	"github.com/DaveCybr/couple-guard/pkg/models"
)

// DefaultCacheTTL bounds how long a stale policy keeps gating the pipeline
// after a guardian changes it
const DefaultCacheTTL = 30 * time.Second

// CachedStore wraps a Store with an in-process TTL cache. Every ingested
// sample reads the subject's policy, so the hot path stays off Postgres.
type CachedStore struct {
	store *Store
	cache *cache.Cache
}

// NewCached creates a caching policy reader over the given store
func NewCached(store *Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		store: store,
		cache: cache.New(cache.Options{
			TTL:        ttl,
			MaxEntries: 4096,
		}),
	}
}

// Get returns the subject's policy, served from cache within the TTL.
// Subjects without a policy row are cached as nil policies too.
func (c *CachedStore) Get(ctx context.Context, subjectID string) (*models.MonitoringPolicy, error) {
	val, ok, err := c.cache.Get(ctx, subjectID, func(ctx context.Context, key string) (interface{}, bool, error) {
		pol, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return pol, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return val.(*models.MonitoringPolicy), nil
}

// Invalidate drops the cached policy after a configuration change
func (c *CachedStore) Invalidate(subjectID string) {
	c.cache.Delete(subjectID)
}
