package cache

import (
	"context"
	"time"

	"github.com/devrev/paracore/internal/model"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// MemoryCache is an in-process Cache backed by ttlcache with capacity-based eviction
type MemoryCache struct {
	items  *ttlcache.Cache[string, *model.Object]
	logger *zap.Logger
}

// NewMemoryCache creates a cache holding at most capacity entries (0 = unbounded).
// defaultTTL applies when Put is called without a ttl; 0 disables expiry.
func NewMemoryCache(capacity uint64, defaultTTL time.Duration, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []ttlcache.Option[string, *model.Object]{
		ttlcache.WithTTL[string, *model.Object](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, *model.Object](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *model.Object](capacity))
	}

	items := ttlcache.New(opts...)
	items.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *model.Object]) {
		if reason == ttlcache.EvictionReasonCapacityReached {
			logger.Debug("Cache entry evicted", zap.String("key", item.Key()))
		}
	})
	go items.Start()

	return &MemoryCache{items: items, logger: logger}
}

// Name returns the backend name
func (c *MemoryCache) Name() string {
	return "memory"
}

// Get returns a copy of the cached object or nil on a miss
func (c *MemoryCache) Get(ctx context.Context, tenantID, id string) (*model.Object, error) {
	item := c.items.Get(Key(tenantID, id))
	if item == nil {
		return nil, nil
	}
	return item.Value().Clone(), nil
}

// Put stores a copy of the object
func (c *MemoryCache) Put(ctx context.Context, tenantID, id string, obj *model.Object, ttl time.Duration) error {
	if obj == nil || id == "" {
		return nil
	}
	c.items.Set(Key(tenantID, id), obj.Clone(), ttlOrDefault(ttl))
	return nil
}

// Remove evicts an entry
func (c *MemoryCache) Remove(ctx context.Context, tenantID, id string) error {
	c.items.Delete(Key(tenantID, id))
	return nil
}

// GetAll returns all hits keyed by id
func (c *MemoryCache) GetAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	result := make(map[string]*model.Object, len(ids))
	for _, id := range ids {
		if item := c.items.Get(Key(tenantID, id)); item != nil {
			result[id] = item.Value().Clone()
		}
	}
	return result, nil
}

// PutAll stores a batch of objects
func (c *MemoryCache) PutAll(ctx context.Context, tenantID string, objs map[string]*model.Object, ttl time.Duration) error {
	for id, obj := range objs {
		if err := c.Put(ctx, tenantID, id, obj, ttl); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll evicts a batch of entries
func (c *MemoryCache) RemoveAll(ctx context.Context, tenantID string, ids []string) error {
	for _, id := range ids {
		c.items.Delete(Key(tenantID, id))
	}
	return nil
}

// Contains reports whether an unexpired entry exists
func (c *MemoryCache) Contains(ctx context.Context, tenantID, id string) (bool, error) {
	return c.items.Has(Key(tenantID, id)), nil
}

// Len returns the number of entries
func (c *MemoryCache) Len() int {
	return c.items.Len()
}

// Close stops the expiry loop
func (c *MemoryCache) Close() error {
	c.items.Stop()
	return nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.DefaultTTL
	}
	return ttl
}
