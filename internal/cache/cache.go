// Package cache defines the object cache contract and its backends.
package cache

import (
	"context"
	"time"

	"github.com/devrev/paracore/internal/model"
)

// Cache keeps object snapshots keyed by (tenant, id).
// A ttl <= 0 means the backend default; misses are reported as a nil object, not an error.
type Cache interface {
	Get(ctx context.Context, tenantID, id string) (*model.Object, error)
	Put(ctx context.Context, tenantID, id string, obj *model.Object, ttl time.Duration) error
	Remove(ctx context.Context, tenantID, id string) error

	// GetAll returns only the hits; it never returns a nil map
	GetAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error)
	PutAll(ctx context.Context, tenantID string, objs map[string]*model.Object, ttl time.Duration) error
	RemoveAll(ctx context.Context, tenantID string, ids []string) error

	Contains(ctx context.Context, tenantID, id string) (bool, error)
}

// Key builds the flat cache key for an object. Tenant ids never contain ':'.
func Key(tenantID, id string) string {
	return tenantID + ":" + id
}
