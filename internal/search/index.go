// Package search defines the object index contract, an in-memory index and index rebuild.
package search

import (
	"context"
	"time"

	"github.com/devrev/paracore/internal/model"
	"github.com/devrev/paracore/internal/store"
)

// Index is a per-tenant searchable projection of stored objects.
// An empty objType in a find method matches every type.
type Index interface {
	Index(ctx context.Context, tenantID string, obj *model.Object, ttl time.Duration) error
	Unindex(ctx context.Context, tenantID string, obj *model.Object) error
	IndexAll(ctx context.Context, tenantID string, objs []*model.Object) error
	UnindexAll(ctx context.Context, tenantID string, objs []*model.Object) error

	FindByID(ctx context.Context, tenantID, id string) (*model.Object, error)
	FindByIDs(ctx context.Context, tenantID string, ids []string) ([]*model.Object, error)
	// FindQuery accepts "*", bare words matched against every text field, and field:value terms
	FindQuery(ctx context.Context, tenantID, objType, query string, pager *model.Pager) ([]*model.Object, error)
	FindTerms(ctx context.Context, tenantID, objType string, terms map[string]any, matchAll bool, pager *model.Pager) ([]*model.Object, error)
	FindTagged(ctx context.Context, tenantID, objType string, tags []string, pager *model.Pager) ([]*model.Object, error)
	FindPrefix(ctx context.Context, tenantID, objType, field, prefix string, pager *model.Pager) ([]*model.Object, error)
	FindWildcard(ctx context.Context, tenantID, objType, field, wildcard string, pager *model.Pager) ([]*model.Object, error)
	FindNearby(ctx context.Context, tenantID, objType, query string, radiusKm, lat, lng float64, pager *model.Pager) ([]*model.Object, error)
	FindSimilar(ctx context.Context, tenantID, objType, filterID string, fields []string, likeText string, pager *model.Pager) ([]*model.Object, error)
	FindTermInList(ctx context.Context, tenantID, objType, field string, terms []string, pager *model.Pager) ([]*model.Object, error)
	GetCount(ctx context.Context, tenantID, objType string) (int64, error)

	// RebuildIndex pages every object of tenantID out of st and indexes it under destination
	// (the tenant's own index when empty). It returns the number of indexed objects.
	RebuildIndex(ctx context.Context, st store.Store, tenantID, destination string) (int, error)
}
