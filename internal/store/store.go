// Package store defines the durable persistence contract and its backends.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devrev/paracore/internal/model"
)

// Store is durable CRUD keyed by (tenant, id) plus batch variants and a paged scan.
//
// Create and Update honour optimistic locking: when obj.Version > 0 a conflicting write
// leaves the record untouched and sets obj.Version to model.VersionConflict instead of
// returning an error. Successful locked writes bump obj.Version.
type Store interface {
	Create(ctx context.Context, tenantID string, obj *model.Object) (string, error)
	Read(ctx context.Context, tenantID, id string) (*model.Object, error)
	Update(ctx context.Context, tenantID string, obj *model.Object) error
	Delete(ctx context.Context, tenantID string, obj *model.Object) error

	CreateAll(ctx context.Context, tenantID string, objs []*model.Object) error
	// ReadAll returns the found objects keyed by id; it never returns a nil map
	ReadAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error)
	UpdateAll(ctx context.Context, tenantID string, objs []*model.Object) error
	DeleteAll(ctx context.Context, tenantID string, objs []*model.Object) error

	// ReadPage returns up to pager.EffectiveLimit() objects ordered by id, starting after
	// pager.LastKey, and advances pager.LastKey to the last returned id
	ReadPage(ctx context.Context, tenantID string, pager *model.Pager) ([]*model.Object, error)
}

// Pinger is implemented by backends that can report their health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Named is implemented by backends that report a short name for metrics and logs
type Named interface {
	Name() string
}

// BackendName returns the short name of a backend
func BackendName(backend any) string {
	if n, ok := backend.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", backend)
}

// encodeObject serializes an object for the SQL backends
func encodeObject(obj *model.Object) ([]byte, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return data, nil
}

// decodeObject deserializes an object stored by the SQL backends
func decodeObject(data []byte) (*model.Object, error) {
	var obj model.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal object: %w", err)
	}
	return &obj, nil
}

// prepareCreate stamps timestamps and the initial version of a new record
func prepareCreate(obj *model.Object, nowMillis int64) {
	if obj.Timestamp == 0 {
		obj.Timestamp = nowMillis
	}
	if obj.Updated == 0 {
		obj.Updated = obj.Timestamp
	}
	if obj.LockingEnabled() {
		obj.Version = 1
	}
}

func requireID(obj *model.Object) error {
	if obj == nil {
		return fmt.Errorf("object cannot be nil")
	}
	if obj.ID == "" {
		return fmt.Errorf("object id is required")
	}
	return nil
}
