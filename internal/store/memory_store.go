package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devrev/paracore/internal/model"
	"go.uber.org/zap"
)

// MemoryStore implements Store with per-tenant maps guarded by a single RWMutex.
// Objects are cloned on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*model.Object
	now     func() time.Time
	logger  *zap.Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		tenants: make(map[string]map[string]*model.Object),
		now:     time.Now,
		logger:  logger,
	}
}

// Name returns the backend name
func (s *MemoryStore) Name() string {
	return "memory"
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Create stores a new object, overwriting any record with the same id unless locking is enabled
func (s *MemoryStore) Create(ctx context.Context, tenantID string, obj *model.Object) (string, error) {
	if err := requireID(obj); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.createLocked(tenantID, obj)
	return obj.ID, nil
}

func (s *MemoryStore) createLocked(tenantID string, obj *model.Object) {
	bucket := s.bucket(tenantID)
	if _, exists := bucket[obj.ID]; exists && obj.LockingEnabled() {
		s.logger.Debug("Conditional create rejected, object exists",
			zap.String("tenant_id", tenantID),
			zap.String("id", obj.ID))
		obj.Version = model.VersionConflict
		return
	}
	prepareCreate(obj, s.now().UnixMilli())
	bucket[obj.ID] = obj.Clone()
}

// Read returns the object or nil when absent
func (s *MemoryStore) Read(ctx context.Context, tenantID, id string) (*model.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.tenants[tenantID][id]
	if !ok {
		return nil, nil
	}
	return obj.Clone(), nil
}

// Update replaces an existing object, applying optimistic locking when enabled
func (s *MemoryStore) Update(ctx context.Context, tenantID string, obj *model.Object) error {
	if err := requireID(obj); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(tenantID, obj)
	return nil
}

func (s *MemoryStore) updateLocked(tenantID string, obj *model.Object) {
	bucket := s.bucket(tenantID)
	existing, exists := bucket[obj.ID]

	if obj.LockingEnabled() {
		if !exists || existing.Version != obj.Version {
			s.logger.Debug("Version mismatch on update",
				zap.String("tenant_id", tenantID),
				zap.String("id", obj.ID),
				zap.Int64("version", obj.Version))
			obj.Version = model.VersionConflict
			return
		}
		obj.Version++
	}

	obj.Updated = s.now().UnixMilli()
	if exists && obj.Timestamp == 0 {
		obj.Timestamp = existing.Timestamp
	}
	bucket[obj.ID] = obj.Clone()
}

// Delete removes an object; deleting an absent object is not an error
func (s *MemoryStore) Delete(ctx context.Context, tenantID string, obj *model.Object) error {
	if obj == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants[tenantID], obj.ID)
	return nil
}

// CreateAll stores a batch of objects
func (s *MemoryStore) CreateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obj := range objs {
		if requireID(obj) != nil {
			continue
		}
		s.createLocked(tenantID, obj)
	}
	return nil
}

// ReadAll returns every found object keyed by id
func (s *MemoryStore) ReadAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*model.Object, len(ids))
	bucket := s.tenants[tenantID]
	for _, id := range ids {
		if obj, ok := bucket[id]; ok {
			result[id] = obj.Clone()
		}
	}
	return result, nil
}

// UpdateAll updates a batch of objects
func (s *MemoryStore) UpdateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obj := range objs {
		if requireID(obj) != nil {
			continue
		}
		s.updateLocked(tenantID, obj)
	}
	return nil
}

// DeleteAll removes a batch of objects
func (s *MemoryStore) DeleteAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.tenants[tenantID]
	for _, obj := range objs {
		if obj != nil {
			delete(bucket, obj.ID)
		}
	}
	return nil
}

// ReadPage scans the tenant in id order starting after pager.LastKey
func (s *MemoryStore) ReadPage(ctx context.Context, tenantID string, pager *model.Pager) ([]*model.Object, error) {
	if pager == nil {
		pager = model.NewPager(0)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.tenants[tenantID]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := sort.SearchStrings(ids, pager.LastKey)
	if start < len(ids) && ids[start] == pager.LastKey {
		start++
	}

	limit := pager.EffectiveLimit()
	page := make([]*model.Object, 0, limit)
	for i := start; i < len(ids) && len(page) < limit; i++ {
		page = append(page, bucket[ids[i]].Clone())
	}

	pager.Count = int64(len(ids))
	if len(page) > 0 {
		pager.LastKey = page[len(page)-1].ID
	}
	return page, nil
}

func (s *MemoryStore) bucket(tenantID string) map[string]*model.Object {
	bucket, ok := s.tenants[tenantID]
	if !ok {
		bucket = make(map[string]*model.Object)
		s.tenants[tenantID] = bucket
	}
	return bucket
}
