package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/devrev/paracore/internal/cache"
	"github.com/devrev/paracore/internal/errors"
	"github.com/devrev/paracore/internal/metrics"
	"github.com/devrev/paracore/internal/model"
	"github.com/devrev/paracore/internal/search"
	"github.com/devrev/paracore/internal/store"
	"github.com/devrev/paracore/internal/validation"
	"go.uber.org/zap"
)

// IDGenerator issues object ids
type IDGenerator interface {
	NextID() (string, error)
}

// Config controls propagation
type Config struct {
	SearchEnabled bool
	CacheEnabled  bool
	// CacheTTL applies to every cache write; 0 uses the cache default
	CacheTTL time.Duration
	// Production turns reentrant calls into debug logs instead of errors
	Production bool
}

// ConsistentStore wraps a Store and keeps an Index and a Cache in step with its writes.
// The store commit always comes first; index and cache failures are logged and never
// undo a committed write.
type ConsistentStore struct {
	inner     store.Store
	index     search.Index
	cache     cache.Cache
	ids       IDGenerator
	validator *validation.Validator
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger

	storeName string
	indexName string
	cacheName string

	mu        sync.RWMutex
	listeners []Listener
}

var _ store.Store = (*ConsistentStore)(nil)

// NewConsistentStore creates an orchestrated store. index and c may be nil, which disables
// the corresponding propagation regardless of cfg.
func NewConsistentStore(
	inner store.Store,
	index search.Index,
	c cache.Cache,
	ids IDGenerator,
	validator *validation.Validator,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *ConsistentStore {
	if validator == nil {
		validator = validation.NewValidator(validation.DefaultRegistry())
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if index == nil {
		cfg.SearchEnabled = false
	}
	if c == nil {
		cfg.CacheEnabled = false
	}

	s := &ConsistentStore{
		inner:     inner,
		index:     index,
		cache:     c,
		ids:       ids,
		validator: validator,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		storeName: "store." + store.BackendName(inner),
	}
	if index != nil {
		s.indexName = "index." + store.BackendName(index)
	}
	if c != nil {
		s.cacheName = "cache." + store.BackendName(c)
	}
	return s
}

// AddListener registers a listener for every subsequent Store call
func (s *ConsistentStore) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Name returns the name of the wrapped store
func (s *ConsistentStore) Name() string {
	return store.BackendName(s.inner)
}

// Inner returns the wrapped store
func (s *ConsistentStore) Inner() store.Store {
	return s.inner
}

// Create validates, persists and propagates a new object. It returns the object id, or ""
// when the object failed validation.
func (s *ConsistentStore) Create(ctx context.Context, tenantID string, obj *model.Object) (string, error) {
	ctx, err := s.enter(ctx, OpCreate, typeOf(obj))
	if err != nil {
		return "", err
	}
	return s.add(ctx, OpCreate, tenantID, obj)
}

// Update validates, persists and propagates an existing object
func (s *ConsistentStore) Update(ctx context.Context, tenantID string, obj *model.Object) error {
	ctx, err := s.enter(ctx, OpUpdate, typeOf(obj))
	if err != nil {
		return err
	}
	_, err = s.add(ctx, OpUpdate, tenantID, obj)
	return err
}

// Delete removes an object from the store, the index and the cache
func (s *ConsistentStore) Delete(ctx context.Context, tenantID string, obj *model.Object) error {
	if obj == nil {
		return nil
	}
	ctx, err := s.enter(ctx, OpDelete, obj.Type)
	if err != nil {
		return err
	}

	objs := []*model.Object{obj}
	if _, err := s.delegate(ctx, OpDelete, tenantID, obj.Type, objs, nil, func(ctx context.Context) (any, error) {
		return nil, s.inner.Delete(ctx, tenantID, obj)
	}); err != nil {
		return err
	}

	s.indexStage(ctx, OpDelete, tenantID, objs)
	s.cacheStage(ctx, OpDelete, tenantID, objs)
	return nil
}

// Read returns the object from the cache, falling back to the store and caching the result
func (s *ConsistentStore) Read(ctx context.Context, tenantID, id string) (*model.Object, error) {
	if id == "" {
		return nil, nil
	}

	if s.cfg.CacheEnabled {
		if obj := s.cacheGet(ctx, tenantID, id); obj != nil {
			return obj, nil
		}
	}

	var obj *model.Object
	if _, err := s.delegate(ctx, OpRead, tenantID, "", nil, []string{id}, func(ctx context.Context) (any, error) {
		var err error
		obj, err = s.inner.Read(ctx, tenantID, id)
		if obj == nil {
			return nil, err
		}
		return obj, err
	}); err != nil {
		return nil, err
	}

	if obj != nil && s.cfg.CacheEnabled && obj.IsCached() && obj.Propagatable() {
		s.cachePut(ctx, tenantID, obj)
	}
	return obj, nil
}

// CreateAll validates, persists and propagates a batch of new objects. Invalid objects
// are dropped from the batch.
func (s *ConsistentStore) CreateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	ctx, err := s.enter(ctx, OpCreateAll, batchType(objs))
	if err != nil {
		return err
	}
	return s.addAll(ctx, OpCreateAll, tenantID, objs)
}

// UpdateAll validates, persists and propagates a batch of existing objects
func (s *ConsistentStore) UpdateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	ctx, err := s.enter(ctx, OpUpdateAll, batchType(objs))
	if err != nil {
		return err
	}
	return s.addAll(ctx, OpUpdateAll, tenantID, objs)
}

// DeleteAll removes a batch from the store, the index and the cache
func (s *ConsistentStore) DeleteAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	if len(objs) == 0 {
		return nil
	}
	ctx, err := s.enter(ctx, OpDeleteAll, batchType(objs))
	if err != nil {
		return err
	}

	if _, err := s.delegate(ctx, OpDeleteAll, tenantID, batchType(objs), objs, nil, func(ctx context.Context) (any, error) {
		return nil, s.inner.DeleteAll(ctx, tenantID, objs)
	}); err != nil {
		return err
	}

	s.indexStage(ctx, OpDeleteAll, tenantID, objs)
	s.cacheStage(ctx, OpDeleteAll, tenantID, objs)
	return nil
}

// ReadAll returns the requested objects keyed by id, from the cache when every id hits and
// from a full store read otherwise. The result is never nil.
func (s *ConsistentStore) ReadAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	requested := dedupe(ids)
	if len(requested) == 0 {
		return make(map[string]*model.Object), nil
	}

	hits := make(map[string]*model.Object)
	if s.cfg.CacheEnabled {
		hits = s.cacheGetAll(ctx, tenantID, requested)
		if len(hits) >= len(requested) {
			return hits, nil
		}
	}

	var stored map[string]*model.Object
	if _, err := s.delegate(ctx, OpReadAll, tenantID, "", nil, requested, func(ctx context.Context) (any, error) {
		var err error
		stored, err = s.inner.ReadAll(ctx, tenantID, requested)
		return stored, err
	}); err != nil {
		return hits, err
	}
	if stored == nil {
		stored = make(map[string]*model.Object)
	}

	if s.cfg.CacheEnabled {
		missed := make(map[string]*model.Object)
		for id, obj := range stored {
			if _, hit := hits[id]; hit || obj == nil {
				continue
			}
			if obj.IsCached() && obj.Propagatable() {
				missed[id] = obj
			}
		}
		s.cachePutAll(ctx, tenantID, missed)
	}

	for id, obj := range hits {
		stored[id] = obj
	}
	return stored, nil
}

// ReadPage delegates a paged scan to the store without propagation
func (s *ConsistentStore) ReadPage(ctx context.Context, tenantID string, pager *model.Pager) ([]*model.Object, error) {
	var page []*model.Object
	_, err := s.delegate(ctx, OpReadPage, tenantID, "", nil, nil, func(ctx context.Context) (any, error) {
		var err error
		page, err = s.inner.ReadPage(ctx, tenantID, pager)
		return page, err
	})
	return page, err
}

// add implements the single object write path of Create and Update
func (s *ConsistentStore) add(ctx context.Context, op Operation, tenantID string, obj *model.Object) (string, error) {
	if !s.prepare(tenantID, obj) {
		return "", nil
	}
	if err := s.assignIdentity(obj); err != nil {
		return "", err
	}

	id := obj.ID
	if obj.IsStored() {
		_, err := s.delegate(ctx, op, tenantID, obj.Type, []*model.Object{obj}, nil, func(ctx context.Context) (any, error) {
			if op == OpCreate {
				var err error
				id, err = s.inner.Create(ctx, tenantID, obj)
				return id, err
			}
			return nil, s.inner.Update(ctx, tenantID, obj)
		})
		if err != nil {
			return "", err
		}
	}

	if obj.Version == model.VersionConflict {
		s.logger.Warn("Version conflict, skipping index and cache propagation",
			zap.String("tenant_id", tenantID),
			zap.String("operation", op.String()),
			zap.String("id", obj.ID))
		s.metrics.PropagationSkipped.WithLabelValues("version_conflict").Inc()
		return id, nil
	}

	objs := []*model.Object{obj}
	s.indexStage(ctx, op, tenantID, objs)
	s.cacheStage(ctx, op, tenantID, objs)
	return id, nil
}

// addAll implements the batch write path of CreateAll and UpdateAll.
//
// Objects with stored=false are split off before the store call and appended back onto
// the working list once indexing is done, so the cache stage receives every valid object.
func (s *ConsistentStore) addAll(ctx context.Context, op Operation, tenantID string, objs []*model.Object) error {
	working := make([]*model.Object, 0, len(objs))
	for _, obj := range objs {
		if obj == nil || !s.prepare(tenantID, obj) {
			continue
		}
		if err := s.assignIdentity(obj); err != nil {
			return err
		}
		working = append(working, obj)
	}
	if len(working) == 0 {
		return nil
	}

	var indexSink []*model.Object
	removed := validation.PartitionByPolicy(&working, &indexSink)

	if len(working) > 0 {
		_, err := s.delegate(ctx, op, tenantID, batchType(working), working, nil, func(ctx context.Context) (any, error) {
			if op == OpCreateAll {
				return nil, s.inner.CreateAll(ctx, tenantID, working)
			}
			return nil, s.inner.UpdateAll(ctx, tenantID, working)
		})
		if err != nil {
			return err
		}
	}

	s.indexStage(ctx, op, tenantID, indexSink)

	working = append(working, removed...)
	s.cacheStage(ctx, op, tenantID, working)
	return nil
}

// prepare validates and type-fixes an object, reporting whether it may be written
func (s *ConsistentStore) prepare(tenantID string, obj *model.Object) bool {
	if obj != nil && obj.TenantID == "" {
		obj.TenantID = tenantID
	}
	if violations := s.validator.ValidateObject(obj); len(violations) > 0 {
		fields := []zap.Field{
			zap.String("tenant_id", tenantID),
			zap.Strings("violations", violations),
		}
		if obj != nil {
			fields = append(fields, zap.String("id", obj.ID), zap.String("type", obj.Type))
		}
		s.logger.Warn("Object failed validation, skipping write", fields...)
		s.metrics.PropagationSkipped.WithLabelValues("invalid").Inc()
		return false
	}
	validation.CheckAndFixType(obj)
	return true
}

func (s *ConsistentStore) assignIdentity(obj *model.Object) error {
	if obj.ID == "" {
		if s.ids == nil {
			return errors.InternalError("no id generator configured", nil)
		}
		id, err := s.ids.NextID()
		if err != nil {
			s.logger.Error("Failed to generate object id", zap.Error(err))
			return err
		}
		s.metrics.IDsIssuedTotal.Inc()
		obj.ID = id
	}
	obj.Touch(s.now())
	return nil
}

// indexStage applies the index action of op
func (s *ConsistentStore) indexStage(ctx context.Context, op Operation, tenantID string, objs []*model.Object) {
	if !s.cfg.SearchEnabled || len(objs) == 0 {
		return
	}

	switch operationActions[op].Index {
	case IndexAdd:
		obj := objs[0]
		if !obj.IsIndexed() || !obj.Propagatable() {
			return
		}
		s.backendCall(tenantID, s.indexName, "index", func() error {
			return s.index.Index(ctx, tenantID, obj, 0)
		})

	case IndexRemove:
		s.backendCall(tenantID, s.indexName, "unindex", func() error {
			return s.index.Unindex(ctx, tenantID, objs[0])
		})

	case IndexAddAll:
		indexable := make([]*model.Object, 0, len(objs))
		for _, obj := range objs {
			if obj.Propagatable() {
				indexable = append(indexable, obj)
			}
		}
		if len(indexable) == 0 {
			s.logger.Warn("No indexable objects left after version filtering, skipping index",
				zap.String("tenant_id", tenantID),
				zap.String("operation", op.String()),
				zap.Int("candidates", len(objs)))
			s.metrics.PropagationSkipped.WithLabelValues("version_conflict").Inc()
			return
		}
		s.backendCall(tenantID, s.indexName, "index_all", func() error {
			return s.index.IndexAll(ctx, tenantID, indexable)
		})

	case IndexRemoveAll:
		s.backendCall(tenantID, s.indexName, "unindex_all", func() error {
			return s.index.UnindexAll(ctx, tenantID, objs)
		})
	}
}

// cacheStage applies the write-side cache action of op
func (s *ConsistentStore) cacheStage(ctx context.Context, op Operation, tenantID string, objs []*model.Object) {
	if !s.cfg.CacheEnabled || len(objs) == 0 {
		return
	}

	switch operationActions[op].Cache {
	case CachePut:
		if obj := objs[0]; obj.IsCached() && obj.Propagatable() {
			s.cachePut(ctx, tenantID, obj)
		}

	case CacheDelete:
		s.backendCall(tenantID, s.cacheName, "remove", func() error {
			return s.cache.Remove(ctx, tenantID, objs[0].ID)
		})

	case CachePutAll:
		batch := make(map[string]*model.Object, len(objs))
		for _, obj := range objs {
			if obj.IsCached() && obj.Propagatable() {
				batch[obj.ID] = obj
			}
		}
		s.cachePutAll(ctx, tenantID, batch)

	case CacheDeleteAll:
		ids := model.IDs(objs)
		s.backendCall(tenantID, s.cacheName, "remove_all", func() error {
			return s.cache.RemoveAll(ctx, tenantID, ids)
		})
	}
}

func (s *ConsistentStore) cacheGet(ctx context.Context, tenantID, id string) *model.Object {
	var obj *model.Object
	s.backendCall(tenantID, s.cacheName, "get", func() error {
		var err error
		obj, err = s.cache.Get(ctx, tenantID, id)
		return err
	})
	if obj != nil {
		s.metrics.CacheHitsTotal.WithLabelValues(tenantID).Inc()
	} else {
		s.metrics.CacheMissesTotal.WithLabelValues(tenantID).Inc()
	}
	return obj
}

func (s *ConsistentStore) cacheGetAll(ctx context.Context, tenantID string, ids []string) map[string]*model.Object {
	var hits map[string]*model.Object
	s.backendCall(tenantID, s.cacheName, "get_all", func() error {
		var err error
		hits, err = s.cache.GetAll(ctx, tenantID, ids)
		return err
	})
	if hits == nil {
		hits = make(map[string]*model.Object)
	}
	s.metrics.CacheHitsTotal.WithLabelValues(tenantID).Add(float64(len(hits)))
	s.metrics.CacheMissesTotal.WithLabelValues(tenantID).Add(float64(len(ids) - len(hits)))
	return hits
}

func (s *ConsistentStore) cachePut(ctx context.Context, tenantID string, obj *model.Object) {
	s.backendCall(tenantID, s.cacheName, "put", func() error {
		return s.cache.Put(ctx, tenantID, obj.ID, obj, s.cfg.CacheTTL)
	})
}

func (s *ConsistentStore) cachePutAll(ctx context.Context, tenantID string, objs map[string]*model.Object) {
	if len(objs) == 0 {
		return
	}
	s.backendCall(tenantID, s.cacheName, "put_all", func() error {
		return s.cache.PutAll(ctx, tenantID, objs, s.cfg.CacheTTL)
	})
}

// backendCall times an index or cache call and logs its failure
func (s *ConsistentStore) backendCall(tenantID, backend, operation string, fn func() error) {
	defer s.metrics.StartTimer(tenantID, backend, operation)()

	if err := fn(); err != nil {
		s.metrics.RecordError(tenantID, backend, operation)
		s.logger.Error("Backend call failed, continuing",
			zap.String("tenant_id", tenantID),
			zap.String("backend", backend),
			zap.String("operation", operation),
			zap.Error(err))
	}
}

// delegate runs a Store call between the listener hooks and under a metrics timer.
// Store errors are returned wrapped as backend failures.
// delegate runs one inner store call between the listener notifications. objs are the
// objects passed to the call; ids default to their ids when nil.
func (s *ConsistentStore) delegate(
	ctx context.Context,
	op Operation,
	tenantID, objType string,
	objs []*model.Object,
	ids []string,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	if ids == nil && objs != nil {
		ids = model.IDs(objs)
	}
	ev := Event{Operation: op, TenantID: tenantID, ObjectType: objType, IDs: ids, Objects: objs}
	s.notify(ctx, ev, true)

	start := s.now()
	result, err := func() (any, error) {
		defer s.metrics.StartTimer(tenantID, s.storeName, op.String())()
		return fn(ctx)
	}()

	ev.Duration = s.now().Sub(start)
	ev.Result = result
	if err != nil {
		s.metrics.RecordError(tenantID, s.storeName, op.String())
		s.logger.Error("Store call failed",
			zap.String("tenant_id", tenantID),
			zap.String("operation", op.String()),
			zap.Error(err))
		if !errors.IsObjectError(err) {
			err = errors.BackendFailure(s.storeName, op.String(), err)
		}
		ev.Err = err
	}

	s.notify(ctx, ev, false)
	return result, err
}

func (s *ConsistentStore) notify(ctx context.Context, ev Event, before bool) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, l := range listeners {
		s.safeNotify(ctx, l, ev, before)
	}
}

func (s *ConsistentStore) safeNotify(ctx context.Context, l Listener, ev Event, before bool) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ListenerPanics.Inc()
			s.logger.Error("Listener panic recovered",
				zap.String("operation", ev.Operation.String()),
				zap.Bool("before", before),
				zap.Any("panic", r))
		}
	}()

	if before {
		l.Before(ctx, ev)
	} else {
		l.After(ctx, ev)
	}
}

// enter runs the reentrancy guard for a write operation and returns the context to use
// for the rest of the call
func (s *ConsistentStore) enter(ctx context.Context, op Operation, objType string) (context.Context, error) {
	if op.IsRead() {
		return ctx, nil
	}
	if isIntercepted(ctx, op, objType) {
		s.metrics.ReentrantCalls.Inc()
		if s.cfg.Production {
			s.logger.Debug("Reentrant store call, proceeding",
				zap.String("operation", op.String()),
				zap.String("type", objType))
			return ctx, nil
		}
		return ctx, errors.Reentrant(op.String(), objType)
	}
	return withIntercept(ctx, op, objType), nil
}

func typeOf(obj *model.Object) string {
	if obj == nil {
		return ""
	}
	return obj.Type
}

// batchType names the types in a batch for guards and events
func batchType(objs []*model.Object) string {
	seen := make(map[string]struct{})
	var types []string
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		if _, ok := seen[obj.Type]; !ok {
			seen[obj.Type] = struct{}{}
			types = append(types, obj.Type)
		}
	}
	return strings.Join(types, ",")
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
