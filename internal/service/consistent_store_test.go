package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/devrev/paracore/internal/cache"
	"github.com/devrev/paracore/internal/errors"
	"github.com/devrev/paracore/internal/metrics"
	"github.com/devrev/paracore/internal/model"
	"github.com/devrev/paracore/internal/search"
	"github.com/devrev/paracore/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tenant = "t1"

type fixture struct {
	svc   *ConsistentStore
	store *store.MemoryStore
	index *search.MemoryIndex
	cache *cache.MemoryCache
	m     *metrics.Metrics
	ids   *sequenceIDs
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(zap.NewNop()),
		index: search.NewMemoryIndex(zap.NewNop()),
		cache: cache.NewMemoryCache(0, 0, zap.NewNop()),
		m:     metrics.NewNopMetrics(),
		ids:   &sequenceIDs{},
	}
	t.Cleanup(func() { _ = f.cache.Close() })
	f.svc = NewConsistentStore(f.store, f.index, f.cache, f.ids, nil, f.m, cfg, zap.NewNop())
	return f
}

func enabled() Config {
	return Config{SearchEnabled: true, CacheEnabled: true}
}

// presence reports whether the object is in the store, the index and the cache
func (f *fixture) presence(t *testing.T, id string) (stored, indexed, cached bool) {
	t.Helper()
	ctx := context.Background()
	s, err := f.store.Read(ctx, tenant, id)
	require.NoError(t, err)
	i, err := f.index.FindByID(ctx, tenant, id)
	require.NoError(t, err)
	c, err := f.cache.Get(ctx, tenant, id)
	require.NoError(t, err)
	return s != nil, i != nil, c != nil
}

func sysprop(name string) *model.Object {
	obj := model.NewObject(tenant, model.TypeSysprop)
	obj.Name = name
	return obj
}

func TestActionTable(t *testing.T) {
	tests := []struct {
		op   Operation
		want Actions
	}{
		{OpCreate, Actions{IndexAdd, CachePut}},
		{OpRead, Actions{IndexNone, CacheGet}},
		{OpUpdate, Actions{IndexAdd, CachePut}},
		{OpDelete, Actions{IndexRemove, CacheDelete}},
		{OpCreateAll, Actions{IndexAddAll, CachePutAll}},
		{OpReadAll, Actions{IndexNone, CacheGetAll}},
		{OpUpdateAll, Actions{IndexAddAll, CachePutAll}},
		{OpDeleteAll, Actions{IndexRemoveAll, CacheDeleteAll}},
		{OpReadPage, Actions{IndexNone, CacheNone}},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ActionsFor(tt.op))
		})
	}
}

func TestCreateDelete_PropagatesEverywhere(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	obj := sysprop("everywhere")
	obj.SetProperty("color", "red")
	id, err := f.svc.Create(ctx, tenant, obj)
	require.NoError(t, err)
	assert.Equal(t, "gen-1", id)
	assert.NotZero(t, obj.Timestamp)

	s, i, c := f.presence(t, id)
	assert.True(t, s)
	assert.True(t, i)
	assert.True(t, c)

	require.NoError(t, f.svc.Delete(ctx, tenant, obj))
	s, i, c = f.presence(t, id)
	assert.False(t, s)
	assert.False(t, i)
	assert.False(t, c)
}

func TestCreate_PolicyFlags(t *testing.T) {
	tests := []struct {
		name                    string
		stored, indexed, cached bool
		wantS, wantI, wantC     bool
	}{
		{"not stored but indexed", false, true, true, false, true, true},
		{"not indexed not cached", true, false, false, true, false, false},
		{"not cached", true, true, false, true, true, false},
		{"nowhere", false, false, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, enabled())
			obj := sysprop(tt.name)
			obj.SetStored(tt.stored).SetIndexed(tt.indexed).SetCached(tt.cached)

			id, err := f.svc.Create(context.Background(), tenant, obj)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			s, i, c := f.presence(t, id)
			assert.Equal(t, tt.wantS, s, "stored")
			assert.Equal(t, tt.wantI, i, "indexed")
			assert.Equal(t, tt.wantC, c, "cached")
		})
	}
}

func TestNotCached_AbsentAfterCreateAndDelete(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	obj := sysprop("uncached").SetCached(false)

	id, err := f.svc.Create(ctx, tenant, obj)
	require.NoError(t, err)
	_, _, c := f.presence(t, id)
	assert.False(t, c)

	// a read must not populate the cache either
	got, err := f.svc.Read(ctx, tenant, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	_, _, c = f.presence(t, id)
	assert.False(t, c)

	require.NoError(t, f.svc.Delete(ctx, tenant, obj))
	_, _, c = f.presence(t, id)
	assert.False(t, c)
}

func TestCreateAll_RestoresUnstoredObjectsForCache(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	transient := sysprop("transient").SetStored(false)
	batch := []*model.Object{sysprop("a"), transient, sysprop("b")}
	require.NoError(t, f.svc.CreateAll(ctx, tenant, batch))

	s, i, c := f.presence(t, transient.ID)
	assert.False(t, s)
	assert.True(t, i)
	assert.True(t, c)

	for _, obj := range []*model.Object{batch[0], batch[2]} {
		s, i, c := f.presence(t, obj.ID)
		assert.True(t, s)
		assert.True(t, i)
		assert.True(t, c)
	}
}

func TestCreateAll_DropsInvalidObjects(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	invalid := model.NewObject(tenant, model.TypeVote) // missing "value"
	valid := sysprop("ok")
	require.NoError(t, f.svc.CreateAll(ctx, tenant, []*model.Object{invalid, valid, nil}))

	assert.Empty(t, invalid.ID)
	s, _, _ := f.presence(t, valid.ID)
	assert.True(t, s)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.PropagationSkipped.WithLabelValues("invalid")))
}

func TestUpdateAll_SkipsIndexWhenEveryVersionConflicts(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	obj := sysprop("locked")
	obj.Version = 1
	_, err := f.svc.Create(ctx, tenant, obj)
	require.NoError(t, err)

	stale := obj.Clone()
	stale.Version = 7
	stale.Name = "stale"
	require.NoError(t, f.svc.UpdateAll(ctx, tenant, []*model.Object{stale}))
	assert.Equal(t, model.VersionConflict, stale.Version)

	indexed, err := f.index.FindByID(ctx, tenant, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "locked", indexed.Name)
	cached, err := f.cache.Get(ctx, tenant, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "locked", cached.Name)
}

func TestReadAll_DeletedIDsReturnEmptyMap(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	objs := []*model.Object{sysprop("x"), sysprop("y")}
	require.NoError(t, f.svc.CreateAll(ctx, tenant, objs))
	require.NoError(t, f.svc.DeleteAll(ctx, tenant, objs))

	found, err := f.svc.ReadAll(ctx, tenant, model.IDs(objs))
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	for _, obj := range objs {
		s, i, c := f.presence(t, obj.ID)
		assert.False(t, s || i || c)
	}

	empty, err := f.svc.ReadAll(ctx, tenant, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestEndToEnd_Tag(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	tag := model.NewTag(tenant, "tag1")
	id, err := f.svc.Create(ctx, tenant, tag)
	require.NoError(t, err)
	assert.Equal(t, "tag:tag1", id)

	s, i, c := f.presence(t, id)
	assert.True(t, s)
	assert.True(t, i)
	assert.True(t, c)

	require.NoError(t, f.svc.Delete(ctx, tenant, tag))
	s, i, c = f.presence(t, id)
	assert.False(t, s)
	assert.False(t, i)
	assert.False(t, c)
}

func TestEndToEnd_IndexOnlyObjectKeepsCustomProperty(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	obj := sysprop("index-only")
	obj.SetStored(false).SetCached(false).SetIndexed(true)
	obj.SetProperty("custom", "value-42")

	id, err := f.svc.Create(ctx, tenant, obj)
	require.NoError(t, err)

	found, err := f.index.FindByIDs(ctx, tenant, []string{id})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "value-42", found[0].Properties["custom"])

	s, _, c := f.presence(t, id)
	assert.False(t, s)
	assert.False(t, c)
}

func TestCreate_InvalidObjectIsSkipped(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	obj := model.NewObject(tenant, model.TypeAddress) // missing address and country
	id, err := f.svc.Create(ctx, tenant, obj)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, obj.ID)

	n, _ := f.index.GetCount(ctx, tenant, "")
	assert.Zero(t, n)
	assert.Zero(t, f.cache.Len())

	id, err = f.svc.Create(ctx, tenant, nil)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCreate_FixesType(t *testing.T) {
	f := newFixture(t, enabled())
	obj := model.NewObject(tenant, "__my/type#")
	id, err := f.svc.Create(context.Background(), tenant, obj)
	require.NoError(t, err)

	got, err := f.store.Read(context.Background(), tenant, id)
	require.NoError(t, err)
	assert.Equal(t, "mytype", got.Type)
}

func TestCreate_IDGeneratorFailureStoresNothing(t *testing.T) {
	f := newFixture(t, enabled())
	f.ids.err = errors.ClockMovedBackwards(20, 10)

	id, err := f.svc.Create(context.Background(), tenant, sysprop("no-id"))
	assert.ErrorIs(t, err, errors.ErrClockMovedBackwards)
	assert.Empty(t, id)

	page, err := f.store.ReadPage(context.Background(), tenant, nil)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestUpdate_VersionConflictSkipsPropagation(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	obj := sysprop("v1")
	obj.Version = 1
	id, err := f.svc.Create(ctx, tenant, obj)
	require.NoError(t, err)

	fresh := obj.Clone()
	fresh.Name = "v2"
	require.NoError(t, f.svc.Update(ctx, tenant, fresh))
	assert.Equal(t, int64(2), fresh.Version)

	stale := obj.Clone()
	stale.Version = 1
	stale.Name = "stale"
	require.NoError(t, f.svc.Update(ctx, tenant, stale))
	assert.Equal(t, model.VersionConflict, stale.Version)

	cached, err := f.cache.Get(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", cached.Name)
	indexed, err := f.index.FindByID(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", indexed.Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.PropagationSkipped.WithLabelValues("version_conflict")))
}

func TestRead_CacheHitSkipsStore(t *testing.T) {
	ms := new(MockStore)
	c := cache.NewMemoryCache(0, 0, nil)
	defer c.Close()
	svc := NewConsistentStore(ms, nil, c, &sequenceIDs{}, nil, nil, enabled(), nil)

	obj := sysprop("hot")
	obj.ID = "hot"
	require.NoError(t, c.Put(context.Background(), tenant, "hot", obj, 0))

	got, err := svc.Read(context.Background(), tenant, "hot")
	require.NoError(t, err)
	assert.Equal(t, "hot", got.Name)
	ms.AssertNotCalled(t, "Read", mock.Anything, mock.Anything, mock.Anything)
}

func TestRead_MissPopulatesCache(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()

	obj := sysprop("cold")
	obj.ID = "cold"
	_, err := f.store.Create(ctx, tenant, obj)
	require.NoError(t, err)

	got, err := f.svc.Read(ctx, tenant, "cold")
	require.NoError(t, err)
	require.NotNil(t, got)
	_, _, c := f.presence(t, "cold")
	assert.True(t, c)

	missing, err := f.svc.Read(ctx, tenant, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	none, err := f.svc.Read(ctx, tenant, "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReadAll_PartialHitRereadsAndWritesThrough(t *testing.T) {
	ms := new(MockStore)
	c := cache.NewMemoryCache(0, 0, nil)
	defer c.Close()
	svc := NewConsistentStore(ms, nil, c, &sequenceIDs{}, nil, nil, enabled(), nil)
	ctx := context.Background()

	cachedA := sysprop("cached-a")
	cachedA.ID = "a"
	require.NoError(t, c.Put(ctx, tenant, "a", cachedA, 0))

	storedA := sysprop("stored-a")
	storedA.ID = "a"
	storedB := sysprop("stored-b")
	storedB.ID = "b"
	ms.On("ReadAll", mock.Anything, tenant, []string{"a", "b", "c"}).
		Return(map[string]*model.Object{"a": storedA, "b": storedB}, nil)

	found, err := svc.ReadAll(ctx, tenant, []string{"a", "b", "c", "a"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "cached-a", found["a"].Name)
	assert.Equal(t, "stored-b", found["b"].Name)

	ok, _ := c.Contains(ctx, tenant, "b")
	assert.True(t, ok)
	ms.AssertExpectations(t)
}

func TestReadAll_FullHitSkipsStore(t *testing.T) {
	ms := new(MockStore)
	c := cache.NewMemoryCache(0, 0, nil)
	defer c.Close()
	svc := NewConsistentStore(ms, nil, c, &sequenceIDs{}, nil, nil, enabled(), nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		obj := sysprop(id)
		obj.ID = id
		require.NoError(t, c.Put(ctx, tenant, id, obj, 0))
	}

	found, err := svc.ReadAll(ctx, tenant, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	ms.AssertNotCalled(t, "ReadAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate_StoreFailureIsReturned(t *testing.T) {
	ms := new(MockStore)
	idx := search.NewMemoryIndex(nil)
	m := metrics.NewNopMetrics()
	svc := NewConsistentStore(ms, idx, nil, &sequenceIDs{}, nil, m, enabled(), nil)
	ms.On("Create", mock.Anything, tenant, mock.Anything).Return("", stderrors.New("disk full"))

	id, err := svc.Create(context.Background(), tenant, sysprop("fail"))
	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, errors.ErrBackendFailure)
	assert.Equal(t, errors.ErrCodeBackendFailure, errors.GetCode(err))

	n, _ := idx.GetCount(context.Background(), tenant, "")
	assert.Zero(t, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendCallErrors.WithLabelValues(tenant, "store."+store.BackendName(ms), "create")))
}

func TestCreate_CacheFailureIsSwallowed(t *testing.T) {
	st := store.NewMemoryStore(nil)
	mc := new(MockCache)
	m := metrics.NewNopMetrics()
	svc := NewConsistentStore(st, nil, mc, &sequenceIDs{}, nil, m, Config{CacheEnabled: true, CacheTTL: time.Minute}, nil)
	mc.On("Put", mock.Anything, tenant, "gen-1", mock.Anything, time.Minute).Return(stderrors.New("redis down"))

	id, err := svc.Create(context.Background(), tenant, sysprop("survives"))
	require.NoError(t, err)

	got, err := st.Read(context.Background(), tenant, id)
	require.NoError(t, err)
	assert.NotNil(t, got)
	mc.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendCallErrors.WithLabelValues(tenant, "cache."+store.BackendName(mc), "put")))
}

func TestSearchDisabled_LeavesIndexUntouched(t *testing.T) {
	f := newFixture(t, Config{CacheEnabled: true})
	id, err := f.svc.Create(context.Background(), tenant, sysprop("quiet"))
	require.NoError(t, err)

	s, i, c := f.presence(t, id)
	assert.True(t, s)
	assert.False(t, i)
	assert.True(t, c)
}

type recordingListener struct {
	before []Event
	after  []Event
}

func (l *recordingListener) Before(ctx context.Context, ev Event) { l.before = append(l.before, ev) }
func (l *recordingListener) After(ctx context.Context, ev Event) { l.after = append(l.after, ev) }

func TestListeners_ObserveStoreCalls(t *testing.T) {
	f := newFixture(t, enabled())
	rec := &recordingListener{}
	f.svc.AddListener(ListenerFuncs{BeforeFn: func(context.Context, Event) { panic("listener bug") }})
	f.svc.AddListener(rec)

	ctx := context.Background()
	obj := sysprop("observed")
	id, err := f.svc.Create(ctx, tenant, obj)
	require.NoError(t, err)

	require.Len(t, rec.before, 1)
	require.Len(t, rec.after, 1)
	assert.Equal(t, OpCreate, rec.before[0].Operation)
	assert.Equal(t, []*model.Object{obj}, rec.before[0].Objects)
	assert.Nil(t, rec.before[0].Result)
	assert.Equal(t, []string{id}, rec.after[0].IDs)
	assert.Equal(t, id, rec.after[0].Result)
	assert.NoError(t, rec.after[0].Err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ListenerPanics))

	require.NoError(t, f.cache.Remove(ctx, tenant, id))
	read, err := f.svc.Read(ctx, tenant, id)
	require.NoError(t, err)
	require.Len(t, rec.after, 2)
	assert.Equal(t, OpRead, rec.after[1].Operation)
	assert.Equal(t, read, rec.after[1].Result)

	require.NoError(t, f.cache.Remove(ctx, tenant, id))
	all, err := f.svc.ReadAll(ctx, tenant, []string{id, "missing"})
	require.NoError(t, err)
	require.Len(t, rec.after, 3)
	assert.Equal(t, OpReadAll, rec.after[2].Operation)
	assert.Equal(t, all, rec.after[2].Result)

	_, err = f.svc.Read(ctx, tenant, "missing")
	require.NoError(t, err)
	require.Len(t, rec.after, 4)
	assert.Nil(t, rec.after[3].Result)

	require.NoError(t, f.svc.Delete(ctx, tenant, read))
	require.Len(t, rec.after, 5)
	assert.Equal(t, OpDelete, rec.after[4].Operation)
	assert.Equal(t, []*model.Object{read}, rec.after[4].Objects)
	assert.Nil(t, rec.after[4].Result)
}

func TestReentrantCall(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		wantNested bool
	}{
		{"rejected outside production", false, false},
		{"proceeds in production", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabled()
			cfg.Production = tt.production
			f := newFixture(t, cfg)

			var nestedErr error
			nested := false
			f.svc.AddListener(ListenerFuncs{BeforeFn: func(ctx context.Context, ev Event) {
				if ev.Operation != OpCreate || nested {
					return
				}
				nested = true
				_, nestedErr = f.svc.Create(ctx, tenant, sysprop("nested"))
			}})

			_, err := f.svc.Create(context.Background(), tenant, sysprop("outer"))
			require.NoError(t, err)

			n, _ := f.index.GetCount(context.Background(), tenant, "")
			if tt.wantNested {
				assert.NoError(t, nestedErr)
				assert.Equal(t, int64(2), n)
			} else {
				assert.ErrorIs(t, nestedErr, errors.ErrReentrantCall)
				assert.Equal(t, int64(1), n)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ReentrantCalls))
		})
	}
}

func TestReentrancy_DifferentTypeIsAllowed(t *testing.T) {
	f := newFixture(t, enabled())
	var nestedErr error
	nested := false
	f.svc.AddListener(ListenerFuncs{BeforeFn: func(ctx context.Context, ev Event) {
		if ev.ObjectType != model.TypeSysprop || nested {
			return
		}
		nested = true
		_, nestedErr = f.svc.Create(ctx, tenant, model.NewTag(tenant, "side-effect"))
	}})

	_, err := f.svc.Create(context.Background(), tenant, sysprop("outer"))
	require.NoError(t, err)
	assert.NoError(t, nestedErr)
}

func TestReadPage_PassesThrough(t *testing.T) {
	f := newFixture(t, enabled())
	ctx := context.Background()
	require.NoError(t, f.svc.CreateAll(ctx, tenant, []*model.Object{sysprop("1"), sysprop("2"), sysprop("3")}))

	pager := model.NewPager(2)
	page, err := f.svc.ReadPage(ctx, tenant, pager)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, int64(3), pager.Count)
}

func TestDelete_IgnoresPolicyFlags(t *testing.T) {
	tests := []struct {
		name   string
		remove func(f *fixture, objs []*model.Object) error
	}{
		{"delete", func(f *fixture, objs []*model.Object) error {
			for _, obj := range objs {
				if err := f.svc.Delete(context.Background(), tenant, obj); err != nil {
					return err
				}
			}
			return nil
		}},
		{"delete all", func(f *fixture, objs []*model.Object) error {
			return f.svc.DeleteAll(context.Background(), tenant, objs)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, enabled())

			var victims []*model.Object
			for _, name := range []string{"a", "b"} {
				id, err := f.svc.Create(context.Background(), tenant, sysprop(name))
				require.NoError(t, err)
				stored, indexed, cached := f.presence(t, id)
				require.True(t, stored && indexed && cached)

				victim := sysprop(name)
				victim.ID = id
				victim.SetStored(false).SetIndexed(false).SetCached(false)
				victims = append(victims, victim)
			}

			require.NoError(t, tt.remove(f, victims))

			for _, v := range victims {
				stored, indexed, cached := f.presence(t, v.ID)
				assert.False(t, stored, "store still holds %s", v.ID)
				assert.False(t, indexed, "index still holds %s", v.ID)
				assert.False(t, cached, "cache still holds %s", v.ID)
			}
		})
	}
}
