package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/devrev/paracore/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func caches(t *testing.T) (map[string]Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc := NewRedisCache(client, "paracore:", 0, zap.NewNop())
	t.Cleanup(func() { _ = rc.Close() })

	mc := NewMemoryCache(100, 0, zap.NewNop())
	t.Cleanup(func() { _ = mc.Close() })

	return map[string]Cache{"memory": mc, "redis": rc}, mr
}

func cachedObj(id string) *model.Object {
	obj := model.NewObject("t1", model.TypeSysprop)
	obj.ID = id
	obj.Name = "obj-" + id
	return obj
}

func TestCache_GetPutRemove(t *testing.T) {
	all, _ := caches(t)
	for name, c := range all {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := c.Get(ctx, "t1", "a")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, c.Put(ctx, "t1", "a", cachedObj("a"), 0))
			got, err = c.Get(ctx, "t1", "a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "obj-a", got.Name)

			ok, err := c.Contains(ctx, "t1", "a")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.Contains(ctx, "t2", "a")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Remove(ctx, "t1", "a"))
			got, err = c.Get(ctx, "t1", "a")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestCache_Batch(t *testing.T) {
	all, _ := caches(t)
	for name, c := range all {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			objs := map[string]*model.Object{
				"b1": cachedObj("b1"),
				"b2": cachedObj("b2"),
			}
			require.NoError(t, c.PutAll(ctx, "t1", objs, 0))

			hits, err := c.GetAll(ctx, "t1", []string{"b1", "b2", "b3"})
			require.NoError(t, err)
			assert.Len(t, hits, 2)
			assert.Equal(t, "obj-b2", hits["b2"].Name)

			require.NoError(t, c.RemoveAll(ctx, "t1", []string{"b1"}))
			hits, err = c.GetAll(ctx, "t1", []string{"b1", "b2"})
			require.NoError(t, err)
			assert.Len(t, hits, 1)

			empty, err := c.GetAll(ctx, "t1", nil)
			require.NoError(t, err)
			assert.NotNil(t, empty)
		})
	}
}

func TestRedisCache_TTL(t *testing.T) {
	all, mr := caches(t)
	c := all["redis"]
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "t1", "ttl", cachedObj("ttl"), time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("paracore:t1:ttl"))

	mr.FastForward(2 * time.Minute)
	got, err := c.Get(ctx, "t1", "ttl")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache(0, 0, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "t1", "x", cachedObj("x"), 20*time.Millisecond))
	ok, _ := c.Contains(ctx, "t1", "x")
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		got, _ := c.Get(ctx, "t1", "x")
		return got == nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_Capacity(t *testing.T) {
	c := NewMemoryCache(2, 0, nil)
	defer c.Close()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(ctx, "t1", id, cachedObj(id), 0))
	}
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c := NewMemoryCache(0, 0, nil)
	defer c.Close()
	ctx := context.Background()

	obj := cachedObj("c")
	require.NoError(t, c.Put(ctx, "t1", "c", obj, 0))
	obj.Name = "mutated"

	got, err := c.Get(ctx, "t1", "c")
	require.NoError(t, err)
	assert.Equal(t, "obj-c", got.Name)
}
