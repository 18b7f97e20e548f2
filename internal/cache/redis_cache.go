package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devrev/paracore/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache implements Cache on Redis string keys holding JSON snapshots
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	logger     *zap.Logger
}

// DialRedis connects to Redis and verifies the connection
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisCache creates a Redis cache. Keys are namespaced with prefix.
func NewRedisCache(client redis.UniversalClient, prefix string, defaultTTL time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Name returns the backend name
func (c *RedisCache) Name() string {
	return "redis"
}

func (c *RedisCache) key(tenantID, id string) string {
	return c.prefix + Key(tenantID, id)
}

func (c *RedisCache) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get returns the cached object or nil on a miss
func (c *RedisCache) Get(ctx context.Context, tenantID, id string) (*model.Object, error) {
	data, err := c.client.Get(ctx, c.key(tenantID, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var obj model.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &obj, nil
}

// Put stores the object with the given ttl
func (c *RedisCache) Put(ctx context.Context, tenantID, id string, obj *model.Object, ttl time.Duration) error {
	if obj == nil || id == "" {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.client.Set(ctx, c.key(tenantID, id), data, c.ttl(ttl)).Err()
}

// Remove evicts an entry
func (c *RedisCache) Remove(ctx context.Context, tenantID, id string) error {
	return c.client.Del(ctx, c.key(tenantID, id)).Err()
}

// GetAll fetches a batch with a single MGET
func (c *RedisCache) GetAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	result := make(map[string]*model.Object, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(tenantID, id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return result, fmt.Errorf("failed to get cache entries: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var obj model.Object
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			c.logger.Warn("Dropping undecodable cache entry",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		result[ids[i]] = &obj
	}
	return result, nil
}

// PutAll writes a batch in one pipeline
func (c *RedisCache) PutAll(ctx context.Context, tenantID string, objs map[string]*model.Object, ttl time.Duration) error {
	if len(objs) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for id, obj := range objs {
		if obj == nil || id == "" {
			continue
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}
		pipe.Set(ctx, c.key(tenantID, id), data, c.ttl(ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put cache entries: %w", err)
	}
	return nil
}

// RemoveAll evicts a batch
func (c *RedisCache) RemoveAll(ctx context.Context, tenantID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(tenantID, id)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Contains reports whether the entry exists
func (c *RedisCache) Contains(ctx context.Context, tenantID, id string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(tenantID, id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
