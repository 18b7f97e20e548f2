package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue is a FIFO on a Redis list: LPUSH to enqueue, RPOP to dequeue
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	logger *zap.Logger
}

// NewRedisQueue creates a queue on the list stored at key
func NewRedisQueue(client redis.UniversalClient, key string, logger *zap.Logger) *RedisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Name returns the backend name
func (q *RedisQueue) Name() string {
	return "redis"
}

// Push enqueues a message
func (q *RedisQueue) Push(ctx context.Context, msg string) error {
	if msg == "" {
		return nil
	}
	if err := q.client.LPush(ctx, q.key, msg).Err(); err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	return nil
}

// Pull dequeues the oldest message or returns ""
func (q *RedisQueue) Pull(ctx context.Context) (string, error) {
	msg, err := q.client.RPop(ctx, q.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to pull message: %w", err)
	}
	return msg, nil
}

// StartPolling is a no-op; Redis lists are pulled on demand
func (q *RedisQueue) StartPolling(ctx context.Context) error {
	return nil
}

// StopPolling is a no-op
func (q *RedisQueue) StopPolling() error {
	return nil
}

// Ping checks the Redis connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
