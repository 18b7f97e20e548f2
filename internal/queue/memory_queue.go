package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an unbounded in-process FIFO
type MemoryQueue struct {
	mu    sync.Mutex
	items []string
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Name returns the backend name
func (q *MemoryQueue) Name() string {
	return "memory"
}

// Push appends a message; empty messages are ignored
func (q *MemoryQueue) Push(ctx context.Context, msg string) error {
	if msg == "" {
		return nil
	}
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	return nil
}

// Pull pops the oldest message or returns ""
func (q *MemoryQueue) Pull(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", nil
	}
	msg := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return msg, nil
}

// Len returns the number of queued messages
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// StartPolling is a no-op
func (q *MemoryQueue) StartPolling(ctx context.Context) error {
	return nil
}

// StopPolling is a no-op
func (q *MemoryQueue) StopPolling() error {
	return nil
}
