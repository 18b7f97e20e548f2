// Package queue defines the message queue contract consumed by rivers and its backends.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Queue carries opaque string messages. Pull never blocks for long and returns "" when
// no message is available. Backends that consume asynchronously start their receive loop
// in StartPolling and buffer messages for Pull.
type Queue interface {
	Push(ctx context.Context, msg string) error
	Pull(ctx context.Context) (string, error)
	StartPolling(ctx context.Context) error
	StopPolling() error
}

// DefaultBufferSize bounds the messages a polling backend holds before Pull drains them
const DefaultBufferSize = 1000

// poller runs a fetch loop into a buffered channel until stopped
type poller[T any] struct {
	mu      sync.Mutex
	buffer  chan T
	cancel  context.CancelFunc
	done    chan struct{}
	backoff time.Duration
	logger  *zap.Logger
}

func newPoller[T any](size int, backoff time.Duration, logger *zap.Logger) *poller[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &poller[T]{buffer: make(chan T, size), backoff: backoff, logger: logger}
}

// start launches fetch in a loop; calling start twice is a no-op
func (p *poller[T]) start(ctx context.Context, fetch func(ctx context.Context) ([]T, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for {
			if ctx.Err() != nil {
				return
			}
			msgs, err := fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("Failed to receive messages", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.backoff):
				}
				continue
			}
			for _, m := range msgs {
				select {
				case p.buffer <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}(p.done)
}

// stop cancels the loop and waits for it to exit
func (p *poller[T]) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *poller[T]) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// next returns a buffered message without blocking
func (p *poller[T]) next() (T, bool) {
	select {
	case m := <-p.buffer:
		return m, true
	default:
		var zero T
		return zero, false
	}
}
