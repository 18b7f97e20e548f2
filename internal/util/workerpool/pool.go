// Package workerpool runs tasks on a fixed set of goroutines behind a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when submitting to a stopped pool
var ErrStopped = errors.New("worker pool is stopped")

// ErrQueueFull is returned by TrySubmit when the queue has no free slot
var ErrQueueFull = errors.New("worker pool queue is full")

// Task is a unit of work. Run receives the pool context, which is cancelled when
// Stop gives up waiting.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
}

// Result describes a finished task
type Result struct {
	TaskID   string
	Err      error
	Duration time.Duration
}

// Config holds worker pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
	// OnDone is called from the worker goroutine after every task
	OnDone func(Result)
}

// Pool executes submitted tasks; queued tasks are drained on Stop
type Pool struct {
	name   string
	tasks  chan Task
	onDone func(Result)
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	active    atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New creates and starts a pool
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   cfg.Name,
		tasks:  make(chan Task, cfg.QueueSize),
		onDone: cfg.OnDone,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(id, task)
	}
}

func (p *Pool) execute(workerID int, task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeRun(task)
	res := Result{TaskID: task.ID, Err: err, Duration: time.Since(start)}

	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
	} else {
		p.completed.Add(1)
	}

	if p.onDone != nil {
		p.onDone(res)
	}
}

func (p *Pool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(p.ctx)
}

// Submit enqueues a task, blocking until a slot frees up or ctx is done
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// TrySubmit enqueues a task without blocking
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Stop refuses new tasks and waits up to timeout for queued and running tasks.
// On timeout the pool context is cancelled.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.cancel()
	select {
	case <-done:
		p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		return nil
	case <-time.After(timeout):
		p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		return fmt.Errorf("worker pool %q stop timeout after %v", p.name, timeout)
	}
}

// Stats is a snapshot of pool counters
type Stats struct {
	Name      string
	Active    int
	Queued    int
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Active:    int(p.active.Load()),
		Queued:    len(p.tasks),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
