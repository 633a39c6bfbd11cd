// Package background runs best-effort side effects, such as audit writes,
// off the request path.
package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Flush after the queue has been closed.
var ErrClosed = errors.New("background: queue closed")

// Task is a unit of background work. The context is cancelled when the
// task's timeout elapses or the queue is force-stopped.
type Task func(ctx context.Context) error

// ErrorHandler receives task failures. The default logs at warn level.
type ErrorHandler func(name string, err error)

// Config tunes the queue.
type Config struct {
	Size        int           // buffered tasks before Submit drops (default 256)
	Workers     int           // concurrent tasks (default 2)
	TaskTimeout time.Duration // per-task deadline (default 10s)
	OnError     ErrorHandler
}

type job struct {
	name string
	fn   Task
}

// Queue is a bounded worker queue. Submit never blocks.
type Queue struct {
	cfg    Config
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
}

// New starts a queue with cfg.Workers workers.
func New(cfg Config) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}
	if cfg.OnError == nil {
		cfg.OnError = func(name string, err error) {
			slog.Warn("background: task failed", "task", name, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		jobs:   make(chan job, cfg.Size),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues fn. It returns false, and logs, when the queue is full or
// closed; the caller's request is never held up.
func (q *Queue) Submit(name string, fn Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		slog.Warn("background: dropping task after close", "task", name)
		return false
	}

	q.pending.Add(1)
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		q.pending.Done()
		slog.Warn("background: queue full, dropping task", "task", name, "size", q.cfg.Size)
		return false
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background: task panicked", "task", j.name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.TaskTimeout)
	defer cancel()
	if err := j.fn(ctx); err != nil {
		q.cfg.OnError(j.name, err)
	}
}

// Flush waits until every submitted task has finished or ctx is done.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and drains what is queued, bounded by ctx.
// Tasks still running when ctx ends are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	err := q.Flush(ctx)
	if err != nil {
		q.cancel()
		slog.Warn("background: shutdown deadline reached, cancelling tasks", "error", err)
	}
	q.workers.Wait()
	q.cancel()
	return err
}
