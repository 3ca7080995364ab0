package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Memory is a buffered-channel queue drained by a fixed worker pool.
// Tasks are lost when the process exits.
type Memory struct {
	logger  *slog.Logger
	workers int

	ch      chan Task
	done    chan struct{}
	wg      sync.WaitGroup
	senders sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	started bool
}

var _ Queue = (*Memory)(nil)

// Option configures a Memory queue.
type Option func(*Memory)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(q *Memory) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets the channel buffer.
func WithQueueSize(n int) Option {
	return func(q *Memory) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

// NewMemory creates a queue. Workers start with Start.
func NewMemory(logger *slog.Logger, opts ...Option) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Memory{
		logger:  logger,
		workers: 4,
		ch:      make(chan Task, 256),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the workers. Calling it twice is an error.
func (q *Memory) Start(handler Handler) error {
	if handler == nil {
		return errors.New("start queue: nil handler")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("start queue: already started")
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			q.logger.Debug("worker started", "worker_id", workerID)

			for task := range q.ch {
				q.run(workerID, handler, task)
			}

			q.logger.Debug("worker stopped", "worker_id", workerID)
		}(i + 1)
	}
	return nil
}

// run gives the handler a context with no deadline.
func (q *Memory) run(workerID int, handler Handler, task Task) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "worker_id", workerID, "job_id", task.JobID, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	if err := handler(ctx, task); err != nil {
		q.logger.Error("task failed", "worker_id", workerID, "job_id", task.JobID, "error", err)
		return
	}
	q.logger.Info("task done", "worker_id", workerID, "job_id", task.JobID,
		"duration_ms", time.Since(start).Milliseconds())
}

// Enqueue adds a task, blocking while the buffer is full until ctx ends
// or the queue shuts down.
func (q *Memory) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue job %s: %w", task.JobID, ErrClosed)
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.ch <- task:
		q.logger.Debug("queued task", "job_id", task.JobID, "files", len(task.Files))
		return nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "job_id", task.JobID)
	select {
	case q.ch <- task:
		return nil
	case <-q.done:
		return fmt.Errorf("enqueue job %s: %w", task.JobID, ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue job %s: %w", task.JobID, ctx.Err())
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or
// ctx to end.
func (q *Memory) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	// Blocked senders see done and return, then the channel can close
	q.senders.Wait()
	close(q.ch)

	finished := make(chan struct{})
	go func() { defer close(finished); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		return ctx.Err()
	case <-finished:
		q.logger.Info("queue drained, shutdown complete")
		return nil
	}
}
