package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/medstore/internal/metrics"
)

type cleanupTask struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
}

// CleanupQueue runs rollbacks off the request path. Submitted work outlives
// the submitter: it runs on a context detached from the caller's
// cancellation, bounded by the configured timeout.
type CleanupQueue struct {
	tasks   chan cleanupTask
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewCleanupQueue starts cfg.Workers workers.
func NewCleanupQueue(cfg CleanupQueueConfig, timeout time.Duration, logger *slog.Logger) *CleanupQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Size < 0 {
		cfg.Size = 0
	}
	if timeout <= 0 {
		timeout = DefaultConfig().CompensationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &CleanupQueue{
		tasks:   make(chan cleanupTask, cfg.Size),
		timeout: timeout,
		logger:  logger.With("component", "cleanup-queue"),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or closed; the stale reservation reaper picks up what is dropped.
func (q *CleanupQueue) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.Compensations.WithLabelValues("dropped").Inc()
		q.logger.Warn("Cleanup queue closed, dropping task", "task", name)
		return false
	}
	select {
	case q.tasks <- cleanupTask{ctx: context.WithoutCancel(ctx), name: name, fn: fn}:
		metrics.CleanupQueueDepth.Inc()
		return true
	default:
		metrics.Compensations.WithLabelValues("dropped").Inc()
		q.logger.Warn("Cleanup queue full, dropping task", "task", name)
		return false
	}
}

func (q *CleanupQueue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		metrics.CleanupQueueDepth.Dec()
		q.run(t)
	}
}

func (q *CleanupQueue) run(t cleanupTask) {
	ctx, cancel := context.WithTimeout(t.ctx, q.timeout)
	defer cancel()
	if err := t.fn(ctx); err != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		q.logger.Error("Cleanup task failed", "task", t.name, "error", err)
		return
	}
	metrics.Compensations.WithLabelValues("ok").Inc()
	q.logger.Debug("Cleanup task done", "task", t.name)
}

// Close stops accepting work and waits for queued tasks to finish.
func (q *CleanupQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}
