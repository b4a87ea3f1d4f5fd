// Package cleanup removes the files of deleted instance versions and
// reclaims reservations that were never finalized.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/metrics"
)

// Index is the part of the index the worker drives.
type Index interface {
	RetrieveDeletedInstances(ctx context.Context, batchSize, maxRetries int) ([]index.DeletedInstance, error)
	IncrementDeletedInstanceRetry(ctx context.Context, id index.VersionedInstanceIdentifier, cleanupAfter time.Time) (int, error)
	DeleteDeletedInstance(ctx context.Context, id index.VersionedInstanceIdentifier) error
	CountExhaustedDeletedInstances(ctx context.Context, maxRetries int) (int, error)
	ReapStaleReservations(ctx context.Context, createdBefore, cleanupAfter time.Time, limit int) (int, error)
}

type Config struct {
	// Interval between sweeps
	Interval           time.Duration `yaml:"interval"`
	BatchSize          int           `yaml:"batch_size"`
	MaxBatchesPerCycle int           `yaml:"max_batches_per_cycle"`
	// MaxRetries is the number of failed attempts after which an entry is
	// left alone and reported as exhausted.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the wait after the first failure; it doubles per
	// failure up to MaxRetryDelay.
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	// ReservationTimeout is the age after which a reservation that was
	// never finalized is considered abandoned.
	ReservationTimeout time.Duration `yaml:"reservation_timeout"`
	ReapLimit          int           `yaml:"reap_limit"`
}

func DefaultConfig() Config {
	return Config{
		Interval:           time.Minute,
		BatchSize:          100,
		MaxBatchesPerCycle: 10,
		MaxRetries:         5,
		RetryDelay:         time.Minute,
		MaxRetryDelay:      time.Hour,
		ReservationTimeout: time.Hour,
		ReapLimit:          100,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxBatchesPerCycle <= 0 {
		c.MaxBatchesPerCycle = d.MaxBatchesPerCycle
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = max(d.MaxRetryDelay, c.RetryDelay)
	}
	if c.ReservationTimeout <= 0 {
		c.ReservationTimeout = d.ReservationTimeout
	}
	if c.ReapLimit <= 0 {
		c.ReapLimit = d.ReapLimit
	}
}

// Result summarizes one sweep.
type Result struct {
	Reaped    int
	Deleted   int
	Failed    int
	Exhausted int
}

// Worker periodically sweeps the deleted instance queue.
type Worker struct {
	index  Index
	blobs  blob.Store
	meta   metadata.Store
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastRunTime time.Time
}

func NewWorker(idx Index, blobs blob.Store, meta metadata.Store, cfg Config, c clock.Clock, logger *slog.Logger) *Worker {
	cfg.ApplyDefaults()
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		index:  idx,
		blobs:  blobs,
		meta:   meta,
		cfg:    cfg,
		clock:  c,
		logger: logger.With("component", "cleanup-worker"),
	}
}

// Start runs a sweep immediately and then every interval until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.runLoop(workerCtx)

	w.logger.Info("Cleanup worker started", "interval", w.cfg.Interval, "batch_size", w.cfg.BatchSize)
	return nil
}

// Stop cancels the loop and waits for the current sweep, or for ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("Cleanup worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()

	w.RunOnce(ctx)

	ticker := w.clock.Ticker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce reaps abandoned reservations and then removes due entries of the
// deleted instance queue, batch by batch.
func (w *Worker) RunOnce(ctx context.Context) Result {
	now := w.clock.Now()
	w.mu.Lock()
	w.lastRunTime = now
	w.mu.Unlock()

	var res Result
	reaped, err := w.index.ReapStaleReservations(ctx, now.Add(-w.cfg.ReservationTimeout), now, w.cfg.ReapLimit)
	if err != nil {
		w.logger.Error("Failed to reap stale reservations", "error", err)
	} else if reaped > 0 {
		res.Reaped = reaped
		metrics.ReservationsReaped.Add(float64(reaped))
		w.logger.Warn("Reaped stale reservations", "count", reaped)
	}

	for batch := 0; batch < w.cfg.MaxBatchesPerCycle; batch++ {
		if ctx.Err() != nil {
			return res
		}
		due, err := w.index.RetrieveDeletedInstances(ctx, w.cfg.BatchSize, w.cfg.MaxRetries)
		if err != nil {
			w.logger.Error("Failed to list deleted instances", "error", err)
			break
		}
		for _, d := range due {
			if err := w.remove(ctx, d.VersionedInstanceIdentifier); err != nil {
				res.Failed++
				w.retryLater(ctx, d, err)
				continue
			}
			res.Deleted++
		}
		if len(due) < w.cfg.BatchSize {
			break
		}
	}

	exhausted, err := w.index.CountExhaustedDeletedInstances(ctx, w.cfg.MaxRetries)
	if err != nil {
		w.logger.Error("Failed to count exhausted deletions", "error", err)
	} else {
		res.Exhausted = exhausted
		metrics.CleanupExhausted.Set(float64(exhausted))
		if exhausted > 0 {
			w.logger.Warn("Deleted instances out of retries", "count", exhausted, "max_retries", w.cfg.MaxRetries)
		}
	}

	if res.Deleted > 0 || res.Failed > 0 {
		w.logger.Info("Cleanup sweep done", "deleted", res.Deleted, "failed", res.Failed)
	}
	return res
}

func (w *Worker) remove(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	if err := w.blobs.DeleteFileIfExists(ctx, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if err := w.meta.DeleteInstanceMetadataIfExists(ctx, id); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if err := w.index.DeleteDeletedInstance(ctx, id); err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	metrics.CleanupDeleted.Inc()
	return nil
}

func (w *Worker) retryLater(ctx context.Context, d index.DeletedInstance, cause error) {
	metrics.CleanupErrors.Inc()
	next := w.clock.Now().Add(w.RetryDelay(d.RetryCount + 1))
	retries, err := w.index.IncrementDeletedInstanceRetry(ctx, d.VersionedInstanceIdentifier, next)
	if err != nil {
		w.logger.Error("Failed to record cleanup retry", "instance", d.VersionedInstanceIdentifier, "error", err)
		return
	}
	w.logger.Warn("Cleanup failed, will retry", "instance", d.VersionedInstanceIdentifier,
		"retries", retries, "next_attempt", next, "error", cause)
}

// RetryDelay returns the wait before the given attempt, counting from one.
func (w *Worker) RetryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval: w.cfg.RetryDelay,
		Multiplier:      2,
		MaxInterval:     w.cfg.MaxRetryDelay,
		Stop:            backoff.Stop,
		Clock:           backoff.SystemClock,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// LastRunTime returns the start time of the last sweep.
func (w *Worker) LastRunTime() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRunTime
}

func (w *Worker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
