package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/syntrixbase/medstore/internal/metrics"
)

// Config holds runner configuration.
type Config struct {
	// MaxConcurrent is the max number of operations running at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Retention is how long finished operations stay queryable.
	Retention time.Duration `yaml:"retention"`
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		Retention:     24 * time.Hour,
	}
}

type job struct {
	op      *Operation
	handler Handler

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	clock  clock.Clock
}

func (j *job) update(fn func(*State)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.state)
	j.state.LastUpdatedAt = j.clock.Now()
}

func (j *job) snapshot() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.state
	s.Resources = append([]string(nil), j.state.Resources...)
	s.Errors = append([]string(nil), j.state.Errors...)
	return s
}

// Runner executes operations in-process with bounded concurrency. Operations
// beyond the limit wait in a FIFO queue.
type Runner struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	handlers map[Kind]Handler
	jobs     map[uuid.UUID]*job
	running  int
	pending  []*job
	closed   bool
}

// NewRunner creates a runner. Handlers are added with Register.
func NewRunner(cfg Config, c clock.Clock, logger *slog.Logger) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		logger:   logger.With("component", "operations"),
		clock:    c,
		baseCtx:  ctx,
		stop:     stop,
		handlers: make(map[Kind]Handler),
		jobs:     make(map[uuid.UUID]*job),
	}
}

// Register installs the handler for kind.
func (r *Runner) Register(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// StartOperation schedules an operation. It returns once the operation is
// queued; the work itself runs detached from ctx.
func (r *Runner) StartOperation(ctx context.Context, id uuid.UUID, kind Kind, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s arguments: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("operation runner is closed")
	}
	h, ok := r.handlers[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if _, exists := r.jobs[id]; exists {
		return fmt.Errorf("%w: %s", ErrOperationExists, id)
	}

	now := r.clock.Now()
	j := &job{
		handler: h,
		clock:   r.clock,
		state: State{
			ID:            id,
			Kind:          kind,
			Status:        StatusNotStarted,
			CreatedAt:     now,
			LastUpdatedAt: now,
		},
	}
	j.op = &Operation{ID: id, Kind: kind, Args: raw, job: j}
	r.jobs[id] = j

	if r.running < r.cfg.MaxConcurrent {
		r.launch(j)
	} else {
		r.pending = append(r.pending, j)
		r.logger.Info("Operation queued", "id", id, "kind", kind, "pending", len(r.pending))
	}
	return nil
}

// launch must be called with r.mu held.
func (r *Runner) launch(j *job) {
	r.running++
	ctx, cancel := context.WithCancel(r.baseCtx)
	j.update(func(s *State) { s.Status = StatusRunning })
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, j)
		cancel()
		r.finish()
	}()
}

func (r *Runner) run(ctx context.Context, j *job) {
	kind := string(j.op.Kind)
	metrics.OperationsRunning.WithLabelValues(kind).Inc()
	defer metrics.OperationsRunning.WithLabelValues(kind).Dec()

	start := r.clock.Now()
	r.logger.Info("Starting operation", "id", j.op.ID, "kind", kind)

	err := r.invoke(ctx, j)

	var status Status
	switch {
	case err == nil:
		status = StatusCompleted
	case ctx.Err() != nil:
		status = StatusCanceled
	default:
		status = StatusFailed
	}
	j.update(func(s *State) {
		s.Status = status
		if status == StatusCompleted {
			s.PercentComplete = 100
		}
		if err != nil {
			s.Errors = append(s.Errors, err.Error())
		}
	})
	metrics.Operations.WithLabelValues(kind, string(status)).Inc()

	if err != nil {
		r.logger.Error("Operation failed", "id", j.op.ID, "kind", kind, "status", status, "error", err)
		return
	}
	r.logger.Info("Operation completed", "id", j.op.ID, "kind", kind, "duration", r.clock.Since(start))
}

func (r *Runner) invoke(ctx context.Context, j *job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("operation panicked: %v", p)
		}
	}()
	return j.handler.Run(ctx, j.op)
}

func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running--
	if r.closed {
		return
	}
	for len(r.pending) > 0 && r.running < r.cfg.MaxConcurrent {
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.logger.Info("Starting queued operation", "id", next.op.ID)
		r.launch(next)
	}
}

// GetState returns the state of an operation.
func (r *Runner) GetState(ctx context.Context, id uuid.UUID) (*State, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrOperationNotFound
	}
	s := j.snapshot()
	return &s, nil
}

// Cancel stops a queued or running operation.
func (r *Runner) Cancel(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return ErrOperationNotFound
	}
	s := j.snapshot()
	switch s.Status {
	case StatusNotStarted:
		for i, p := range r.pending {
			if p == j {
				r.pending = append(r.pending[:i], r.pending[i+1:]...)
				break
			}
		}
		j.update(func(s *State) { s.Status = StatusCanceled })
		metrics.Operations.WithLabelValues(string(s.Kind), string(StatusCanceled)).Inc()
	case StatusRunning:
		j.mu.Lock()
		if j.cancel != nil {
			j.cancel()
		}
		j.mu.Unlock()
	default:
		return fmt.Errorf("operation %s is %s", id, s.Status)
	}
	return nil
}

// List returns the state of every retained operation.
func (r *Runner) List() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Prune drops finished operations older than the retention period.
func (r *Runner) Prune() int {
	if r.cfg.Retention <= 0 {
		return 0
	}
	cutoff := r.clock.Now().Add(-r.cfg.Retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, j := range r.jobs {
		s := j.snapshot()
		if s.Status.Terminal() && s.LastUpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Close cancels running operations and waits for them to return.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, j := range r.pending {
		j.update(func(s *State) { s.Status = StatusCanceled })
	}
	r.pending = nil
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
	return nil
}
