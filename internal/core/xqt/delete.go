package xqt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/operation"
)

var errStillRunning = errors.New("operation still running")

// DeleteService removes extended query tags. The definition is marked
// Deleting right away; a purge operation removes the values and the
// definition, and the call waits a bounded time for it.
type DeleteService struct {
	store   index.TagStore
	ops     operation.Client
	catalog Invalidator
	cfg     Config
	timer   func() backoff.Timer
	logger  *slog.Logger
}

type DeleteOption func(*DeleteService)

// WithTimer sets the timer used between polls.
func WithTimer(fn func() backoff.Timer) DeleteOption {
	return func(s *DeleteService) { s.timer = fn }
}

// WithClock drives the poll timer from c.
func WithClock(c clock.Clock) DeleteOption {
	return func(s *DeleteService) {
		s.timer = func() backoff.Timer { return &clockTimer{clock: c} }
	}
}

func NewDeleteService(store index.TagStore, ops operation.Client, catalog Invalidator, cfg Config, logger *slog.Logger, opts ...DeleteOption) *DeleteService {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &DeleteService{
		store:   store,
		ops:     ops,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.With("component", "xqt-delete"),
	}
	WithClock(clock.New())(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeleteExtendedQueryTag deletes the tag stored under path and waits for
// its values to be purged.
func (s *DeleteService) DeleteExtendedQueryTag(ctx context.Context, path string) error {
	normalized, err := NormalizePath(path)
	if err != nil {
		return err
	}
	tag, err := s.store.GetExtendedQueryTag(ctx, normalized)
	if err != nil {
		return err
	}
	// a reindex that ended without completing does not block the delete
	if _, err := releaseStale(ctx, s.store, s.ops, []index.ExtendedQueryTag{*tag}, uuid.Nil, s.logger); err != nil {
		return err
	}
	if err := s.store.UpdateExtendedQueryTagStatusToDeleting(ctx, tag.Key); err != nil {
		return err
	}
	s.catalog.Invalidate()

	id := uuid.New()
	args := PurgeArgs{Key: tag.Key, VR: tag.VR, Path: tag.Path}
	if err := s.ops.StartOperation(ctx, id, operation.KindDeleteExtendedQueryTag, args); err != nil {
		return fmt.Errorf("failed to start delete operation: %w", err)
	}
	logger := s.logger.With("tag", tag.Path, "operation", id)
	logger.Info("Extended query tag deletion started")

	if err := s.wait(ctx, id); err != nil {
		logger.Warn("Extended query tag deletion did not complete", "error", err)
		return err
	}
	logger.Info("Extended query tag deleted")
	return nil
}

// wait polls the operation until it is terminal, at most
// DeletePollAttempts times, waiting DeletePollInterval before each poll.
func (s *DeleteService) wait(ctx context.Context, id uuid.UUID) error {
	poll := func() error {
		st, err := s.ops.GetState(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch st.Status {
		case operation.StatusCompleted:
			return nil
		case operation.StatusFailed, operation.StatusCanceled:
			return backoff.Permanent(fmt.Errorf("%w: operation %s ended %s", ErrOperationFailed, id, st.Status))
		default:
			return errStillRunning
		}
	}

	timer := s.timer()
	timer.Start(s.cfg.DeletePollInterval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C():
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.DeletePollInterval), uint64(s.cfg.DeletePollAttempts-1)),
		ctx)
	err := backoff.RetryNotifyWithTimer(poll, b, nil, timer)
	if errors.Is(err, errStillRunning) {
		return fmt.Errorf("%w: operation %s after %d polls", ErrOperationTimeout, id, s.cfg.DeletePollAttempts)
	}
	return err
}

// clockTimer adapts a clock.Clock timer to backoff.Timer.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
