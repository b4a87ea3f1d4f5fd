package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitStatus(t *testing.T, r *Runner, id uuid.UUID, want Status) *State {
	t.Helper()
	var last *State
	require.Eventually(t, func() bool {
		s, err := r.GetState(context.Background(), id)
		if err != nil {
			return false
		}
		last = s
		return s.Status == want
	}, 2*time.Second, time.Millisecond)
	return last
}

type reindexArgs struct {
	Keys []int32 `json:"keys"`
}

func TestRunner_Completes(t *testing.T) {
	r := NewRunner(Config{}, nil, nil)
	defer r.Close()

	var got reindexArgs
	r.Register(KindReindex, HandlerFunc(func(ctx context.Context, op *Operation) error {
		require.NoError(t, op.DecodeArgs(&got))
		op.SetResources("tags/00080070")
		op.SetProgress(150)
		return nil
	}))

	id := uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), id, KindReindex, reindexArgs{Keys: []int32{1, 2}}))

	s := waitStatus(t, r, id, StatusCompleted)
	assert.Equal(t, 100, s.PercentComplete)
	assert.Equal(t, []string{"tags/00080070"}, s.Resources)
	assert.Equal(t, KindReindex, s.Kind)
	assert.Equal(t, []int32{1, 2}, got.Keys)
}

func TestRunner_CheckpointOutlivesFailure(t *testing.T) {
	r := NewRunner(Config{}, nil, nil)
	defer r.Close()

	type checkpoint struct {
		After int64 `json:"after"`
	}
	r.Register(KindReindex, HandlerFunc(func(ctx context.Context, op *Operation) error {
		require.NoError(t, op.SetCheckpoint(checkpoint{After: 10}))
		require.NoError(t, op.SetCheckpoint(checkpoint{After: 20}))
		return errors.New("lost connection")
	}))

	id := uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), id, KindReindex, nil))
	s := waitStatus(t, r, id, StatusFailed)

	var got checkpoint
	ok, err := s.DecodeCheckpoint(&got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(20), got.After)

	var empty State
	ok, err = empty.DecodeCheckpoint(&got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunner_Errors(t *testing.T) {
	r := NewRunner(Config{}, nil, nil)
	defer r.Close()

	r.Register(KindReindex, HandlerFunc(func(ctx context.Context, op *Operation) error {
		return errors.New("boom")
	}))
	r.Register(KindUpdateStudy, HandlerFunc(func(ctx context.Context, op *Operation) error {
		panic("bad")
	}))

	failed := uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), failed, KindReindex, nil))
	s := waitStatus(t, r, failed, StatusFailed)
	assert.Equal(t, []string{"boom"}, s.Errors)

	panicked := uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), panicked, KindUpdateStudy, nil))
	s = waitStatus(t, r, panicked, StatusFailed)
	assert.Contains(t, s.Errors[0], "panicked")

	err := r.StartOperation(context.Background(), failed, KindReindex, nil)
	assert.ErrorIs(t, err, ErrOperationExists)

	err = r.StartOperation(context.Background(), uuid.New(), KindDeleteExtendedQueryTag, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = r.GetState(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestRunner_QueuesBeyondLimit(t *testing.T) {
	r := NewRunner(Config{MaxConcurrent: 1}, nil, nil)
	defer r.Close()

	release := make(chan struct{})
	r.Register(KindReindex, HandlerFunc(func(ctx context.Context, op *Operation) error {
		<-release
		return nil
	}))

	first, second := uuid.New(), uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), first, KindReindex, nil))
	require.NoError(t, r.StartOperation(context.Background(), second, KindReindex, nil))

	waitStatus(t, r, first, StatusRunning)
	s, err := r.GetState(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, StatusNotStarted, s.Status)

	close(release)
	waitStatus(t, r, first, StatusCompleted)
	waitStatus(t, r, second, StatusCompleted)
}

func TestRunner_Cancel(t *testing.T) {
	r := NewRunner(Config{MaxConcurrent: 1}, nil, nil)
	defer r.Close()

	r.Register(KindDeleteExtendedQueryTag, HandlerFunc(func(ctx context.Context, op *Operation) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	running, queued := uuid.New(), uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), running, KindDeleteExtendedQueryTag, nil))
	require.NoError(t, r.StartOperation(context.Background(), queued, KindDeleteExtendedQueryTag, nil))
	waitStatus(t, r, running, StatusRunning)

	require.NoError(t, r.Cancel(queued))
	waitStatus(t, r, queued, StatusCanceled)

	require.NoError(t, r.Cancel(running))
	waitStatus(t, r, running, StatusCanceled)

	assert.Error(t, r.Cancel(running))
	assert.ErrorIs(t, r.Cancel(uuid.New()), ErrOperationNotFound)
}

func TestRunner_DetachedFromCaller(t *testing.T) {
	r := NewRunner(Config{}, nil, nil)
	defer r.Close()

	started := make(chan struct{})
	r.Register(KindReindex, HandlerFunc(func(ctx context.Context, op *Operation) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return nil
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	require.NoError(t, r.StartOperation(ctx, id, KindReindex, nil))
	<-started
	cancel()
	waitStatus(t, r, id, StatusCompleted)
}

func TestRunner_Prune(t *testing.T) {
	mock := clock.NewMock()
	r := NewRunner(Config{Retention: time.Hour}, mock, nil)
	defer r.Close()
	r.Register(KindReindex, HandlerFunc(func(ctx context.Context, op *Operation) error { return nil }))

	id := uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), id, KindReindex, nil))
	waitStatus(t, r, id, StatusCompleted)

	assert.Equal(t, 0, r.Prune())
	mock.Add(2 * time.Hour)
	assert.Equal(t, 1, r.Prune())
	assert.Empty(t, r.List())
}

func TestRunner_CloseCancelsWork(t *testing.T) {
	r := NewRunner(Config{}, nil, nil)
	r.Register(KindReindex, HandlerFunc(func(ctx context.Context, op *Operation) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	id := uuid.New()
	require.NoError(t, r.StartOperation(context.Background(), id, KindReindex, nil))
	waitStatus(t, r, id, StatusRunning)

	require.NoError(t, r.Close())
	s, err := r.GetState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, s.Status)
	assert.Error(t, r.StartOperation(context.Background(), uuid.New(), KindReindex, nil))
}
