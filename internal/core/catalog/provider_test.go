package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

type fakeLister struct {
	calls   atomic.Int32
	release chan struct{}
	tags    []index.ExtendedQueryTag
	err     error
	opts    index.TagListOptions
}

func (f *fakeLister) ListExtendedQueryTags(ctx context.Context, opts index.TagListOptions) ([]index.ExtendedQueryTag, error) {
	f.calls.Add(1)
	f.opts = opts
	if f.release != nil {
		<-f.release
	}
	return f.tags, f.err
}

func TestProvider_SingleRefreshInFlight(t *testing.T) {
	lister := &fakeLister{
		release: make(chan struct{}),
		tags:    []index.ExtendedQueryTag{{Key: 4, Path: dicom.Manufacturer.Path(), VR: dicom.LO}},
	}
	p := NewProvider(lister, Config{}, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Snapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.GetQueryTags(context.Background(), false)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}

	require.Eventually(t, func() bool { return lister.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(lister.release)
	wg.Wait()

	assert.Equal(t, int32(1), lister.calls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
	assert.Equal(t, int32(4), results[0].MaxExtendedKey())
	assert.Equal(t, []index.TagStatus{index.TagStatusAdding, index.TagStatusReady}, lister.opts.Statuses)
}

func TestProvider_CacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{}
	p := NewProvider(lister, Config{}, nil, nil)

	first, err := p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	second, err := p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), lister.calls.Load())

	p.Invalidate()
	third, err := p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	assert.Greater(t, third.Generation, first.Generation)

	forced, err := p.GetQueryTags(ctx, true)
	require.NoError(t, err)
	assert.Greater(t, forced.Generation, third.Generation)
	assert.Equal(t, int32(3), lister.calls.Load())
}

// stagedLister returns the tags current when a call starts. The first call
// blocks until release is closed.
type stagedLister struct {
	mu      sync.Mutex
	calls   int
	tags    []index.ExtendedQueryTag
	started chan struct{}
	release chan struct{}
}

func (l *stagedLister) ListExtendedQueryTags(ctx context.Context, opts index.TagListOptions) ([]index.ExtendedQueryTag, error) {
	l.mu.Lock()
	l.calls++
	first := l.calls == 1
	tags := l.tags
	l.mu.Unlock()
	if first {
		close(l.started)
		<-l.release
	}
	return tags, nil
}

func (l *stagedLister) set(tags []index.ExtendedQueryTag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tags = tags
}

func TestProvider_InvalidateDuringRefresh(t *testing.T) {
	ctx := context.Background()
	lister := &stagedLister{
		tags:    []index.ExtendedQueryTag{{Key: 4, Path: dicom.Manufacturer.Path(), VR: dicom.LO}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := NewProvider(lister, Config{}, nil, nil)

	staleCh := make(chan *Snapshot, 1)
	go func() {
		s, err := p.GetQueryTags(ctx, false)
		assert.NoError(t, err)
		staleCh <- s
	}()
	<-lister.started

	lister.set([]index.ExtendedQueryTag{
		{Key: 4, Path: dicom.Manufacturer.Path(), VR: dicom.LO},
		{Key: 7, Path: dicom.StationName.Path(), VR: dicom.SH},
	})
	p.Invalidate()

	// does not join the refresh started before the invalidation
	fresh, err := p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(7), fresh.MaxExtendedKey())

	close(lister.release)
	stale := <-staleCh
	assert.Equal(t, int32(4), stale.MaxExtendedKey())

	cached, err := p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	assert.Same(t, fresh, cached)
}

func TestProvider_RefreshInterval(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	lister := &fakeLister{}
	p := NewProvider(lister, Config{RefreshInterval: time.Minute}, mock, nil)

	_, err := p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	mock.Add(30 * time.Second)
	_, err = p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), lister.calls.Load())

	mock.Add(30 * time.Second)
	_, err = p.GetQueryTags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), lister.calls.Load())
}

func TestProvider_Error(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	p := NewProvider(lister, Config{}, nil, nil)

	_, err := p.GetQueryTags(context.Background(), false)
	assert.EqualError(t, err, "db down")

	lister.err = nil
	s, err := p.GetQueryTags(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, s.Tags, len(CoreTags()))
}

func TestSnapshot(t *testing.T) {
	s := NewSnapshot([]index.ExtendedQueryTag{
		{Key: 2, Path: dicom.Manufacturer.Path(), VR: dicom.LO, Level: dicom.LevelSeries},
		{Key: 7, Path: "00091001", VR: dicom.SH, PrivateCreator: "ACME"},
	}, 1)

	require.Len(t, s.Tags, len(CoreTags())+2)
	ext := s.Tags[len(s.Tags)-2]
	assert.True(t, ext.IsExtended())
	assert.Equal(t, dicom.Manufacturer, ext.Tag)
	assert.Equal(t, dicom.LevelSeries, ext.Level)
	assert.Equal(t, int32(7), s.MaxExtendedKey())

	assert.True(t, IsCoreTag(dicom.PatientID))
	assert.False(t, IsCoreTag(dicom.Manufacturer))
}
