package cleanup

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/index"
	indexmem "github.com/syntrixbase/medstore/internal/core/index/memory"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/dicom"
	"github.com/syntrixbase/medstore/internal/metrics"
)

type flakyBlobs struct {
	*blob.MemoryStore
	fail atomic.Bool
}

func (f *flakyBlobs) DeleteFileIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	if f.fail.Load() {
		return errors.New("storage unavailable")
	}
	return f.MemoryStore.DeleteFileIfExists(ctx, id)
}

type fixture struct {
	clock *clock.Mock
	idx   *indexmem.Store
	blobs *flakyBlobs
	meta  *metadata.MemoryStore
}

func newFixture() *fixture {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	return &fixture{
		clock: mock,
		idx:   indexmem.New(indexmem.WithClock(mock)),
		blobs: &flakyBlobs{MemoryStore: blob.NewMemoryStore()},
		meta:  metadata.NewMemoryStore(),
	}
}

func (f *fixture) worker(cfg Config) *Worker {
	return NewWorker(f.idx, f.blobs, f.meta, cfg, f.clock, nil)
}

func dataset(sop string) *dicom.Dataset {
	return dicom.NewDataset().
		Set(dicom.StudyInstanceUID, dicom.UI, "1.2").
		Set(dicom.SeriesInstanceUID, dicom.UI, "1.2.3").
		Set(dicom.SOPInstanceUID, dicom.UI, sop).
		Set(dicom.SOPClassUID, dicom.UI, "1.2.840.10008.5.1.4.1.1.2").
		Set(dicom.PatientID, dicom.LO, "PAT1")
}

// stored writes a finalized instance with its file and metadata.
func (f *fixture) stored(t *testing.T, sop string) index.VersionedInstanceIdentifier {
	t.Helper()
	ctx := context.Background()
	ds := dataset(sop)
	w, err := f.idx.ReserveInstance(ctx, index.DefaultPartition, ds)
	require.NoError(t, err)
	id := index.VersionedInstanceIdentifier{InstanceIdentifier: index.IdentifierOf(index.DefaultPartition, ds), Version: w}
	file, err := f.blobs.AddFile(ctx, id, bytes.NewReader([]byte("DICM")))
	require.NoError(t, err)
	require.NoError(t, f.meta.AddInstanceMetadata(ctx, id, ds))
	require.NoError(t, f.idx.FinalizeInstance(ctx, index.DefaultPartition, ds, w, nil, file, false))
	return id
}

func (f *fixture) deleteStudy(t *testing.T, delay time.Duration) {
	t.Helper()
	_, err := f.idx.DeleteInstanceIndex(context.Background(), index.DefaultPartition,
		index.DeleteTarget{StudyInstanceUID: "1.2"}, f.clock.Now().Add(delay))
	require.NoError(t, err)
}

func TestWorker_RemovesDueEntries(t *testing.T) {
	f := newFixture()
	f.stored(t, "1.2.3.4")
	f.stored(t, "1.2.3.5")
	f.deleteStudy(t, time.Hour)

	w := f.worker(Config{BatchSize: 1})
	res := w.RunOnce(context.Background())
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 2, f.blobs.Len())

	f.clock.Add(time.Hour)
	before := testutil.ToFloat64(metrics.CleanupDeleted)
	res = w.RunOnce(context.Background())
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Failed)
	assert.Zero(t, f.blobs.Len())
	assert.Zero(t, f.meta.Len())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.CleanupDeleted))

	left, err := f.idx.RetrieveDeletedInstances(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, f.clock.Now(), w.LastRunTime())
}

func TestWorker_RetriesWithBackoffUntilExhausted(t *testing.T) {
	f := newFixture()
	f.stored(t, "1.2.3.4")
	f.deleteStudy(t, 0)
	f.blobs.fail.Store(true)

	w := f.worker(Config{MaxRetries: 2, RetryDelay: time.Minute, MaxRetryDelay: time.Hour})

	res := w.RunOnce(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Exhausted)

	// not due before the first retry delay
	f.clock.Add(30 * time.Second)
	res = w.RunOnce(context.Background())
	assert.Zero(t, res.Failed)

	f.clock.Add(30 * time.Second)
	res = w.RunOnce(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Exhausted)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CleanupExhausted))

	// exhausted entries are no longer picked up
	f.blobs.fail.Store(false)
	f.clock.Add(time.Hour)
	res = w.RunOnce(context.Background())
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 1, f.blobs.Len())
}

func TestWorker_RetryDelay(t *testing.T) {
	w := NewWorker(nil, nil, nil, Config{RetryDelay: time.Minute, MaxRetryDelay: 5 * time.Minute}, nil, nil)
	assert.Equal(t, time.Minute, w.RetryDelay(1))
	assert.Equal(t, 2*time.Minute, w.RetryDelay(2))
	assert.Equal(t, 4*time.Minute, w.RetryDelay(3))
	assert.Equal(t, 5*time.Minute, w.RetryDelay(4))
	assert.Equal(t, 5*time.Minute, w.RetryDelay(10))
}

func TestWorker_ReapsAbandonedReservations(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ds := dataset("1.2.3.9")
	w, err := f.idx.ReserveInstance(ctx, index.DefaultPartition, ds)
	require.NoError(t, err)
	id := index.VersionedInstanceIdentifier{InstanceIdentifier: index.IdentifierOf(index.DefaultPartition, ds), Version: w}
	_, err = f.blobs.AddFile(ctx, id, bytes.NewReader([]byte("partial")))
	require.NoError(t, err)

	worker := f.worker(Config{ReservationTimeout: 10 * time.Minute})
	res := worker.RunOnce(ctx)
	assert.Zero(t, res.Reaped)

	f.clock.Add(11 * time.Minute)
	res = worker.RunOnce(ctx)
	assert.Equal(t, 1, res.Reaped)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, f.blobs.Len())

	// the identifier can be stored again
	_, err = f.idx.ReserveInstance(ctx, index.DefaultPartition, ds)
	assert.NoError(t, err)
}

func TestWorker_StartStop(t *testing.T) {
	f := newFixture()
	f.stored(t, "1.2.3.4")
	f.deleteStudy(t, 0)

	w := f.worker(Config{Interval: time.Minute})
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	// the first sweep runs on start
	require.Eventually(t, func() bool { return f.blobs.Len() == 0 }, time.Second, time.Millisecond)

	f.stored(t, "1.2.3.5")
	f.deleteStudy(t, 0)
	require.Eventually(t, func() bool {
		f.clock.Add(time.Minute)
		return f.blobs.Len() == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop(ctx))
	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.IsRunning())
}
