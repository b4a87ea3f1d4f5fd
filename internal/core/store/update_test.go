package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/changefeed"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/validation"
	"github.com/syntrixbase/medstore/internal/dicom"
)

func storeAll(t *testing.T, h *harness, entries ...InstanceEntry) []index.VersionedInstanceIdentifier {
	t.Helper()
	var out []index.VersionedInstanceIdentifier
	for _, e := range entries {
		res, err := h.orch.StoreInstance(context.Background(), index.DefaultPartition, e, "")
		require.NoError(t, err)
		out = append(out, res.Identifier)
	}
	return out
}

func TestDeleteService_DeleteSeries(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := storeAll(t, h, entry("1.2", "1.2.3", "1.2.3.4"), entry("1.2", "1.2.3", "1.2.3.5"), entry("1.2", "1.2.4", "1.2.4.1"))

	svc := NewDeleteService(h.idx, h.events, DefaultConfig(), nil, nil)
	deleted, err := svc.DeleteSeries(ctx, index.DefaultPartition, "1.2", "1.2.3")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], deleted)

	_, err = h.idx.GetInstance(ctx, ids[0].InstanceIdentifier)
	assert.ErrorIs(t, err, index.ErrInstanceNotFound)
	_, err = h.idx.GetInstance(ctx, ids[2].InstanceIdentifier)
	assert.NoError(t, err)

	assert.Equal(t, []changefeed.EventType{
		changefeed.EventCreated, changefeed.EventCreated, changefeed.EventCreated,
		changefeed.EventDeleted, changefeed.EventDeleted,
	}, h.events.types())

	// files stay until the delay passes
	due, err := h.idx.RetrieveDeletedInstances(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = svc.DeleteSeries(ctx, index.DefaultPartition, "1.2", "1.2.3")
	assert.ErrorIs(t, err, index.ErrInstanceNotFound)
}

func TestDeleteService_InvalidTarget(t *testing.T) {
	svc := NewDeleteService(nil, nil, DefaultConfig(), nil, nil)
	_, err := svc.DeleteStudy(context.Background(), index.DefaultPartition, "")
	assert.ErrorIs(t, err, ErrInvalidStudyUID)
	_, err = svc.DeleteInstance(context.Background(), index.DefaultPartition, "1.2", "", "1.2.3.4")
	assert.ErrorIs(t, err, validation.ErrValidationFailed)
	_, err = svc.DeleteSeries(context.Background(), index.DefaultPartition, "1.2", "x")
	assert.ErrorIs(t, err, validation.ErrValidationFailed)
}

func TestUpdateService_UpdateStudy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := storeAll(t, h, entry("1.2", "1.2.3", "1.2.3.4"), entry("1.2", "1.2.3", "1.2.3.5"))

	svc := NewUpdateService(h.deps(), DefaultConfig())
	changes := dicom.NewDataset().Set(dicom.PatientName, dicom.PN, "Roe^Jane")
	res, err := svc.UpdateStudy(ctx, index.DefaultPartition, "1.2", changes)
	require.NoError(t, err)
	require.Len(t, res.Updated, 2)

	for i, id := range res.Updated {
		assert.Greater(t, id.Version, ids[i].Version)

		rec, err := h.idx.GetInstance(ctx, id.InstanceIdentifier)
		require.NoError(t, err)
		assert.Equal(t, id.Version, rec.Version)
		assert.Equal(t, "Roe^Jane", rec.Core.PatientName)
		assert.Equal(t, "PAT1", rec.Core.PatientID)
		require.NotNil(t, rec.OriginalWatermark)
		assert.Equal(t, ids[i].Version, *rec.OriginalWatermark)

		md, err := h.meta.GetInstanceMetadata(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Roe^Jane", md.String(dicom.PatientName))
		assert.Equal(t, "ACME", md.String(dicom.Manufacturer))

		_, _, err = h.blobs.GetFile(ctx, id)
		assert.NoError(t, err)
	}
	assert.Contains(t, h.events.types(), changefeed.EventUpdated)
}

func TestUpdateService_RejectsChanges(t *testing.T) {
	h := newHarness(t, nil)
	svc := NewUpdateService(h.deps(), DefaultConfig())
	ctx := context.Background()

	_, err := svc.UpdateStudy(ctx, index.DefaultPartition, "1.2", dicom.NewDataset())
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	_, err = svc.UpdateStudy(ctx, index.DefaultPartition, "1.2", dicom.NewDataset().Set(dicom.Modality, dicom.CS, "CT"))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	_, err = svc.UpdateStudy(ctx, index.DefaultPartition, "1.2", dicom.NewDataset().Set(dicom.PatientBirthDate, dicom.DA, "2024-01-01"))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	_, err = svc.UpdateStudy(ctx, index.DefaultPartition, "1.2", dicom.NewDataset().Set(dicom.PatientID, dicom.LO, "P2"))
	assert.ErrorIs(t, err, index.ErrInstanceNotFound)
}

func TestUpdateService_AbortsOnFailure(t *testing.T) {
	blobs := &failingBlobs{MemoryStore: blob.NewMemoryStore()}
	h := newHarness(t, blobs)
	ctx := context.Background()
	ids := storeAll(t, h, entry("1.2", "1.2.3", "1.2.3.4"))

	blobs.copyErr = errors.New("copy failed")
	svc := NewUpdateService(h.deps(), DefaultConfig())
	_, err := svc.UpdateStudy(ctx, index.DefaultPartition, "1.2", dicom.NewDataset().Set(dicom.PatientID, dicom.LO, "P2"))
	require.ErrorContains(t, err, "copy failed")

	rec, err := h.idx.GetInstance(ctx, ids[0].InstanceIdentifier)
	require.NoError(t, err)
	assert.Equal(t, ids[0].Version, rec.Version)
	assert.Nil(t, rec.NewWatermark)
	assert.Equal(t, "PAT1", rec.Core.PatientID)

	// the aborted version is queued for cleanup
	due, err := h.idx.RetrieveDeletedInstances(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Greater(t, due[0].Version, ids[0].Version)

	blobs.copyErr = nil
	_, err = svc.UpdateStudy(ctx, index.DefaultPartition, "1.2", dicom.NewDataset().Set(dicom.PatientID, dicom.LO, "P2"))
	assert.NoError(t, err)
}

func TestUpdateService_Handler(t *testing.T) {
	h := newHarness(t, nil)
	storeAll(t, h, entry("1.2", "1.2.3", "1.2.3.4"))
	svc := NewUpdateService(h.deps(), DefaultConfig())

	runner := operation.NewRunner(operation.DefaultConfig(), nil, nil)
	defer runner.Close()
	runner.Register(operation.KindUpdateStudy, svc.Handler())

	args := UpdateStudyArgs{StudyInstanceUID: "1.2", Changes: dicom.NewDataset().Set(dicom.PatientName, dicom.PN, "Roe^Jane")}
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	require.Contains(t, string(raw), "00100010")

	id := uuid.New()
	require.NoError(t, runner.StartOperation(context.Background(), id, operation.KindUpdateStudy, args))
	require.Eventually(t, func() bool {
		st, err := runner.GetState(context.Background(), id)
		return err == nil && st.Status == operation.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	st, err := runner.GetState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 100, st.PercentComplete)
	assert.Equal(t, []string{"studies/1.2"}, st.Resources)
}
