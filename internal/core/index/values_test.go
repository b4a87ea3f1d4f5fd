package index

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/dicom"
)

func TestExtractValues(t *testing.T) {
	ds := dicom.NewDataset().
		Set(dicom.StudyInstanceUID, dicom.UI, "1.2").
		Set(dicom.Manufacturer, dicom.LO, "ACME ").
		Set(dicom.InstanceNumber, dicom.IS, " 7").
		Set(dicom.PatientWeight, dicom.DS, "80.5").
		Set(dicom.ContentDate, dicom.DA, "20240102").
		Set(dicom.NumberOfFrames, dicom.IS, "many").
		Set(dicom.StationName, dicom.SH, "")

	tags := []ExtendedQueryTag{
		{Key: 1, Path: dicom.Manufacturer.Path(), VR: dicom.LO},
		{Key: 2, Path: dicom.InstanceNumber.Path(), VR: dicom.IS},
		{Key: 3, Path: dicom.PatientWeight.Path(), VR: dicom.DS},
		{Key: 4, Path: dicom.ContentDate.Path(), VR: dicom.DA},
		{Key: 5, Path: dicom.NumberOfFrames.Path(), VR: dicom.IS},
		{Key: 6, Path: dicom.StationName.Path(), VR: dicom.SH},
		{Key: 7, Path: dicom.ProtocolName.Path(), VR: dicom.LO},
	}

	values, failed := ExtractValues(ds, tags)
	require.Len(t, values, 4)
	assert.Equal(t, "ACME", values[0].Text)
	assert.Equal(t, int64(7), values[1].Long)
	// DS is indexed as a string
	assert.Equal(t, "80.5", values[2].Value())
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), values[3].Time)

	require.Len(t, failed, 1)
	assert.Contains(t, failed, int32(5))
}

func TestExtractValue_VRMismatch(t *testing.T) {
	ds := dicom.NewDataset().Set(dicom.Manufacturer, dicom.SH, "ACME")
	_, _, err := ExtractValue(ds, ExtendedQueryTag{Key: 1, Path: dicom.Manufacturer.Path(), VR: dicom.LO})
	assert.Error(t, err)
}

func TestExtractValue_Unsupported(t *testing.T) {
	ds := dicom.NewDataset().Set(dicom.StudyDescription, dicom.LT, "long text")
	_, _, err := ExtractValue(ds, ExtendedQueryTag{Key: 1, Path: dicom.StudyDescription.Path(), VR: dicom.LT})
	assert.ErrorIs(t, err, ErrUnsupportedValueRepresentation)
}

func TestLevelKey(t *testing.T) {
	id := InstanceIdentifier{Partition: 1, StudyInstanceUID: "1", SeriesInstanceUID: "2", SOPInstanceUID: "3"}

	se, sop := LevelKey(id, dicom.LevelStudy)
	assert.Empty(t, se)
	assert.Empty(t, sop)

	se, sop = LevelKey(id, dicom.LevelSeries)
	assert.Equal(t, "2", se)
	assert.Empty(t, sop)

	se, sop = LevelKey(id, dicom.LevelInstance)
	assert.Equal(t, "2", se)
	assert.Equal(t, "3", sop)
}

func TestConflictError(t *testing.T) {
	id := InstanceIdentifier{Partition: 1, StudyInstanceUID: "1", SeriesInstanceUID: "2", SOPInstanceUID: "3"}

	err := NewConflictError(id, StatusCreating)
	assert.ErrorIs(t, err, ErrInstanceConflict)
	assert.Equal(t, ConflictPending, ConflictKindOf(err))

	wrapped := errors.Join(errors.New("store"), NewConflictError(id, StatusCreated))
	assert.ErrorIs(t, wrapped, ErrInstanceConflict)
	assert.Equal(t, ConflictAlreadyExists, ConflictKindOf(wrapped))

	assert.Equal(t, ConflictKind(0), ConflictKindOf(ErrInstanceNotFound))
}

func TestTagStatus(t *testing.T) {
	assert.True(t, TagStatusAdding.Queryable())
	assert.True(t, TagStatusReady.Queryable())
	assert.False(t, TagStatusDeleting.Queryable())

	var s TagStatus
	require.NoError(t, s.UnmarshalText([]byte("deleting")))
	assert.Equal(t, TagStatusDeleting, s)

	opts := TagListOptions{Statuses: []TagStatus{TagStatusReady}}
	assert.True(t, opts.Includes(TagStatusReady))
	assert.False(t, opts.Includes(TagStatusAdding))
	assert.True(t, TagListOptions{}.Includes(TagStatusAdding))

	assert.Equal(t, int32(9), MaxKey([]ExtendedQueryTag{{Key: 3}, {Key: 9}, {Key: 1}}))
	assert.Equal(t, int32(0), MaxKey(nil))
}
