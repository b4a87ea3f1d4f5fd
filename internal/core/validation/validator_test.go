package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

func validDataset() *dicom.Dataset {
	return dicom.NewDataset().
		Set(dicom.StudyInstanceUID, dicom.UI, "1.2.3").
		Set(dicom.SeriesInstanceUID, dicom.UI, "1.2.3.4").
		Set(dicom.SOPInstanceUID, dicom.UI, "1.2.3.4.5").
		Set(dicom.SOPClassUID, dicom.UI, "1.2.840.10008.5.1.4.1.1.2").
		Set(dicom.PatientID, dicom.LO, "PAT-1").
		Set(dicom.PatientName, dicom.PN, "Doe^Jane").
		Set(dicom.StudyDate, dicom.DA, "20240501").
		Set(dicom.Modality, dicom.CS, "CT")
}

func codes(r *Result) []ErrorCode {
	var out []ErrorCode
	for _, e := range r.Errors {
		out = append(out, e.Code)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	v := New(Options{})
	r := v.Validate(validDataset(), catalog.CoreTags(), "")
	assert.True(t, r.Valid())
	assert.NoError(t, r.Err())
	assert.Empty(t, r.Warnings)
}

func TestValidate_MissingSeriesUID(t *testing.T) {
	ds := validDataset()
	ds.Remove(dicom.SeriesInstanceUID)

	r := New(Options{}).Validate(ds, catalog.CoreTags(), "")
	require.False(t, r.Valid())
	assert.Equal(t, []ErrorCode{CodeMissingRequiredAttribute}, codes(r))
	assert.Equal(t, dicom.SeriesInstanceUID, r.Errors[0].Tag)
	assert.ErrorIs(t, r.Err(), ErrValidationFailed)
	assert.False(t, errors.Is(r.Err(), ErrStudyUIDMismatch))
}

func TestValidate_RequiredAttributes(t *testing.T) {
	ds := validDataset()
	ds.Remove(dicom.PatientID, dicom.SOPClassUID)

	r := New(Options{}).Validate(ds, nil, "")
	assert.Len(t, r.Errors, 2)

	// an empty PatientID is present
	ds = validDataset().Set(dicom.PatientID, dicom.LO)
	assert.True(t, New(Options{}).Validate(ds, nil, "").Valid())
}

func TestValidate_DuplicatedUIDs(t *testing.T) {
	ds := validDataset().Set(dicom.SOPInstanceUID, dicom.UI, "1.2.3")

	r := New(Options{}).Validate(ds, catalog.CoreTags(), "")
	assert.Equal(t, []ErrorCode{CodeDuplicatedUIDs}, codes(r))
	assert.Equal(t, dicom.SOPInstanceUID, r.Errors[0].Tag)
}

func TestValidate_InvalidUID(t *testing.T) {
	tests := []struct {
		name string
		uid  string
	}{
		{"leading zero", "1.02.3"},
		{"letters", "1.2.abc"},
		{"trailing dot", "1.2."},
		{"too long", "1." + strings.Repeat("1", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := validDataset().Set(dicom.StudyInstanceUID, dicom.UI, tt.uid)
			r := New(Options{}).Validate(ds, nil, "")
			assert.Equal(t, []ErrorCode{CodeInvalidUID}, codes(r))
		})
	}
}

func TestValidate_StudyMismatch(t *testing.T) {
	v := New(Options{})

	r := v.Validate(validDataset(), nil, " 1.2.3 ")
	assert.True(t, r.Valid())

	r = v.Validate(validDataset(), nil, "9.9.9")
	require.False(t, r.Valid())
	assert.ErrorIs(t, r.Err(), ErrStudyUIDMismatch)
	assert.ErrorIs(t, r.Err(), ErrValidationFailed)
}

func TestValidate_IndexedMultipleValues(t *testing.T) {
	ds := validDataset().Set(dicom.Modality, dicom.CS, "CT", "MR")

	r := New(Options{}).Validate(ds, catalog.CoreTags(), "")
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, WarnIndexedAttributeHasMultipleValues, r.Warnings[0].Code)
	assert.Equal(t, []dicom.Tag{dicom.Modality}, r.InvalidAttributes)

	indexable := r.Indexable(ds)
	_, ok := indexable.Get(dicom.Modality)
	assert.False(t, ok)
	_, ok = ds.Get(dicom.Modality)
	assert.True(t, ok)
}

func TestValidate_CoreVsExtended(t *testing.T) {
	ext := index.ExtendedQueryTag{Key: 1, Path: dicom.ContentDate.Path(), VR: dicom.DA, Status: index.TagStatusReady}
	tags := append(catalog.CoreTags(), catalog.FromExtended([]index.ExtendedQueryTag{ext})...)

	t.Run("malformed core attribute", func(t *testing.T) {
		ds := validDataset().Set(dicom.StudyDate, dicom.DA, "2024-13-45")
		r := New(Options{}).Validate(ds, tags, "")
		assert.Equal(t, []ErrorCode{CodeInvalidValue}, codes(r))
	})

	t.Run("core VR mismatch", func(t *testing.T) {
		ds := validDataset().Set(dicom.StudyDate, dicom.LO, "20240501")
		r := New(Options{}).Validate(ds, tags, "")
		assert.Equal(t, []ErrorCode{CodeUnexpectedVR}, codes(r))
	})

	t.Run("malformed extended attribute", func(t *testing.T) {
		ds := validDataset().Set(dicom.ContentDate, dicom.DA, "not-a-date")
		r := New(Options{}).Validate(ds, tags, "")
		assert.True(t, r.Valid())
		require.Len(t, r.Warnings, 1)
		assert.Equal(t, WarnInvalidIndexedAttribute, r.Warnings[0].Code)
		assert.Equal(t, []dicom.Tag{dicom.ContentDate}, r.InvalidAttributes)
	})
}

func TestValidate_FullValidation(t *testing.T) {
	ds := validDataset().
		Set(dicom.PatientSex, dicom.CS, "female").
		Set(dicom.PixelData, dicom.OW)

	assert.True(t, New(Options{}).Validate(ds, catalog.CoreTags(), "").Valid())

	r := New(Options{FullValidation: true}).Validate(ds, catalog.CoreTags(), "")
	require.Equal(t, []ErrorCode{CodeInvalidValue}, codes(r))
	assert.Equal(t, dicom.PatientSex, r.Errors[0].Tag)

	r = New(Options{FullValidation: true, DropInvalid: true}).Validate(ds, catalog.CoreTags(), "")
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, WarnDroppedInvalidAttribute, r.Warnings[0].Code)
	assert.Equal(t, []dicom.Tag{dicom.PatientSex}, r.InvalidAttributes)
}

func TestValidate_ImplicitVR(t *testing.T) {
	ds := validDataset().
		Set(dicom.TransferSyntaxUID, dicom.UI, ImplicitVRLittleEndian).
		Set(dicom.SOPClassUID, dicom.UI, "1.2.840.10008.5.1.4.1.1.2.1")

	r := New(Options{}).Validate(ds, catalog.CoreTags(), "")
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, WarnImplicitVRInconsistentWithSOPClass, r.Warnings[0].Code)
	assert.Empty(t, r.InvalidAttributes)
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		vr    dicom.VR
		value string
		ok    bool
	}{
		{dicom.AE, "STORESCP", true},
		{dicom.AE, "TOO_LONG_APPLICATION", false},
		{dicom.AS, "045Y", true},
		{dicom.AS, "45Y", false},
		{dicom.CS, "ORIGINAL_1", true},
		{dicom.CS, "lower", false},
		{dicom.DA, "20240229", true},
		{dicom.DA, "20230229", false},
		{dicom.DS, "-1.5e3", true},
		{dicom.DS, "1,5", false},
		{dicom.DT, "20240501123000.5+0200", true},
		{dicom.DT, "20240501123000+1500", false},
		{dicom.IS, "2147483647", true},
		{dicom.IS, "2147483648", false},
		{dicom.LO, strings.Repeat("a", 64), true},
		{dicom.LO, strings.Repeat("a", 65), false},
		{dicom.LT, "line one\r\nline two", true},
		{dicom.PN, "Doe^Jane^^Dr^=Yamada^Tarou", true},
		{dicom.PN, "A=B=C=D", false},
		{dicom.PN, "a^b^c^d^e^f", false},
		{dicom.SH, "tab\tinside", true},
		{dicom.SH, "bell\a", false},
		{dicom.TM, "123000.123", true},
		{dicom.TM, "250000", false},
		{dicom.UI, "1.2.840.10008", true},
		{dicom.UI, "1.2.840.010008", false},
		{dicom.US, "65535", true},
		{dicom.US, "-1", false},
		{dicom.SS, "-32768", true},
		{dicom.SL, "x", false},
		{dicom.UL, "4294967296", false},
		{dicom.FL, "3.5e38", false},
		{dicom.FD, "3.5e38", true},
		{dicom.UT, "", true},
		{dicom.DA, "   ", true},
	}
	for _, tt := range tests {
		err := ValidateValue(tt.vr, tt.value)
		if tt.ok {
			assert.NoError(t, err, "%s %q", tt.vr, tt.value)
		} else {
			assert.Error(t, err, "%s %q", tt.vr, tt.value)
		}
	}
}
