// Package catalog resolves which attributes are indexed: the fixed core
// attributes plus the queryable extended query tags.
package catalog

import (
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

// QueryTag is one indexed attribute.
type QueryTag struct {
	Tag   dicom.Tag
	VR    dicom.VR
	Level dicom.Level
	// Extended is set for extended query tags.
	Extended *index.ExtendedQueryTag
}

func (q QueryTag) IsExtended() bool {
	return q.Extended != nil
}

func (q QueryTag) String() string {
	if q.Extended != nil {
		return q.Extended.Path
	}
	return q.Tag.Keyword()
}

var coreTags = []QueryTag{
	{Tag: dicom.StudyInstanceUID, VR: dicom.UI, Level: dicom.LevelStudy},
	{Tag: dicom.PatientID, VR: dicom.LO, Level: dicom.LevelStudy},
	{Tag: dicom.PatientName, VR: dicom.PN, Level: dicom.LevelStudy},
	{Tag: dicom.PatientBirthDate, VR: dicom.DA, Level: dicom.LevelStudy},
	{Tag: dicom.ReferringPhysicianName, VR: dicom.PN, Level: dicom.LevelStudy},
	{Tag: dicom.StudyDate, VR: dicom.DA, Level: dicom.LevelStudy},
	{Tag: dicom.StudyDescription, VR: dicom.LO, Level: dicom.LevelStudy},
	{Tag: dicom.AccessionNumber, VR: dicom.SH, Level: dicom.LevelStudy},
	{Tag: dicom.SeriesInstanceUID, VR: dicom.UI, Level: dicom.LevelSeries},
	{Tag: dicom.Modality, VR: dicom.CS, Level: dicom.LevelSeries},
	{Tag: dicom.PerformedProcedureStepStartDate, VR: dicom.DA, Level: dicom.LevelSeries},
	{Tag: dicom.ManufacturerModelName, VR: dicom.LO, Level: dicom.LevelSeries},
	{Tag: dicom.SOPInstanceUID, VR: dicom.UI, Level: dicom.LevelInstance},
	{Tag: dicom.SOPClassUID, VR: dicom.UI, Level: dicom.LevelInstance},
}

var coreByTag = func() map[dicom.Tag]QueryTag {
	m := make(map[dicom.Tag]QueryTag, len(coreTags))
	for _, q := range coreTags {
		m[q.Tag] = q
	}
	return m
}()

// CoreTags returns the always-indexed attributes.
func CoreTags() []QueryTag {
	return append([]QueryTag(nil), coreTags...)
}

// IsCoreTag reports whether tag is always indexed.
func IsCoreTag(tag dicom.Tag) bool {
	_, ok := coreByTag[tag]
	return ok
}

// FromExtended wraps extended query tags.
func FromExtended(tags []index.ExtendedQueryTag) []QueryTag {
	out := make([]QueryTag, 0, len(tags))
	for i := range tags {
		t := tags[i]
		out = append(out, QueryTag{Tag: t.Tag(), VR: t.VR, Level: t.Level, Extended: &t})
	}
	return out
}

// Snapshot is an immutable view of the catalog.
type Snapshot struct {
	// Tags lists core attributes followed by extended query tags.
	Tags []QueryTag
	// Extended holds the queryable extended query tags the snapshot was built from.
	Extended   []index.ExtendedQueryTag
	Generation uint64
}

// NewSnapshot builds a snapshot over the given extended query tags.
func NewSnapshot(extended []index.ExtendedQueryTag, generation uint64) *Snapshot {
	tags := CoreTags()
	tags = append(tags, FromExtended(extended)...)
	return &Snapshot{Tags: tags, Extended: extended, Generation: generation}
}

// MaxExtendedKey returns the largest extended query tag key in the snapshot.
func (s *Snapshot) MaxExtendedKey() int32 {
	return index.MaxKey(s.Extended)
}
