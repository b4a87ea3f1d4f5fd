package index

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/medstore/internal/dicom"
)

// PartitionKey scopes instances to a data partition.
type PartitionKey int32

// DefaultPartition is used when no partition is configured.
const DefaultPartition PartitionKey = 1

// InstanceIdentifier names one logical instance.
type InstanceIdentifier struct {
	Partition         PartitionKey `json:"partition"`
	StudyInstanceUID  string       `json:"study_instance_uid"`
	SeriesInstanceUID string       `json:"series_instance_uid"`
	SOPInstanceUID    string       `json:"sop_instance_uid"`
}

// IdentifierOf reads the UIDs of ds.
func IdentifierOf(partition PartitionKey, ds *dicom.Dataset) InstanceIdentifier {
	return InstanceIdentifier{
		Partition:         partition,
		StudyInstanceUID:  ds.StudyInstanceUID(),
		SeriesInstanceUID: ds.SeriesInstanceUID(),
		SOPInstanceUID:    ds.SOPInstanceUID(),
	}
}

func (id InstanceIdentifier) String() string {
	return fmt.Sprintf("%d/%s/%s/%s", id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID)
}

// VersionedInstanceIdentifier names one physical write of an instance.
type VersionedInstanceIdentifier struct {
	InstanceIdentifier
	Version int64 `json:"version"`
}

func (v VersionedInstanceIdentifier) String() string {
	return fmt.Sprintf("%s@%d", v.InstanceIdentifier, v.Version)
}

// InstanceStatus is the state of an instance index row.
type InstanceStatus int16

const (
	StatusCreating InstanceStatus = 0
	StatusCreated  InstanceStatus = 1
)

func (s InstanceStatus) String() string {
	switch s {
	case StatusCreating:
		return "creating"
	case StatusCreated:
		return "created"
	}
	return fmt.Sprintf("status(%d)", int16(s))
}

// FileProperties describes the stored blob of a watermark.
type FileProperties struct {
	Path          string `json:"path"`
	ETag          string `json:"etag"`
	ContentLength int64  `json:"content_length"`
}

// WatermarkRange is an inclusive range of watermarks.
type WatermarkRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r WatermarkRange) Contains(w int64) bool {
	return w >= r.Start && w <= r.End
}

func (r WatermarkRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// DeletedInstance is an entry of the cleanup queue.
type DeletedInstance struct {
	VersionedInstanceIdentifier
	RetryCount   int       `json:"retry_count"`
	CleanupAfter time.Time `json:"cleanup_after"`
}

// CoreAttributes are the always-indexed columns of an instance row.
type CoreAttributes struct {
	SOPClassUID                     string
	TransferSyntaxUID               string
	PatientID                       string
	PatientName                     string
	PatientBirthDate                *time.Time
	ReferringPhysicianName          string
	StudyDate                       *time.Time
	StudyDescription                string
	AccessionNumber                 string
	Modality                        string
	PerformedProcedureStepStartDate *time.Time
	ManufacturerModelName           string
}

// PatientAttributes are the core columns an in-place study update rewrites.
var PatientAttributes = []dicom.Tag{
	dicom.PatientID,
	dicom.PatientName,
	dicom.PatientBirthDate,
}

// ExtractCoreAttributes reads the core columns of ds. Malformed dates are
// left empty; the validator rejects them before they reach the store.
func ExtractCoreAttributes(ds *dicom.Dataset) CoreAttributes {
	return CoreAttributes{
		SOPClassUID:                     ds.String(dicom.SOPClassUID),
		TransferSyntaxUID:               ds.String(dicom.TransferSyntaxUID),
		PatientID:                       ds.String(dicom.PatientID),
		PatientName:                     ds.String(dicom.PatientName),
		PatientBirthDate:                optionalDate(ds, dicom.PatientBirthDate),
		ReferringPhysicianName:          ds.String(dicom.ReferringPhysicianName),
		StudyDate:                       optionalDate(ds, dicom.StudyDate),
		StudyDescription:                ds.String(dicom.StudyDescription),
		AccessionNumber:                 ds.String(dicom.AccessionNumber),
		Modality:                        ds.String(dicom.Modality),
		PerformedProcedureStepStartDate: optionalDate(ds, dicom.PerformedProcedureStepStartDate),
		ManufacturerModelName:           ds.String(dicom.ManufacturerModelName),
	}
}

func optionalDate(ds *dicom.Dataset, tag dicom.Tag) *time.Time {
	v := ds.String(tag)
	if v == "" {
		return nil
	}
	t, err := dicom.ParseDA(v)
	if err != nil {
		return nil
	}
	return &t
}

// InstanceRecord is a visible instance row.
type InstanceRecord struct {
	VersionedInstanceIdentifier
	Status            InstanceStatus
	OriginalWatermark *int64
	NewWatermark      *int64
	CreatedAt         time.Time
	File              *FileProperties
	Core              CoreAttributes
}

// InstanceVersion is returned by BeginUpdateInstances: the current version and
// the watermark reserved for its replacement.
type InstanceVersion struct {
	VersionedInstanceIdentifier
	NewWatermark      int64
	OriginalWatermark *int64
}

// DeleteTarget selects instances to delete. Empty series or SOP UIDs widen
// the selection to the series or study; Watermark restricts it to one version.
type DeleteTarget struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	Watermark         *int64
}

// TagStatus is the lifecycle state of an extended query tag.
type TagStatus int16

const (
	TagStatusAdding   TagStatus = 0
	TagStatusReady    TagStatus = 1
	TagStatusDeleting TagStatus = 2
)

func (s TagStatus) String() string {
	switch s {
	case TagStatusAdding:
		return "Adding"
	case TagStatusReady:
		return "Ready"
	case TagStatusDeleting:
		return "Deleting"
	}
	return fmt.Sprintf("TagStatus(%d)", int16(s))
}

// Queryable reports whether new instances are indexed against tags in s.
func (s TagStatus) Queryable() bool {
	return s == TagStatusAdding || s == TagStatusReady
}

func ParseTagStatus(s string) (TagStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "adding":
		return TagStatusAdding, nil
	case "ready":
		return TagStatusReady, nil
	case "deleting":
		return TagStatusDeleting, nil
	}
	return 0, fmt.Errorf("unknown tag status %q", s)
}

func (s TagStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TagStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseTagStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ExtendedQueryTag is a stored extended query tag definition.
type ExtendedQueryTag struct {
	Key            int32       `json:"key"`
	Path           string      `json:"path"`
	VR             dicom.VR    `json:"vr"`
	PrivateCreator string      `json:"private_creator,omitempty"`
	Level          dicom.Level `json:"level"`
	Status         TagStatus   `json:"status"`
	ErrorCount     int         `json:"error_count"`
	OperationID    *uuid.UUID  `json:"operation_id,omitempty"`
}

// Tag parses the stored path. Stored paths are always normalized.
func (t ExtendedQueryTag) Tag() dicom.Tag {
	tag, _ := dicom.ParseTag(t.Path)
	return tag
}

// ExtendedQueryTagEntry is a validated, normalized tag definition to store.
type ExtendedQueryTagEntry struct {
	Path           string
	VR             dicom.VR
	PrivateCreator string
	Level          dicom.Level
}

// TagListOptions filters ListExtendedQueryTags. A zero Limit returns all tags.
type TagListOptions struct {
	Statuses []TagStatus
	Limit    int
	Offset   int
}

// Includes reports whether status passes the filter.
func (o TagListOptions) Includes(status TagStatus) bool {
	if len(o.Statuses) == 0 {
		return true
	}
	for _, s := range o.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// MaxKey returns the largest key in tags, or 0.
func MaxKey(tags []ExtendedQueryTag) int32 {
	var max int32
	for _, t := range tags {
		if t.Key > max {
			max = t.Key
		}
	}
	return max
}
