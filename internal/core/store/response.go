package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/validation"
	"github.com/syntrixbase/medstore/internal/dicom"
)

// Status summarizes a batch store.
type Status int

const (
	StatusSuccess Status = iota
	StatusPartialSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusPartialSuccess:
		return "PartialSuccess"
	case StatusFailure:
		return "Failure"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Failure and warning reasons reported per instance.
const (
	ReasonProcessingFailure        uint16 = 272
	ReasonValidationFailure        uint16 = 43264
	ReasonMismatchStudyUID         uint16 = 43265
	ReasonSOPInstanceAlreadyExists uint16 = 45070
	ReasonPendingSOPInstance       uint16 = 45071

	WarningElementsDiscarded           uint16 = 45062
	WarningDatasetDoesNotMatchSOPClass uint16 = 45063
)

// FailureReason maps a store error to its failure reason.
func FailureReason(err error) uint16 {
	switch {
	case errors.Is(err, validation.ErrStudyUIDMismatch):
		return ReasonMismatchStudyUID
	case errors.Is(err, validation.ErrValidationFailed):
		return ReasonValidationFailure
	}
	switch index.ConflictKindOf(err) {
	case index.ConflictAlreadyExists:
		return ReasonSOPInstanceAlreadyExists
	case index.ConflictPending:
		return ReasonPendingSOPInstance
	}
	return ReasonProcessingFailure
}

// InstanceReference is the per-instance part of a Response.
type InstanceReference struct {
	StudyInstanceUID  string               `json:"study_instance_uid,omitempty"`
	SeriesInstanceUID string               `json:"series_instance_uid,omitempty"`
	SOPInstanceUID    string               `json:"sop_instance_uid,omitempty"`
	SOPClassUID       string               `json:"sop_class_uid,omitempty"`
	Version           int64                `json:"version,omitempty"`
	FailureReason     uint16               `json:"failure_reason,omitempty"`
	WarningReasons    []uint16             `json:"warning_reasons,omitempty"`
	Warnings          []validation.Warning `json:"warnings,omitempty"`
	Error             string               `json:"error,omitempty"`
}

// Response is the outcome of a batch store.
type Response struct {
	Status           Status              `json:"status"`
	StudyInstanceUID string              `json:"study_instance_uid,omitempty"`
	Referenced       []InstanceReference `json:"referenced,omitempty"`
	Failed           []InstanceReference `json:"failed,omitempty"`
}

// ResponseBuilder collects per-instance outcomes.
type ResponseBuilder struct {
	resp        Response
	hasWarnings bool
}

func NewResponseBuilder(studyUID string) *ResponseBuilder {
	return &ResponseBuilder{resp: Response{StudyInstanceUID: studyUID}}
}

func reference(ds *dicom.Dataset) InstanceReference {
	return InstanceReference{
		StudyInstanceUID:  ds.StudyInstanceUID(),
		SeriesInstanceUID: ds.SeriesInstanceUID(),
		SOPInstanceUID:    ds.SOPInstanceUID(),
		SOPClassUID:       ds.String(dicom.SOPClassUID),
	}
}

// AddSuccess records a stored instance.
func (b *ResponseBuilder) AddSuccess(ds *dicom.Dataset, res *InstanceResult) {
	ref := reference(ds)
	ref.Version = res.Identifier.Version
	ref.Warnings = res.Warnings
	if len(res.InvalidAttributes) > 0 {
		ref.WarningReasons = append(ref.WarningReasons, WarningElementsDiscarded)
	}
	for _, w := range res.Warnings {
		if w.Code == validation.WarnImplicitVRInconsistentWithSOPClass {
			ref.WarningReasons = append(ref.WarningReasons, WarningDatasetDoesNotMatchSOPClass)
			break
		}
	}
	if len(ref.Warnings) > 0 || len(ref.WarningReasons) > 0 {
		b.hasWarnings = true
	}
	b.resp.Referenced = append(b.resp.Referenced, ref)
}

// AddFailure records an instance that was not stored.
func (b *ResponseBuilder) AddFailure(ds *dicom.Dataset, err error) {
	ref := reference(ds)
	ref.FailureReason = FailureReason(err)
	ref.Error = err.Error()
	b.resp.Failed = append(b.resp.Failed, ref)
}

// Build returns the response with its overall status.
func (b *ResponseBuilder) Build() *Response {
	resp := b.resp
	switch {
	case len(resp.Referenced) == 0 && len(resp.Failed) > 0:
		resp.Status = StatusFailure
	case len(resp.Failed) > 0 || b.hasWarnings:
		resp.Status = StatusPartialSuccess
	default:
		resp.Status = StatusSuccess
	}
	return &resp
}

// Dataset renders the response as a DICOM dataset. Retrieve URLs are
// rooted at baseURL when it is set.
func (r *Response) Dataset(baseURL string) *dicom.Dataset {
	ds := dicom.NewDataset()
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL != "" && r.StudyInstanceUID != "" {
		ds.Set(dicom.RetrieveURL, dicom.UR, baseURL+"/studies/"+r.StudyInstanceUID)
	}

	if len(r.Failed) > 0 {
		items := make([]*dicom.Dataset, 0, len(r.Failed))
		for _, f := range r.Failed {
			item := dicom.NewDataset().
				Set(dicom.ReferencedSOPClassUID, dicom.UI, f.SOPClassUID).
				Set(dicom.ReferencedSOPInstanceUID, dicom.UI, f.SOPInstanceUID).
				Set(dicom.FailureReason, dicom.US, strconv.Itoa(int(f.FailureReason)))
			items = append(items, item)
		}
		ds.Put(&dicom.Element{Tag: dicom.FailedSOPSequence, VR: dicom.SQ, Items: items})
	}

	if len(r.Referenced) > 0 {
		items := make([]*dicom.Dataset, 0, len(r.Referenced))
		for _, ref := range r.Referenced {
			item := dicom.NewDataset().
				Set(dicom.ReferencedSOPClassUID, dicom.UI, ref.SOPClassUID).
				Set(dicom.ReferencedSOPInstanceUID, dicom.UI, ref.SOPInstanceUID)
			if baseURL != "" {
				item.Set(dicom.RetrieveURL, dicom.UR, fmt.Sprintf("%s/studies/%s/series/%s/instances/%s",
					baseURL, ref.StudyInstanceUID, ref.SeriesInstanceUID, ref.SOPInstanceUID))
			}
			if len(ref.WarningReasons) > 0 {
				reasons := make([]string, len(ref.WarningReasons))
				for i, w := range ref.WarningReasons {
					reasons[i] = strconv.Itoa(int(w))
				}
				item.Set(dicom.WarningReason, dicom.US, reasons...)
			}
			items = append(items, item)
		}
		ds.Put(&dicom.Element{Tag: dicom.ReferencedSOPSequence, VR: dicom.SQ, Items: items})
	}
	return ds
}
