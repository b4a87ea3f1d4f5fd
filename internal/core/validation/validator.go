// Package validation checks datasets before they are admitted to the store.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/dicom"
)

// ImplicitVRLittleEndian is the transfer syntax that carries no VR on the wire.
const ImplicitVRLittleEndian = "1.2.840.10008.1.2"

// explicitVRSOPClasses lists storage classes whose attributes cannot be
// encoded without explicit VR.
var explicitVRSOPClasses = map[string]bool{
	"1.2.840.10008.5.1.4.1.1.2.1":    true, // Enhanced CT
	"1.2.840.10008.5.1.4.1.1.4.1":    true, // Enhanced MR
	"1.2.840.10008.5.1.4.1.1.13.1.3": true, // Breast Tomosynthesis
	"1.2.840.10008.5.1.4.1.1.30":     true, // Parametric Map
	"1.2.840.10008.5.1.4.1.1.66.4":   true, // Segmentation
	"1.2.840.10008.5.1.4.1.1.66.5":   true, // Surface Segmentation
	"1.2.840.10008.5.1.4.1.1.77.1.6": true, // VL Whole Slide Microscopy
}

// Options configure a Validator.
type Options struct {
	// FullValidation checks every element, not just indexed ones.
	FullValidation bool `yaml:"full"`
	// DropInvalid turns full-validation failures into warnings.
	DropInvalid bool `yaml:"drop_invalid"`
}

// Result collects the findings for one dataset.
type Result struct {
	Errors   []*ValidationError
	Warnings []Warning
	// InvalidAttributes must be left out of the index.
	InvalidAttributes []dicom.Tag
}

// Valid reports whether the dataset may be stored.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// Err joins the hard errors, or returns nil.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Indexable returns ds without the attributes that failed validation.
func (r *Result) Indexable(ds *dicom.Dataset) *dicom.Dataset {
	if len(r.InvalidAttributes) == 0 {
		return ds
	}
	return ds.Without(r.InvalidAttributes...)
}

func (r *Result) fail(code ErrorCode, tag dicom.Tag, format string, args ...any) {
	r.Errors = append(r.Errors, &ValidationError{Code: code, Tag: tag, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warn(code WarningCode, tag dicom.Tag, invalid bool, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Tag: tag, Message: fmt.Sprintf(format, args...)})
	if invalid {
		r.markInvalid(tag)
	}
}

func (r *Result) markInvalid(tag dicom.Tag) {
	for _, t := range r.InvalidAttributes {
		if t == tag {
			return
		}
	}
	r.InvalidAttributes = append(r.InvalidAttributes, tag)
}

// Validator is stateless; one instance may be shared.
type Validator struct {
	opts Options
}

func New(opts Options) *Validator {
	return &Validator{opts: opts}
}

var uidTags = []dicom.Tag{dicom.StudyInstanceUID, dicom.SeriesInstanceUID, dicom.SOPInstanceUID}

// Validate checks ds against the indexed attributes in tags. A non-empty
// requiredStudyUID pins the study the dataset must belong to.
func (v *Validator) Validate(ds *dicom.Dataset, tags []catalog.QueryTag, requiredStudyUID string) *Result {
	r := &Result{}

	if _, ok := ds.Get(dicom.PatientID); !ok {
		r.fail(CodeMissingRequiredAttribute, dicom.PatientID, "attribute is required")
	}
	if ds.String(dicom.SOPClassUID) == "" {
		r.fail(CodeMissingRequiredAttribute, dicom.SOPClassUID, "attribute is required")
	}
	uidsOK := v.validateUIDs(ds, r)

	if requiredStudyUID != "" && uidsOK {
		if got := ds.StudyInstanceUID(); got != strings.TrimSpace(requiredStudyUID) {
			r.fail(CodeMismatchStudyUID, dicom.StudyInstanceUID, "%q does not match %q", got, strings.TrimSpace(requiredStudyUID))
		}
	}

	indexed := make(map[dicom.Tag]bool, len(tags))
	for _, q := range tags {
		indexed[q.Tag] = true
		v.validateIndexed(ds, q, r)
	}

	if v.opts.FullValidation {
		for _, e := range ds.Elements() {
			if indexed[e.Tag] || e.VR == dicom.SQ || e.VR.IsBinary() {
				continue
			}
			if err := validateElement(e, e.VR); err != nil {
				if v.opts.DropInvalid {
					r.warn(WarnDroppedInvalidAttribute, e.Tag, true, "%v", err)
					continue
				}
				r.fail(CodeInvalidValue, e.Tag, "%v", err)
			}
		}
	}

	if ds.String(dicom.TransferSyntaxUID) == ImplicitVRLittleEndian && explicitVRSOPClasses[ds.String(dicom.SOPClassUID)] {
		r.warn(WarnImplicitVRInconsistentWithSOPClass, dicom.TransferSyntaxUID, false,
			"SOP class %s requires explicit VR encoding", ds.String(dicom.SOPClassUID))
	}
	return r
}

func (v *Validator) validateUIDs(ds *dicom.Dataset, r *Result) bool {
	ok := true
	seen := make(map[string]dicom.Tag, len(uidTags))
	for _, tag := range uidTags {
		e, present := ds.Get(tag)
		uid := e.First()
		switch {
		case !present || uid == "":
			r.fail(CodeMissingRequiredAttribute, tag, "attribute is required")
		case len(e.Values) > 1:
			r.fail(CodeMultipleValues, tag, "expected a single value, got %d", len(e.Values))
		case !ValidUID(uid):
			r.fail(CodeInvalidUID, tag, "%q is not a valid uid", uid)
		default:
			if other, dup := seen[uid]; dup {
				r.fail(CodeDuplicatedUIDs, tag, "same value as %s", other.Keyword())
				ok = false
			}
			seen[uid] = tag
			continue
		}
		ok = false
	}
	return ok
}

func (v *Validator) validateIndexed(ds *dicom.Dataset, q catalog.QueryTag, r *Result) {
	switch q.Tag {
	case dicom.StudyInstanceUID, dicom.SeriesInstanceUID, dicom.SOPInstanceUID:
		return
	}
	e, ok := ds.Get(q.Tag)
	if !ok {
		return
	}
	if len(e.Values) > 1 {
		r.warn(WarnIndexedAttributeHasMultipleValues, q.Tag, true, "indexed attribute %s has %d values", q, len(e.Values))
		return
	}

	var err error
	if e.VR != q.VR {
		err = fmt.Errorf("expected VR %s, got %s", q.VR, e.VR)
	} else {
		err = validateElement(e, q.VR)
	}
	if err == nil {
		return
	}
	if q.IsExtended() {
		r.warn(WarnInvalidIndexedAttribute, q.Tag, true, "%s: %v", q, err)
		return
	}
	code := CodeInvalidValue
	if e.VR != q.VR {
		code = CodeUnexpectedVR
	}
	r.fail(code, q.Tag, "%v", err)
}

func validateElement(e *dicom.Element, vr dicom.VR) error {
	for _, val := range e.Values {
		if err := ValidateValue(vr, val); err != nil {
			return err
		}
	}
	return nil
}
