package validation

import (
	"errors"
	"fmt"

	"github.com/syntrixbase/medstore/internal/dicom"
)

var (
	// ErrValidationFailed matches every *ValidationError.
	ErrValidationFailed = errors.New("dataset validation failed")
	// ErrStudyUIDMismatch matches a dataset whose study differs from the
	// one the request was made for.
	ErrStudyUIDMismatch = errors.New("study instance uid does not match the request")
)

// ErrorCode classifies a hard validation failure.
type ErrorCode string

const (
	CodeMissingRequiredAttribute ErrorCode = "MissingRequiredAttribute"
	CodeInvalidUID               ErrorCode = "InvalidUid"
	CodeDuplicatedUIDs           ErrorCode = "DuplicatedUidsNotAllowed"
	CodeMismatchStudyUID         ErrorCode = "MismatchStudyInstanceUid"
	CodeMultipleValues           ErrorCode = "MultipleValuesNotAllowed"
	CodeUnexpectedVR             ErrorCode = "UnexpectedValueRepresentation"
	CodeInvalidValue             ErrorCode = "InvalidAttributeValue"
)

// ValidationError is a hard failure that rejects the dataset.
type ValidationError struct {
	Code    ErrorCode
	Tag     dicom.Tag
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Code, e.Tag.Keyword(), e.Message)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidationFailed {
		return true
	}
	return target == ErrStudyUIDMismatch && e.Code == CodeMismatchStudyUID
}

// WarningCode classifies a non-fatal finding.
type WarningCode string

const (
	WarnIndexedAttributeHasMultipleValues  WarningCode = "IndexedAttributeHasMultipleValues"
	WarnInvalidIndexedAttribute            WarningCode = "InvalidIndexedAttribute"
	WarnDroppedInvalidAttribute            WarningCode = "DroppedInvalidAttribute"
	WarnImplicitVRInconsistentWithSOPClass WarningCode = "ImplicitVRInconsistentWithSOPClass"
)

// Warning is a finding that does not reject the dataset.
type Warning struct {
	Code    WarningCode `json:"code"`
	Tag     dicom.Tag   `json:"tag"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Code, w.Tag.Keyword(), w.Message)
}
