package xqt

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidExtendedQueryTag = errors.New("invalid extended query tag")
	// ErrOperationTimeout means a background operation did not finish
	// within the polling budget. The operation itself may still succeed.
	ErrOperationTimeout = errors.New("operation did not complete in time")
	ErrOperationFailed  = errors.New("operation failed")
)

// EntryErrorCode names the rule an extended query tag entry broke.
type EntryErrorCode string

const (
	CodeMissingPath              EntryErrorCode = "MissingPath"
	CodeInvalidTag               EntryErrorCode = "InvalidTag"
	CodeUnknownTag               EntryErrorCode = "UnknownTag"
	CodeUnsupportedVR            EntryErrorCode = "UnsupportedVR"
	CodeInconsistentVR           EntryErrorCode = "InconsistentVR"
	CodeMissingVR                EntryErrorCode = "MissingVR"
	CodeQueryTagAlreadySupported EntryErrorCode = "QueryTagAlreadySupported"
	CodeMissingPrivateCreator    EntryErrorCode = "MissingPrivateCreator"
	CodePrivateCreatorNotEmpty   EntryErrorCode = "PrivateCreatorNotEmptyForStandardTag"
	CodeInvalidPrivateCreator    EntryErrorCode = "InvalidPrivateCreator"
	CodeMissingLevel             EntryErrorCode = "MissingLevel"
	CodeInvalidLevel             EntryErrorCode = "InvalidLevel"
	CodeDuplicateTag             EntryErrorCode = "DuplicateTag"
	CodeNoEntries                EntryErrorCode = "MissingExtendedQueryTag"
)

// EntryError reports an invalid extended query tag entry. It matches
// ErrInvalidExtendedQueryTag.
type EntryError struct {
	Code    EntryErrorCode
	Path    string
	Message string
}

func (e *EntryError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: tag %q: %s", e.Code, e.Path, e.Message)
}

func (e *EntryError) Is(target error) bool {
	return target == ErrInvalidExtendedQueryTag
}

func entryError(code EntryErrorCode, path, format string, args ...any) *EntryError {
	return &EntryError{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// EntryErrorCodeOf returns the code carried by err, or "".
func EntryErrorCodeOf(err error) EntryErrorCode {
	var ee *EntryError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
