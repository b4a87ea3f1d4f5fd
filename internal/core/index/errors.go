package index

import (
	"errors"
	"fmt"
)

// Error definitions for index operations
var (
	ErrInstanceConflict               = errors.New("instance already exists or is being created")
	ErrInstanceNotFound               = errors.New("instance not found")
	ErrTagSetStale                    = errors.New("extended query tag set changed since snapshot")
	ErrUpdateInProgress               = errors.New("an update is already in progress for the study")
	ErrExtendedQueryTagNotFound       = errors.New("extended query tag not found")
	ErrExtendedQueryTagBusy           = errors.New("extended query tag is busy")
	ErrExtendedQueryTagAlreadyExists  = errors.New("extended query tag already exists")
	ErrExtendedQueryTagLimitExceeded  = errors.New("extended query tag limit exceeded")
	ErrExtendedQueryTagNotDeleting    = errors.New("extended query tag is not being deleted")
	ErrUnsupportedValueRepresentation = errors.New("value representation cannot be indexed")
)

// ConflictKind tells why a reservation was refused.
type ConflictKind int

const (
	// ConflictPending means another write of the same instance is in flight.
	ConflictPending ConflictKind = iota + 1
	// ConflictAlreadyExists means the instance is already stored.
	ConflictAlreadyExists
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictPending:
		return "pending"
	case ConflictAlreadyExists:
		return "already exists"
	}
	return "unknown"
}

// ConflictError is returned by ReserveInstance when the identifier is taken.
// It matches ErrInstanceConflict.
type ConflictError struct {
	Kind       ConflictKind
	Identifier InstanceIdentifier
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("instance %s: %s", e.Identifier, e.Kind)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrInstanceConflict
}

// ConflictKindOf returns the conflict kind carried by err, or 0.
func ConflictKindOf(err error) ConflictKind {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// NewConflictError builds the conflict returned for an identifier held by a
// row in the given status.
func NewConflictError(id InstanceIdentifier, status InstanceStatus) error {
	kind := ConflictAlreadyExists
	if status == StatusCreating {
		kind = ConflictPending
	}
	return &ConflictError{Kind: kind, Identifier: id}
}
