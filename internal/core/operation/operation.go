// Package operation runs long-running background operations and reports
// their state.
package operation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOperationNotFound = errors.New("operation not found")
	ErrOperationExists   = errors.New("operation already exists")
	ErrUnknownKind       = errors.New("unknown operation kind")
)

// Kind names the handler that runs an operation.
type Kind string

const (
	KindReindex                Kind = "reindex"
	KindDeleteExtendedQueryTag Kind = "delete-extended-query-tag"
	KindUpdateStudy            Kind = "update-study"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusNotStarted Status = "notStarted"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// State is a point-in-time view of an operation.
type State struct {
	ID              uuid.UUID `json:"id"`
	Kind            Kind      `json:"type"`
	Status          Status    `json:"status"`
	PercentComplete int       `json:"percentComplete"`
	Resources       []string  `json:"resources,omitempty"`
	CreatedAt       time.Time `json:"createdTime"`
	LastUpdatedAt   time.Time `json:"lastUpdatedTime"`
	Errors          []string  `json:"errors,omitempty"`

	// Checkpoint is the last progress marker the handler recorded. A later
	// operation taking over the same work resumes from it.
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`
}

// Client starts operations and reads their state.
type Client interface {
	// StartOperation schedules kind with JSON-encodable args under id.
	StartOperation(ctx context.Context, id uuid.UUID, kind Kind, args any) error
	GetState(ctx context.Context, id uuid.UUID) (*State, error)
}

// Handler executes operations of one kind.
type Handler interface {
	Run(ctx context.Context, op *Operation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, op *Operation) error

func (f HandlerFunc) Run(ctx context.Context, op *Operation) error {
	return f(ctx, op)
}

// Operation is the handle a Handler receives.
type Operation struct {
	ID   uuid.UUID
	Kind Kind
	Args json.RawMessage

	job *job
}

// DecodeArgs unmarshals the start arguments into v.
func (o *Operation) DecodeArgs(v any) error {
	if len(o.Args) == 0 {
		return nil
	}
	return json.Unmarshal(o.Args, v)
}

// SetProgress records the completion percentage, clamped to [0, 100].
func (o *Operation) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	o.job.update(func(s *State) { s.PercentComplete = percent })
}

// SetResources records the resources the operation acts on.
func (o *Operation) SetResources(resources ...string) {
	o.job.update(func(s *State) { s.Resources = append([]string(nil), resources...) })
}

// SetCheckpoint records v as the resume point of the operation.
func (o *Operation) SetCheckpoint(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	o.job.update(func(s *State) { s.Checkpoint = raw })
	return nil
}

// DecodeCheckpoint unmarshals the recorded checkpoint into v. It reports
// false when none was recorded.
func (s *State) DecodeCheckpoint(v any) (bool, error) {
	if len(s.Checkpoint) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(s.Checkpoint, v); err != nil {
		return false, err
	}
	return true, nil
}
