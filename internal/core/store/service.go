package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/validation"
	"github.com/syntrixbase/medstore/internal/dicom"
)

var (
	ErrNoInstances     = errors.New("no instances to store")
	ErrInvalidStudyUID = errors.New("invalid study instance UID")
)

// InstanceStorer stores single instances.
type InstanceStorer interface {
	StoreInstance(ctx context.Context, partition index.PartitionKey, entry InstanceEntry, requiredStudyUID string) (*InstanceResult, error)
}

// Service stores batches of instances.
type Service struct {
	storer InstanceStorer
	logger *slog.Logger
}

func NewService(storer InstanceStorer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{storer: storer, logger: logger.With("component", "store-service")}
}

// Store stores entries one by one and reports each outcome. Errors that
// concern the whole batch are returned before any instance is touched.
func (s *Service) Store(ctx context.Context, partition index.PartitionKey, entries []InstanceEntry, requiredStudyUID string) (*Response, error) {
	if len(entries) == 0 {
		return nil, ErrNoInstances
	}
	studyUID := strings.TrimSpace(requiredStudyUID)
	if requiredStudyUID != "" && !validation.ValidUID(studyUID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStudyUID, requiredStudyUID)
	}

	b := NewResponseBuilder(studyUID)
	for _, entry := range entries {
		if entry.Dataset == nil {
			entry.Dataset = dicom.NewDataset()
		}
		if entry.Err != nil {
			s.logger.Info("Instance not readable", "error", entry.Err)
			b.AddFailure(entry.Dataset, entry.Err)
			continue
		}
		res, err := s.storer.StoreInstance(ctx, partition, entry, studyUID)
		if err != nil {
			s.logger.Info("Instance not stored", "sop_instance_uid", entry.Dataset.SOPInstanceUID(), "error", err)
			b.AddFailure(entry.Dataset, err)
			continue
		}
		b.AddSuccess(entry.Dataset, res)
	}
	resp := b.Build()
	s.logger.Debug("Batch stored", "status", resp.Status, "stored", len(resp.Referenced), "failed", len(resp.Failed))
	return resp, nil
}
