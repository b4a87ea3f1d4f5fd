package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/changefeed"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/validation"
	"github.com/syntrixbase/medstore/internal/dicom"
)

var ErrInvalidUpdate = errors.New("invalid study update")

var updatable = func() map[dicom.Tag]bool {
	m := make(map[dicom.Tag]bool, len(index.PatientAttributes))
	for _, t := range index.PatientAttributes {
		m[t] = true
	}
	return m
}()

// UpdateResult lists the versions written by a study update.
type UpdateResult struct {
	StudyInstanceUID string                              `json:"study_instance_uid"`
	Updated          []index.VersionedInstanceIdentifier `json:"updated"`
}

// UpdateService rewrites the patient attributes of every instance of a
// study. Each instance gets a new version; the previous files stay until
// the update commits.
type UpdateService struct {
	index       index.InstanceStore
	blobs       blob.Store
	meta        metadata.Store
	events      changefeed.Publisher
	clock       clock.Clock
	concurrency int
	logger      *slog.Logger
}

func NewUpdateService(deps Dependencies, cfg Config) *UpdateService {
	if deps.Events == nil {
		deps.Events = changefeed.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.UpdateConcurrency <= 0 {
		cfg.UpdateConcurrency = DefaultConfig().UpdateConcurrency
	}
	return &UpdateService{
		index:       deps.Index,
		blobs:       deps.Blobs,
		meta:        deps.Metadata,
		events:      deps.Events,
		clock:       deps.Clock,
		concurrency: cfg.UpdateConcurrency,
		logger:      deps.Logger.With("component", "update-service"),
	}
}

func checkChanges(changes *dicom.Dataset) error {
	if changes.Len() == 0 {
		return fmt.Errorf("%w: no attributes to change", ErrInvalidUpdate)
	}
	for _, e := range changes.Elements() {
		if !updatable[e.Tag] {
			return fmt.Errorf("%w: attribute %s cannot be updated", ErrInvalidUpdate, e.Tag)
		}
		entry, _ := dicom.Lookup(e.Tag)
		if e.VR != entry.VR {
			return fmt.Errorf("%w: attribute %s must have VR %s", ErrInvalidUpdate, e.Tag, entry.VR)
		}
		for _, v := range e.Values {
			if err := validation.ValidateValue(e.VR, v); err != nil {
				return fmt.Errorf("%w: attribute %s: %v", ErrInvalidUpdate, e.Tag, err)
			}
		}
	}
	return nil
}

// UpdateStudy applies changes to every instance of the study.
func (s *UpdateService) UpdateStudy(ctx context.Context, partition index.PartitionKey, studyUID string, changes *dicom.Dataset) (*UpdateResult, error) {
	if !validation.ValidUID(studyUID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStudyUID, studyUID)
	}
	if err := checkChanges(changes); err != nil {
		return nil, err
	}

	versions, err := s.index.BeginUpdateInstances(ctx, partition, studyUID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("study", studyUID)
	logger.Info("Updating study", "instances", len(versions))

	updated := make([]index.VersionedInstanceIdentifier, len(versions))
	merged := make([]*dicom.Dataset, len(versions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, v := range versions {
		g.Go(func() error {
			next := index.VersionedInstanceIdentifier{InstanceIdentifier: v.InstanceIdentifier, Version: v.NewWatermark}
			ds, err := s.rewrite(gctx, v.VersionedInstanceIdentifier, next, changes)
			if err != nil {
				return fmt.Errorf("instance %s: %w", v.VersionedInstanceIdentifier, err)
			}
			updated[i], merged[i] = next, ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.abort(ctx, partition, studyUID, err)
		return nil, err
	}

	// every instance now carries the same patient attributes
	if err := s.index.EndUpdateInstances(ctx, partition, studyUID, merged[0]); err != nil {
		s.abort(ctx, partition, studyUID, err)
		return nil, err
	}

	for _, id := range updated {
		if err := s.events.Publish(ctx, changefeed.Event{Type: changefeed.EventUpdated, VersionedInstanceIdentifier: id}); err != nil {
			logger.Warn("Instance updated without change event", "instance", id, "error", err)
		}
	}
	logger.Info("Study updated", "instances", len(updated))
	return &UpdateResult{StudyInstanceUID: studyUID, Updated: updated}, nil
}

// rewrite writes the metadata and file of next from those of prev.
func (s *UpdateService) rewrite(ctx context.Context, prev, next index.VersionedInstanceIdentifier, changes *dicom.Dataset) (*dicom.Dataset, error) {
	ds, err := s.meta.GetInstanceMetadata(ctx, prev)
	if err != nil {
		return nil, err
	}
	ds.Merge(changes)
	if err := s.meta.AddInstanceMetadata(ctx, next, ds); err != nil {
		return nil, err
	}
	if _, err := s.blobs.CopyFile(ctx, prev, next); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *UpdateService) abort(ctx context.Context, partition index.PartitionKey, studyUID string, cause error) {
	s.logger.Warn("Aborting study update", "study", studyUID, "error", cause)
	if err := s.index.AbortUpdateInstances(context.WithoutCancel(ctx), partition, studyUID, s.clock.Now()); err != nil {
		s.logger.Error("Failed to abort study update", "study", studyUID, "error", err)
	}
}

// UpdateStudyArgs are the arguments of an update-study operation.
type UpdateStudyArgs struct {
	Partition        index.PartitionKey `json:"partition"`
	StudyInstanceUID string             `json:"study_instance_uid"`
	Changes          *dicom.Dataset     `json:"changes"`
}

// Handler runs study updates as operations.
func (s *UpdateService) Handler() operation.Handler {
	return operation.HandlerFunc(func(ctx context.Context, op *operation.Operation) error {
		var args UpdateStudyArgs
		if err := op.DecodeArgs(&args); err != nil {
			return fmt.Errorf("decode arguments: %w", err)
		}
		if args.Partition == 0 {
			args.Partition = index.DefaultPartition
		}
		op.SetResources("studies/" + args.StudyInstanceUID)
		if _, err := s.UpdateStudy(ctx, args.Partition, args.StudyInstanceUID, args.Changes); err != nil {
			return err
		}
		op.SetProgress(100)
		return nil
	})
}
