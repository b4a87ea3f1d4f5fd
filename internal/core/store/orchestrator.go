// Package store coordinates writes across the index, blob and metadata
// stores: the per-instance store protocol with its rollback, batch stores
// and their response, instance deletion and study updates.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/core/changefeed"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/core/validation"
	"github.com/syntrixbase/medstore/internal/dicom"
	"github.com/syntrixbase/medstore/internal/metrics"
)

// CatalogProvider supplies the indexed attribute snapshot.
type CatalogProvider interface {
	GetQueryTags(ctx context.Context, force bool) (*catalog.Snapshot, error)
}

// InstanceEntry is one decoded instance and its original file. Err marks an
// entry that could not be read; it is reported as failed and never stored.
type InstanceEntry struct {
	Dataset *dicom.Dataset
	File    []byte
	Err     error
}

// InstanceResult describes a stored instance.
type InstanceResult struct {
	Identifier        index.VersionedInstanceIdentifier
	File              *index.FileProperties
	Warnings          []validation.Warning
	InvalidAttributes []dicom.Tag
}

// Dependencies are the collaborators of an Orchestrator. Events, Clock and
// Logger are optional.
type Dependencies struct {
	Index    index.InstanceStore
	Blobs    blob.Store
	Metadata metadata.Store
	Catalog  CatalogProvider
	Queue    *CleanupQueue
	Events   changefeed.Publisher
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Orchestrator stores single instances. A reserved row either ends up
// Created or is handed to the cleanup queue for removal.
type Orchestrator struct {
	index     index.InstanceStore
	blobs     blob.Store
	meta      metadata.Store
	catalog   CatalogProvider
	queue     *CleanupQueue
	events    changefeed.Publisher
	validator *validation.Validator
	clock     clock.Clock
	logger    *slog.Logger
}

func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	if deps.Events == nil {
		deps.Events = changefeed.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		index:     deps.Index,
		blobs:     deps.Blobs,
		meta:      deps.Metadata,
		catalog:   deps.Catalog,
		queue:     deps.Queue,
		events:    deps.Events,
		validator: validation.New(cfg.Validation),
		clock:     deps.Clock,
		logger:    deps.Logger.With("component", "store"),
	}
}

// StoreInstance validates, reserves, persists and finalizes one instance.
// A non-empty requiredStudyUID pins the study the instance must belong to.
func (o *Orchestrator) StoreInstance(ctx context.Context, partition index.PartitionKey, entry InstanceEntry,
	requiredStudyUID string) (*InstanceResult, error) {
	start := o.clock.Now()
	res, err := o.storeInstance(ctx, partition, entry, requiredStudyUID)

	outcome := outcomeOf(err)
	metrics.InstancesStored.WithLabelValues(outcome).Inc()
	metrics.StoreLatency.WithLabelValues(outcome).Observe(o.clock.Since(start).Seconds())
	return res, err
}

func (o *Orchestrator) storeInstance(ctx context.Context, partition index.PartitionKey, entry InstanceEntry,
	requiredStudyUID string) (*InstanceResult, error) {
	ds := entry.Dataset
	if ds == nil {
		return nil, fmt.Errorf("%w: dataset is empty", validation.ErrValidationFailed)
	}

	snap, err := o.catalog.GetQueryTags(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load query tags: %w", err)
	}
	vr := o.validator.Validate(ds, snap.Tags, requiredStudyUID)
	if !vr.Valid() {
		return nil, vr.Err()
	}

	watermark, err := o.index.ReserveInstance(ctx, partition, ds)
	if err != nil {
		return nil, err
	}
	id := index.VersionedInstanceIdentifier{
		InstanceIdentifier: index.IdentifierOf(partition, ds),
		Version:            watermark,
	}

	file, err := o.persist(ctx, id, entry)
	if err == nil {
		vr, err = o.finalize(ctx, id, ds, snap, vr, file, requiredStudyUID)
	}
	if err != nil {
		o.compensate(ctx, id)
		return nil, err
	}

	if err := o.events.Publish(ctx, changefeed.Event{Type: changefeed.EventCreated, VersionedInstanceIdentifier: id}); err != nil {
		o.logger.Warn("Instance stored without change event", "instance", id, "error", err)
	}
	return &InstanceResult{
		Identifier:        id,
		File:              file,
		Warnings:          vr.Warnings,
		InvalidAttributes: vr.InvalidAttributes,
	}, nil
}

// persist writes the file and the metadata of id concurrently.
func (o *Orchestrator) persist(ctx context.Context, id index.VersionedInstanceIdentifier, entry InstanceEntry) (*index.FileProperties, error) {
	var file *index.FileProperties
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := o.blobs.AddFile(gctx, id, bytes.NewReader(entry.File))
		if err != nil {
			return fmt.Errorf("failed to store file: %w", err)
		}
		file = f
		return nil
	})
	g.Go(func() error {
		if err := o.meta.AddInstanceMetadata(gctx, id, entry.Dataset); err != nil {
			return fmt.Errorf("failed to store metadata: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return file, nil
}

// finalize makes id visible. When an extended query tag was added after the
// snapshot was taken, the catalog is reloaded, the dataset revalidated and
// finalize tried once more.
func (o *Orchestrator) finalize(ctx context.Context, id index.VersionedInstanceIdentifier, ds *dicom.Dataset,
	snap *catalog.Snapshot, vr *validation.Result, file *index.FileProperties, requiredStudyUID string) (*validation.Result, error) {
	err := o.index.FinalizeInstance(ctx, id.Partition, vr.Indexable(ds), id.Version, snap.Extended, file, false)
	if !errors.Is(err, index.ErrTagSetStale) {
		return vr, err
	}

	metrics.StaleTagRetries.Inc()
	o.logger.Info("Query tags changed during store, retrying finalize", "instance", id, "generation", snap.Generation)
	snap, err = o.catalog.GetQueryTags(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to reload query tags: %w", err)
	}
	vr = o.validator.Validate(ds, snap.Tags, requiredStudyUID)
	if !vr.Valid() {
		return nil, vr.Err()
	}
	if err := o.index.FinalizeInstance(ctx, id.Partition, vr.Indexable(ds), id.Version, snap.Extended, file, false); err != nil {
		return nil, err
	}
	return vr, nil
}

// compensate queues the removal of everything written for id.
func (o *Orchestrator) compensate(ctx context.Context, id index.VersionedInstanceIdentifier) {
	o.logger.Warn("Rolling back failed store", "instance", id)
	o.queue.Submit(ctx, "rollback "+id.String(), func(ctx context.Context) error {
		return o.rollback(ctx, id)
	})
}

func (o *Orchestrator) rollback(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	watermark := id.Version
	_, err := o.index.DeleteInstanceIndex(ctx, id.Partition, index.DeleteTarget{
		StudyInstanceUID:  id.StudyInstanceUID,
		SeriesInstanceUID: id.SeriesInstanceUID,
		SOPInstanceUID:    id.SOPInstanceUID,
		Watermark:         &watermark,
	}, o.clock.Now())
	if err != nil && !errors.Is(err, index.ErrInstanceNotFound) {
		return fmt.Errorf("failed to delete reserved row: %w", err)
	}
	// a failure below leaves the queued row for the cleanup sweep
	if err := o.blobs.DeleteFileIfExists(ctx, id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if err := o.meta.DeleteInstanceMetadataIfExists(ctx, id); err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return o.index.DeleteDeletedInstance(ctx, id)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, validation.ErrValidationFailed):
		return metrics.OutcomeValidation
	case errors.Is(err, index.ErrInstanceConflict):
		return metrics.OutcomeConflict
	}
	return metrics.OutcomeFailure
}
