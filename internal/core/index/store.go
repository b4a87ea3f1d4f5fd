// Package index defines the relational index of instances and extended query
// tags: row types, the store contracts, sentinel errors and the extraction of
// indexed values from datasets.
package index

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/medstore/internal/dicom"
)

// InstanceStore owns the instance state machine. Rows are reserved in
// StatusCreating and only become visible to read paths once finalized.
type InstanceStore interface {
	// ReserveInstance inserts a Creating row and returns its new watermark.
	// A taken identifier yields a *ConflictError.
	ReserveInstance(ctx context.Context, partition PartitionKey, ds *dicom.Dataset) (int64, error)

	// FinalizeInstance moves the reserved row to Created, writes its core
	// columns and the values of tags. It fails with ErrTagSetStale when a
	// queryable tag newer than every key in tags exists, unless
	// allowExpiredTags is set. Tags that are now Deleting or gone are skipped.
	FinalizeInstance(ctx context.Context, partition PartitionKey, ds *dicom.Dataset, watermark int64,
		tags []ExtendedQueryTag, file *FileProperties, allowExpiredTags bool) error

	// DeleteInstanceIndex moves matching rows of any status to the cleanup
	// queue and returns every file version that must be removed.
	DeleteInstanceIndex(ctx context.Context, partition PartitionKey, target DeleteTarget,
		cleanupAfter time.Time) ([]VersionedInstanceIdentifier, error)

	RetrieveDeletedInstances(ctx context.Context, batchSize, maxRetries int) ([]DeletedInstance, error)
	IncrementDeletedInstanceRetry(ctx context.Context, id VersionedInstanceIdentifier, cleanupAfter time.Time) (int, error)
	DeleteDeletedInstance(ctx context.Context, id VersionedInstanceIdentifier) error
	CountExhaustedDeletedInstances(ctx context.Context, maxRetries int) (int, error)

	// ReapStaleReservations queues Creating rows reserved before createdBefore
	// for cleanup and returns how many were moved.
	ReapStaleReservations(ctx context.Context, createdBefore, cleanupAfter time.Time, limit int) (int, error)

	BeginUpdateInstances(ctx context.Context, partition PartitionKey, studyUID string) ([]InstanceVersion, error)
	EndUpdateInstances(ctx context.Context, partition PartitionKey, studyUID string, ds *dicom.Dataset) error
	AbortUpdateInstances(ctx context.Context, partition PartitionKey, studyUID string, cleanupAfter time.Time) error

	GetInstance(ctx context.Context, id InstanceIdentifier) (*InstanceRecord, error)
	// GetInstanceIdentifiers lists Created instances of a study, or of one
	// series when seriesUID is set.
	GetInstanceIdentifiers(ctx context.Context, partition PartitionKey, studyUID, seriesUID string) ([]VersionedInstanceIdentifier, error)
	MaxWatermark(ctx context.Context) (int64, error)
	// GetInstanceBatches splits the Created watermarks in (after, max] into
	// at most batchCount ranges of batchSize rows, oldest first.
	GetInstanceBatches(ctx context.Context, batchSize, batchCount int, after, max int64) ([]WatermarkRange, error)
	GetInstancesByWatermarkRange(ctx context.Context, r WatermarkRange) ([]VersionedInstanceIdentifier, error)
	// ReindexInstance upserts the values of tags for a Created watermark.
	ReindexInstance(ctx context.Context, id VersionedInstanceIdentifier, ds *dicom.Dataset, tags []ExtendedQueryTag) error
}

// TagStore owns extended query tag definitions and their value tables.
type TagStore interface {
	// AddExtendedQueryTags stores entries as Ready, or Adding when ready is
	// false. The total number of tags may not exceed maxAllowed.
	AddExtendedQueryTags(ctx context.Context, entries []ExtendedQueryTagEntry, maxAllowed int, ready bool) ([]ExtendedQueryTag, error)
	ListExtendedQueryTags(ctx context.Context, opts TagListOptions) ([]ExtendedQueryTag, error)
	GetExtendedQueryTag(ctx context.Context, path string) (*ExtendedQueryTag, error)
	GetExtendedQueryTagsByKey(ctx context.Context, keys []int32) ([]ExtendedQueryTag, error)

	// AssignReindexingOperation claims the unassigned Adding tags among keys
	// for operationID and returns the tags it owns. With returnIfCompleted,
	// Ready tags among keys are returned too.
	AssignReindexingOperation(ctx context.Context, keys []int32, operationID uuid.UUID, returnIfCompleted bool) ([]ExtendedQueryTag, error)
	// ReleaseReindexingOperation clears the assignment of the Adding tags
	// among keys that operationID still holds.
	ReleaseReindexingOperation(ctx context.Context, keys []int32, operationID uuid.UUID) error
	// CompleteReindexing moves assigned Adding tags to Ready.
	CompleteReindexing(ctx context.Context, keys []int32) ([]ExtendedQueryTag, error)
	// UpdateExtendedQueryTagStatusToDeleting fails with ErrExtendedQueryTagBusy
	// when the tag is already Deleting or assigned to a reindex operation.
	UpdateExtendedQueryTagStatusToDeleting(ctx context.Context, key int32) error
	IncrementExtendedQueryTagErrorCount(ctx context.Context, key int32, delta int) error

	// GetExtendedQueryTagBatches splits the watermarks holding values of the
	// tag into at most batchCount ranges, oldest first.
	GetExtendedQueryTagBatches(ctx context.Context, batchSize, batchCount int, vr dicom.VR, key int32) ([]WatermarkRange, error)
	DeleteExtendedQueryTagDataByWatermarkRange(ctx context.Context, r WatermarkRange, vr dicom.VR, key int32) error
	// DeleteExtendedQueryTagEntry drops the remaining values and the
	// definition of a Deleting tag.
	DeleteExtendedQueryTagEntry(ctx context.Context, key int32, vr dicom.VR) error
}

// Store is the full index contract.
type Store interface {
	InstanceStore
	TagStore
	Close(ctx context.Context) error
}
