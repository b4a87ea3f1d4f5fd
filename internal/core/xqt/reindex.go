package xqt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/metrics"
)

// Index is the part of the index store the background handlers use.
type Index interface {
	index.InstanceStore
	index.TagStore
}

// ReindexArgs are the arguments of a reindex operation. After resumes the
// backfill past an already processed watermark. The operation records its
// progress as a ReindexArgs checkpoint after every batch window.
type ReindexArgs struct {
	Keys  []int32 `json:"keys"`
	After int64   `json:"after,omitempty"`
}

// Reindexer backfills Adding tags over existing instances and marks them
// Ready.
type Reindexer struct {
	index   Index
	meta    metadata.Store
	ops     operation.Client
	catalog Invalidator
	cfg     BatchConfig
	logger  *slog.Logger
}

func NewReindexer(idx Index, meta metadata.Store, ops operation.Client, catalog Invalidator, cfg Config, logger *slog.Logger) *Reindexer {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reindexer{
		index:   idx,
		meta:    meta,
		ops:     ops,
		catalog: catalog,
		cfg:     cfg.Reindex,
		logger:  logger.With("component", "reindexer"),
	}
}

func (r *Reindexer) Run(ctx context.Context, op *operation.Operation) error {
	var args ReindexArgs
	if err := op.DecodeArgs(&args); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	current, err := r.index.GetExtendedQueryTagsByKey(ctx, args.Keys)
	if err != nil {
		return err
	}
	freed, err := releaseStale(ctx, r.index, r.ops, current, op.ID, r.logger)
	if err != nil {
		return fmt.Errorf("release ended assignments: %w", err)
	}
	assigned, err := r.index.AssignReindexingOperation(ctx, args.Keys, op.ID, true)
	if err != nil {
		return err
	}
	var tags []index.ExtendedQueryTag
	var resources []string
	for _, t := range assigned {
		resources = append(resources, "extendedquerytags/"+t.Path)
		if t.Status == index.TagStatusAdding && t.OperationID != nil && *t.OperationID == op.ID {
			tags = append(tags, t)
		}
	}
	op.SetResources(resources...)
	if len(tags) == 0 {
		op.SetProgress(100)
		return nil
	}

	// resume from the earliest point any owned tag has reached
	keys := make([]int32, len(tags))
	after := int64(-1)
	for i, t := range tags {
		keys[i] = t.Key
		start := args.After
		if prev, ok := freed[t.Key]; ok {
			start = prev
		}
		if after < 0 || start < after {
			after = start
		}
	}

	logger := r.logger.With("operation", op.ID, "tags", len(tags))
	max, err := r.index.MaxWatermark(ctx)
	if err != nil {
		return err
	}
	logger.Info("Reindex started", "after", after, "max_watermark", max)
	if err := op.SetCheckpoint(ReindexArgs{Keys: keys, After: after}); err != nil {
		return err
	}

	for after < max {
		ranges, err := r.index.GetInstanceBatches(ctx, r.cfg.BatchSize, r.cfg.BatchCount, after, max)
		if err != nil {
			return err
		}
		if len(ranges) == 0 {
			break
		}

		errs := make(map[int32]int)
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, wr := range ranges {
			g.Go(func() error {
				failed, err := r.reindexRange(gctx, wr, tags)
				mu.Lock()
				for k, n := range failed {
					errs[k] += n
				}
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("reindex past watermark %d: %w", after, err)
		}
		// error counts of a window land together with its checkpoint
		for _, k := range keys {
			if n := errs[k]; n > 0 {
				if err := r.index.IncrementExtendedQueryTagErrorCount(ctx, k, n); err != nil {
					return err
				}
			}
		}
		after = ranges[len(ranges)-1].End
		if err := op.SetCheckpoint(ReindexArgs{Keys: keys, After: after}); err != nil {
			return err
		}
		if max > 0 {
			op.SetProgress(int(after * 100 / max))
		}
		logger.Debug("Reindex checkpoint", "after", after)
	}

	if _, err := r.index.CompleteReindexing(ctx, keys); err != nil {
		return err
	}
	r.catalog.Invalidate()
	op.SetProgress(100)
	logger.Info("Reindex completed")
	return nil
}

// reindexRange indexes every instance in wr and returns the extraction
// failures per tag key.
func (r *Reindexer) reindexRange(ctx context.Context, wr index.WatermarkRange, tags []index.ExtendedQueryTag) (map[int32]int, error) {
	ids, err := r.index.GetInstancesByWatermarkRange(ctx, wr)
	if err != nil {
		return nil, err
	}
	failed := make(map[int32]int)
	for _, id := range ids {
		bad, err := r.reindexInstance(ctx, id, tags)
		if err != nil {
			return failed, err
		}
		for k := range bad {
			failed[k]++
		}
	}
	return failed, nil
}

// maxVersionChases bounds how often reindexInstance follows an instance
// that keeps getting a new watermark under it.
const maxVersionChases = 3

// reindexInstance indexes one instance. When the version read from the batch
// was replaced in the meantime, the current version is indexed instead, as
// its watermark may lie in a window already processed.
func (r *Reindexer) reindexInstance(ctx context.Context, id index.VersionedInstanceIdentifier, tags []index.ExtendedQueryTag) (map[int32]error, error) {
	for attempt := 0; ; attempt++ {
		ds, err := r.meta.GetInstanceMetadata(ctx, id)
		if errors.Is(err, metadata.ErrMetadataNotFound) {
			r.logger.Warn("Skipping instance without metadata", "instance", id)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		_, bad := index.ExtractValues(ds, tags)

		err = r.index.ReindexInstance(ctx, id, ds, tags)
		if err == nil {
			metrics.ReindexErrors.Add(float64(len(bad)))
			metrics.ReindexedInstances.Inc()
			return bad, nil
		}
		if !errors.Is(err, index.ErrInstanceNotFound) {
			return nil, err
		}

		rec, err := r.index.GetInstance(ctx, id.InstanceIdentifier)
		if errors.Is(err, index.ErrInstanceNotFound) {
			// deleted since the batch was read
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.Version == id.Version || attempt >= maxVersionChases {
			r.logger.Warn("Skipping instance that changed during reindex", "instance", id, "current", rec.Version)
			return nil, nil
		}
		id = rec.VersionedInstanceIdentifier
	}
}
