package xqt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/dicom"
)

// PurgeArgs are the arguments of a delete-extended-query-tag operation.
type PurgeArgs struct {
	Key  int32    `json:"key"`
	VR   dicom.VR `json:"vr"`
	Path string   `json:"path"`
}

// Purger removes the values of a Deleting tag batch by batch, then its
// definition.
type Purger struct {
	store   index.TagStore
	catalog Invalidator
	cfg     BatchConfig
	logger  *slog.Logger
}

func NewPurger(store index.TagStore, catalog Invalidator, cfg Config, logger *slog.Logger) *Purger {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		store:   store,
		catalog: catalog,
		cfg:     cfg.Purge,
		logger:  logger.With("component", "purger"),
	}
}

func (p *Purger) Run(ctx context.Context, op *operation.Operation) error {
	var args PurgeArgs
	if err := op.DecodeArgs(&args); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	op.SetResources("extendedquerytags/" + args.Path)
	logger := p.logger.With("operation", op.ID, "tag", args.Path)

	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ranges, err := p.store.GetExtendedQueryTagBatches(ctx, p.cfg.BatchSize, p.cfg.BatchCount, args.VR, args.Key)
		if err != nil {
			return err
		}
		if len(ranges) == 0 {
			break
		}
		for _, r := range ranges {
			if err := p.store.DeleteExtendedQueryTagDataByWatermarkRange(ctx, r, args.VR, args.Key); err != nil {
				return fmt.Errorf("purge %s: %w", r, err)
			}
			batches++
		}
		logger.Debug("Purged extended query tag values", "batches", batches)
	}

	if err := p.store.DeleteExtendedQueryTagEntry(ctx, args.Key, args.VR); err != nil {
		return err
	}
	p.catalog.Invalidate()
	op.SetProgress(100)
	logger.Info("Extended query tag purged", "batches", batches)
	return nil
}
