// Package xqt manages extended query tags: validating and adding
// definitions, deleting them, and the background operations that backfill
// or purge their indexed values.
package xqt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/operation"
)

// Invalidator drops cached catalog snapshots.
type Invalidator interface {
	Invalidate()
}

// AddResult lists the stored tags and, when they are being backfilled, the
// reindex operation doing it.
type AddResult struct {
	Tags        []index.ExtendedQueryTag `json:"tags"`
	OperationID *uuid.UUID               `json:"operation_id,omitempty"`
}

type AddService struct {
	store   index.TagStore
	ops     operation.Client
	catalog Invalidator
	cfg     Config
	logger  *slog.Logger
}

func NewAddService(store index.TagStore, ops operation.Client, catalog Invalidator, cfg Config, logger *slog.Logger) *AddService {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &AddService{
		store:   store,
		ops:     ops,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.With("component", "xqt-add"),
	}
}

// AddExtendedQueryTags validates and stores entries.
func (s *AddService) AddExtendedQueryTags(ctx context.Context, entries []Entry) (*AddResult, error) {
	normalized, err := NormalizeEntries(entries)
	if err != nil {
		return nil, err
	}

	tags, err := s.store.AddExtendedQueryTags(ctx, normalized, s.cfg.MaxAllowedCount, !s.cfg.ReindexOnAdd)
	if err != nil {
		return nil, err
	}
	s.catalog.Invalidate()
	s.logger.Info("Extended query tags added", "count", len(tags), "reindex", s.cfg.ReindexOnAdd)

	res := &AddResult{Tags: tags}
	if !s.cfg.ReindexOnAdd {
		return res, nil
	}

	id := uuid.New()
	keys := make([]int32, len(tags))
	for i, t := range tags {
		keys[i] = t.Key
	}
	assigned, err := s.store.AssignReindexingOperation(ctx, keys, id, false)
	if err != nil {
		s.rollback(ctx, tags, id)
		return nil, fmt.Errorf("failed to assign reindex operation: %w", err)
	}
	if err := s.ops.StartOperation(ctx, id, operation.KindReindex, ReindexArgs{Keys: keys}); err != nil {
		s.rollback(ctx, tags, id)
		return nil, fmt.Errorf("failed to start reindex operation: %w", err)
	}
	res.Tags = assigned
	res.OperationID = &id
	return res, nil
}

// rollback removes tags added for a reindex that could not be scheduled, so
// the request can be retried. Tags it fails to remove stay Adding and
// unassigned; a later reindex or delete can still act on them.
func (s *AddService) rollback(ctx context.Context, tags []index.ExtendedQueryTag, id uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	keys := make([]int32, len(tags))
	for i, t := range tags {
		keys[i] = t.Key
	}
	if err := s.store.ReleaseReindexingOperation(ctx, keys, id); err != nil {
		s.logger.Error("Failed to release reindex assignment", "operation", id, "error", err)
		return
	}
	for _, t := range tags {
		err := s.store.UpdateExtendedQueryTagStatusToDeleting(ctx, t.Key)
		if err == nil {
			err = s.store.DeleteExtendedQueryTagEntry(ctx, t.Key, t.VR)
		}
		if err != nil {
			s.logger.Error("Failed to roll back extended query tag", "tag", t.Path, "error", err)
		}
	}
	s.catalog.Invalidate()
}
