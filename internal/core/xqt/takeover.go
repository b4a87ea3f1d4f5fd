package xqt

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/operation"
)

// releaseStale frees the Adding tags among tags that are held by a reindex
// operation other than self which has ended or which ops no longer knows.
// It returns, per freed key, the watermark the previous holder had reached.
func releaseStale(ctx context.Context, store index.TagStore, ops operation.Client, tags []index.ExtendedQueryTag, self uuid.UUID, logger *slog.Logger) (map[int32]int64, error) {
	held := make(map[uuid.UUID][]int32)
	for _, t := range tags {
		if t.Status != index.TagStatusAdding || t.OperationID == nil || *t.OperationID == self {
			continue
		}
		held[*t.OperationID] = append(held[*t.OperationID], t.Key)
	}

	freed := make(map[int32]int64)
	for holder, keys := range held {
		after, stale, err := holderCheckpoint(ctx, ops, holder)
		if err != nil {
			return nil, err
		}
		if !stale {
			continue
		}
		if err := store.ReleaseReindexingOperation(ctx, keys, holder); err != nil {
			return nil, err
		}
		logger.Info("Released tags of ended reindex operation", "holder", holder, "keys", keys, "after", after)
		for _, k := range keys {
			freed[k] = after
		}
	}
	return freed, nil
}

// holderCheckpoint reports whether the operation id has ended and, if so,
// the watermark its last checkpoint recorded.
func holderCheckpoint(ctx context.Context, ops operation.Client, id uuid.UUID) (int64, bool, error) {
	st, err := ops.GetState(ctx, id)
	if errors.Is(err, operation.ErrOperationNotFound) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !st.Status.Terminal() {
		return 0, false, nil
	}
	var cp ReindexArgs
	if ok, err := st.DecodeCheckpoint(&cp); err != nil || !ok {
		return 0, true, nil
	}
	return cp.After, true, nil
}
