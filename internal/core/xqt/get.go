package xqt

import (
	"context"

	"github.com/syntrixbase/medstore/internal/core/index"
)

type GetService struct {
	store index.TagStore
}

func NewGetService(store index.TagStore) *GetService {
	return &GetService{store: store}
}

// ListExtendedQueryTags pages through all tags. A zero limit returns all.
func (s *GetService) ListExtendedQueryTags(ctx context.Context, limit, offset int) ([]index.ExtendedQueryTag, error) {
	if limit < 0 || offset < 0 {
		return nil, entryError(CodeInvalidTag, "", "limit and offset must not be negative")
	}
	return s.store.ListExtendedQueryTags(ctx, index.TagListOptions{Limit: limit, Offset: offset})
}

// GetExtendedQueryTag returns the tag stored under path, given as
// "GGGGEEEE", "(GGGG,EEEE)" or a keyword.
func (s *GetService) GetExtendedQueryTag(ctx context.Context, path string) (*index.ExtendedQueryTag, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return s.store.GetExtendedQueryTag(ctx, normalized)
}
