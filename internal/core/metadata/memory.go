package metadata

import (
	"context"
	"sync"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*dicom.Dataset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*dicom.Dataset)}
}

func (s *MemoryStore) AddInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier, ds *dicom.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stripped := Strip(ds)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key(id)] = stripped
	return nil
}

func (s *MemoryStore) GetInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier) (*dicom.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.items[key(id)]
	if !ok {
		return nil, ErrMetadataNotFound
	}
	return ds.Clone(), nil
}

func (s *MemoryStore) DeleteInstanceMetadataIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key(id))
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error { return nil }
