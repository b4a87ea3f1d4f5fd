package blob

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/syntrixbase/medstore/internal/core/index"
)

// MemoryStore keeps files in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (s *MemoryStore) AddFile(ctx context.Context, id index.VersionedInstanceIdentifier, r io.Reader) (*index.FileProperties, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := Path(id)
	if _, ok := s.files[key]; ok {
		return nil, ErrFileExists
	}
	s.files[key] = data
	return properties(id, data), nil
}

func (s *MemoryStore) GetFile(ctx context.Context, id index.VersionedInstanceIdentifier) ([]byte, *index.FileProperties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[Path(id)]
	if !ok {
		return nil, nil, ErrFileNotFound
	}
	return append([]byte(nil), data...), properties(id, data), nil
}

func (s *MemoryStore) CopyFile(ctx context.Context, from, to index.VersionedInstanceIdentifier) (*index.FileProperties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[Path(from)]
	if !ok {
		return nil, ErrFileNotFound
	}
	if _, ok := s.files[Path(to)]; ok {
		return nil, ErrFileExists
	}
	s.files[Path(to)] = data
	return properties(to, data), nil
}

func (s *MemoryStore) DeleteFileIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, Path(id))
	return nil
}

// Len returns the number of stored files.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

func (s *MemoryStore) Close() error { return nil }
