package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"

	"github.com/syntrixbase/medstore/internal/core/index"
)

// Config configures the PebbleStore.
type Config struct {
	// Backend selects pebble or memory.
	Backend string `yaml:"backend"`

	// Path is the directory of the database.
	Path string `yaml:"path"`

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64 `yaml:"block_cache_size"`
}

const (
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendPebble,
		Path:           "data/blob",
		BlockCacheSize: 64 * 1024 * 1024, // 64MB
	}
}

// PebbleStore keeps files in a local PebbleDB.
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger

	// serializes existence checks with writes
	mu     sync.Mutex
	closed bool
}

// NewPebbleStore opens or creates the database at cfg.Path.
func NewPebbleStore(cfg Config, logger *slog.Logger) (*PebbleStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("blob store path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "blob-store")

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	cacheSize := cfg.BlockCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultConfig().BlockCacheSize
	}
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(cfg.Path, &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	logger.Info("Blob store opened", "path", cfg.Path)
	return &PebbleStore{db: db, logger: logger}, nil
}

func fileKey(id index.VersionedInstanceIdentifier) []byte {
	return []byte("file/" + Path(id))
}

func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *PebbleStore) exists(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) put(key, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pebble.ErrClosed
	}
	ok, err := s.exists(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrFileExists
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *PebbleStore) AddFile(ctx context.Context, id index.VersionedInstanceIdentifier, r io.Reader) (*index.FileProperties, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.put(fileKey(id), data); err != nil {
		if errors.Is(err, ErrFileExists) {
			return nil, err
		}
		return nil, fmt.Errorf("write file %s: %w", id, err)
	}
	return properties(id, data), nil
}

func (s *PebbleStore) GetFile(ctx context.Context, id index.VersionedInstanceIdentifier) ([]byte, *index.FileProperties, error) {
	data, err := s.get(fileKey(id))
	if err != nil {
		return nil, nil, err
	}
	return data, properties(id, data), nil
}

func (s *PebbleStore) CopyFile(ctx context.Context, from, to index.VersionedInstanceIdentifier) (*index.FileProperties, error) {
	data, err := s.get(fileKey(from))
	if err != nil {
		return nil, err
	}
	if err := s.put(fileKey(to), data); err != nil {
		return nil, err
	}
	return properties(to, data), nil
}

func (s *PebbleStore) DeleteFileIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	if err := s.db.Delete(fileKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble database: %w", err)
	}
	return nil
}

// Open builds the store selected by cfg.Backend.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendPebble, "":
		return NewPebbleStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
