package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

var bucketInstances = []byte("instances")

// BoltStore keeps metadata in an embedded bbolt file for standalone mode.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("metadata bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketInstances)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketInstances, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) AddInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier, ds *dicom.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Strip(ds).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", id, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInstances).Put([]byte(key(id)), data)
	})
}

func (s *BoltStore) GetInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier) (*dicom.Dataset, error) {
	var ds *dicom.Dataset
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketInstances).Get([]byte(key(id)))
		if data == nil {
			return ErrMetadataNotFound
		}
		// data is only valid inside the transaction
		parsed, err := dicom.ParseJSON(data)
		if err != nil {
			return fmt.Errorf("decode metadata %s: %w", id, err)
		}
		ds = parsed
		return nil
	})
	return ds, err
}

func (s *BoltStore) DeleteInstanceMetadataIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete([]byte(key(id)))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
