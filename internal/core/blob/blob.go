// Package blob stores the original instance files, one per watermark.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/syntrixbase/medstore/internal/core/index"
)

var (
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
)

// Store holds instance files keyed by versioned identifier.
type Store interface {
	// AddFile writes r under id. It fails with ErrFileExists when id is
	// already present.
	AddFile(ctx context.Context, id index.VersionedInstanceIdentifier, r io.Reader) (*index.FileProperties, error)
	GetFile(ctx context.Context, id index.VersionedInstanceIdentifier) ([]byte, *index.FileProperties, error)
	// CopyFile duplicates the file of from under to.
	CopyFile(ctx context.Context, from, to index.VersionedInstanceIdentifier) (*index.FileProperties, error)
	// DeleteFileIfExists removes the file of id; a missing file is not an error.
	DeleteFileIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error
	Close() error
}

// Path returns the storage path of a versioned instance.
func Path(id index.VersionedInstanceIdentifier) string {
	return fmt.Sprintf("%d/%s/%s/%s_%d.dcm", id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version)
}

// ETag returns the content hash used as entity tag.
func ETag(data []byte) string {
	sum := blake3.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func properties(id index.VersionedInstanceIdentifier, data []byte) *index.FileProperties {
	return &index.FileProperties{
		Path:          Path(id),
		ETag:          ETag(data),
		ContentLength: int64(len(data)),
	}
}
