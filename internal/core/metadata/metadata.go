// Package metadata stores the DICOM JSON of each stored instance version,
// without bulk binary data.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

var ErrMetadataNotFound = errors.New("instance metadata not found")

// Store keeps instance metadata keyed by versioned identifier.
type Store interface {
	// AddInstanceMetadata writes ds under id, replacing any previous value.
	AddInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier, ds *dicom.Dataset) error
	GetInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier) (*dicom.Dataset, error)
	DeleteInstanceMetadataIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error
	Close() error
}

// Strip returns a copy of ds without binary attributes. Bulk data URIs are
// kept.
func Strip(ds *dicom.Dataset) *dicom.Dataset {
	out := ds.Clone()
	strip(out)
	return out
}

func strip(ds *dicom.Dataset) {
	for _, e := range ds.Elements() {
		switch {
		case e.VR == dicom.SQ:
			for _, item := range e.Items {
				strip(item)
			}
		case e.VR.IsBinary() && e.BulkDataURI == "":
			ds.Remove(e.Tag)
		case e.VR.IsBinary():
			e.InlineBinary = nil
		}
	}
}

func key(id index.VersionedInstanceIdentifier) string {
	return fmt.Sprintf("%d/%s/%s/%s/%d", id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version)
}

const (
	BackendMongo  = "mongo"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

type Config struct {
	Backend string      `yaml:"backend"`
	Mongo   MongoConfig `yaml:"mongo"`
	Bolt    BoltConfig  `yaml:"bolt"`
}

type MongoConfig struct {
	URI          string `yaml:"uri"`
	DatabaseName string `yaml:"database_name"`
	Collection   string `yaml:"collection"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendBolt,
		Mongo: MongoConfig{
			URI:          "mongodb://localhost:27017",
			DatabaseName: "medstore",
			Collection:   "instance_metadata",
		},
		Bolt: BoltConfig{Path: "data/metadata.db"},
	}
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBolt, "":
		return NewBoltStore(cfg.Bolt.Path)
	case BackendMongo:
		return NewMongoStore(ctx, cfg.Mongo, logger)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Backend)
	}
}
