package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

type metadataDocument struct {
	ID        string `bson:"_id"`
	Partition int32  `bson:"partition"`
	Study     string `bson:"study_instance_uid"`
	Series    string `bson:"series_instance_uid"`
	SOP       string `bson:"sop_instance_uid"`
	Watermark int64  `bson:"watermark"`
	// DICOM JSON
	Dataset   string    `bson:"dataset"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps metadata documents in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoStore connects to cfg.URI and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clientOpts := options.Client().ApplyURI(cfg.URI)
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(10 * time.Second)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "instance_metadata"
	}
	s := NewMongoStoreFromDatabase(client.Database(cfg.DatabaseName), collection, logger)
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// NewMongoStoreFromDatabase wraps an existing database handle. Close does not
// disconnect a client it did not create.
func NewMongoStoreFromDatabase(db *mongo.Database, collection string, logger *slog.Logger) *MongoStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoStore{
		coll:   db.Collection(collection),
		logger: logger.With("component", "metadata-store"),
	}
}

// EnsureIndexes creates the lookup index by instance identifier.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "partition", Value: 1},
			{Key: "study_instance_uid", Value: 1},
			{Key: "series_instance_uid", Value: 1},
			{Key: "sop_instance_uid", Value: 1},
		},
	})
	return err
}

func (s *MongoStore) AddInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier, ds *dicom.Dataset) error {
	data, err := Strip(ds).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", id, err)
	}
	doc := metadataDocument{
		ID:        key(id),
		Partition: int32(id.Partition),
		Study:     id.StudyInstanceUID,
		Series:    id.SeriesInstanceUID,
		SOP:       id.SOPInstanceUID,
		Watermark: id.Version,
		Dataset:   string(data),
		UpdatedAt: time.Now().UTC(),
	}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetInstanceMetadata(ctx context.Context, id index.VersionedInstanceIdentifier) (*dicom.Dataset, error) {
	var doc metadataDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": key(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMetadataNotFound
		}
		return nil, err
	}
	ds, err := dicom.ParseJSON([]byte(doc.Dataset))
	if err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", id, err)
	}
	return ds, nil
}

func (s *MongoStore) DeleteInstanceMetadataIfExists(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": key(id)})
	return err
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
