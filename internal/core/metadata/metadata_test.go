package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

func versioned(version int64) index.VersionedInstanceIdentifier {
	return index.VersionedInstanceIdentifier{
		InstanceIdentifier: index.InstanceIdentifier{
			Partition:         index.DefaultPartition,
			StudyInstanceUID:  "1.2.3",
			SeriesInstanceUID: "1.2.3.4",
			SOPInstanceUID:    "1.2.3.4.5",
		},
		Version: version,
	}
}

func sampleDataset() *dicom.Dataset {
	ds := dicom.NewDataset().
		Set(dicom.StudyInstanceUID, dicom.UI, "1.2.3").
		Set(dicom.SeriesInstanceUID, dicom.UI, "1.2.3.4").
		Set(dicom.SOPInstanceUID, dicom.UI, "1.2.3.4.5").
		Set(dicom.PatientName, dicom.PN, "Doe^Jane").
		Set(dicom.Rows, dicom.US, "512")
	ds.Put(&dicom.Element{Tag: dicom.PixelData, VR: dicom.OW, InlineBinary: []byte{1, 2, 3, 4}})
	return ds
}

func backends(t *testing.T) map[string]Store {
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "meta", "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
	if m := mongoStore(t); m != nil {
		stores["mongo"] = m
	}
	return stores
}

// mongoStore connects to MEDSTORE_TEST_MONGO_URI when set.
func mongoStore(t *testing.T) Store {
	uri := os.Getenv("MEDSTORE_TEST_MONGO_URI")
	if uri == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := NewMongoStore(ctx, MongoConfig{
		URI:          uri,
		DatabaseName: "medstore_test",
		Collection:   "metadata_" + time.Now().Format("150405.000000"),
	}, nil)
	if err != nil {
		t.Logf("mongo unavailable: %v", err)
		return nil
	}
	t.Cleanup(func() {
		s.coll.Drop(context.Background())
		s.Close()
	})
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := versioned(3)
			require.NoError(t, s.AddInstanceMetadata(ctx, id, sampleDataset()))

			got, err := s.GetInstanceMetadata(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "Doe^Jane", got.String(dicom.PatientName))
			assert.Equal(t, "512", got.String(dicom.Rows))
			_, ok := got.Get(dicom.PixelData)
			assert.False(t, ok)

			// replaced in place
			require.NoError(t, s.AddInstanceMetadata(ctx, id, sampleDataset().Set(dicom.PatientName, dicom.PN, "Roe^Rick")))
			got, err = s.GetInstanceMetadata(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "Roe^Rick", got.String(dicom.PatientName))

			_, err = s.GetInstanceMetadata(ctx, versioned(4))
			assert.ErrorIs(t, err, ErrMetadataNotFound)

			require.NoError(t, s.DeleteInstanceMetadataIfExists(ctx, id))
			require.NoError(t, s.DeleteInstanceMetadataIfExists(ctx, id))
			_, err = s.GetInstanceMetadata(ctx, id)
			assert.ErrorIs(t, err, ErrMetadataNotFound)
		})
	}
}

func TestStrip(t *testing.T) {
	ds := sampleDataset()
	ds.Put(&dicom.Element{Tag: dicom.NewTag(0x0009, 0x1010), VR: dicom.OB, BulkDataURI: "http://bulk/1", InlineBinary: []byte{9}})
	item := dicom.NewDataset()
	item.Put(&dicom.Element{Tag: dicom.NewTag(0x0009, 0x1011), VR: dicom.OB, InlineBinary: []byte{1}})
	item.Set(dicom.Modality, dicom.CS, "CT")
	ds.Put(&dicom.Element{Tag: dicom.NewTag(0x0040, 0x0275), VR: dicom.SQ, Items: []*dicom.Dataset{item}})

	out := Strip(ds)

	_, ok := out.Get(dicom.PixelData)
	assert.False(t, ok)
	bulk, ok := out.Get(dicom.NewTag(0x0009, 0x1010))
	require.True(t, ok)
	assert.Equal(t, "http://bulk/1", bulk.BulkDataURI)
	assert.Nil(t, bulk.InlineBinary)

	seq, _ := out.Get(dicom.NewTag(0x0040, 0x0275))
	require.Len(t, seq.Items, 1)
	assert.Equal(t, 1, seq.Items[0].Len())

	// input untouched
	_, ok = ds.Get(dicom.PixelData)
	assert.True(t, ok)
	assert.Equal(t, 2, item.Len())
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{Backend: BackendMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), Config{Backend: "cassandra"}, nil)
	assert.Error(t, err)
}
