package blob

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/index"
)

func versioned(sop string, version int64) index.VersionedInstanceIdentifier {
	return index.VersionedInstanceIdentifier{
		InstanceIdentifier: index.InstanceIdentifier{
			Partition:         index.DefaultPartition,
			StudyInstanceUID:  "1.2.3",
			SeriesInstanceUID: "1.2.3.4",
			SOPInstanceUID:    sop,
		},
		Version: version,
	}
}

func backends(t *testing.T) map[string]Store {
	p, err := NewPebbleStore(Config{Path: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"pebble": p,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := versioned("1.2.3.4.5", 7)
			data := []byte("DICM payload")

			props, err := s.AddFile(ctx, id, bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), props.ContentLength)
			assert.Equal(t, "1/1.2.3/1.2.3.4/1.2.3.4.5_7.dcm", props.Path)
			assert.Equal(t, ETag(data), props.ETag)

			_, err = s.AddFile(ctx, id, strings.NewReader("other"))
			assert.ErrorIs(t, err, ErrFileExists)

			got, gotProps, err := s.GetFile(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.Equal(t, props, gotProps)

			copied, err := s.CopyFile(ctx, id, versioned("1.2.3.4.5", 9))
			require.NoError(t, err)
			assert.Equal(t, props.ETag, copied.ETag)
			_, err = s.CopyFile(ctx, versioned("missing", 1), versioned("missing", 2))
			assert.ErrorIs(t, err, ErrFileNotFound)

			require.NoError(t, s.DeleteFileIfExists(ctx, id))
			require.NoError(t, s.DeleteFileIfExists(ctx, id))
			_, _, err = s.GetFile(ctx, id)
			assert.ErrorIs(t, err, ErrFileNotFound)

			_, _, err = s.GetFile(ctx, versioned("1.2.3.4.5", 9))
			assert.NoError(t, err)
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.AddFile(ctx, versioned("1.2.3.4.6", 1), strings.NewReader("x"))
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestETag(t *testing.T) {
	assert.Equal(t, ETag([]byte("a")), ETag([]byte("a")))
	assert.NotEqual(t, ETag([]byte("a")), ETag([]byte("b")))
	assert.Len(t, ETag(nil), 34)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Backend: BackendMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(Config{Backend: "s3"}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Backend: BackendPebble}, nil)
	assert.Error(t, err)
}
