package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/config"
	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/services"
)

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	c, err := New("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
}

func TestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/extendedquerytags/Missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"not_found","message":"extended query tag not found"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down\n"))
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetTag(ctx, "Missing")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Equal(t, "HTTP 404 not_found: extended query tag not found", err.Error())

	_, err = c.ListTags(ctx, 0, 0)
	assert.Equal(t, "HTTP 502: upstream down", err.Error())
}

func dataset(sop string) json.RawMessage {
	return json.RawMessage(`{
		"0020000D": {"vr": "UI", "Value": ["1.2"]},
		"0020000E": {"vr": "UI", "Value": ["1.2.3"]},
		"00080018": {"vr": "UI", "Value": ["` + sop + `"]},
		"00080016": {"vr": "UI", "Value": ["1.2.840.10008.5.1.4.1.1.2"]},
		"00080070": {"vr": "LO", "Value": ["ACME"]},
		"00100020": {"vr": "LO", "Value": ["PAT1"]}
	}`)
}

// startServer runs the full service stack on memory backends.
func startServer(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Backend = index.BackendMemory
	cfg.Blob.Backend = blob.BackendMemory
	cfg.Metadata.Backend = metadata.BackendMemory
	cfg.Tags.ReindexOnAdd = true
	cfg.Tags.DeletePollInterval = 10 * time.Millisecond

	m := services.NewManager(cfg, services.Options{RunServer: true}, nil)
	require.NoError(t, m.Init(context.Background()))
	srv := httptest.NewServer(m.Server().Handler())
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, m.Shutdown(context.Background()))
	})

	c, err := New(srv.URL)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_EndToEnd(t *testing.T) {
	c := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := c.Store(ctx, "", dataset("1.2.3.4"), dataset("1.2.3.5"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// the second copy of an instance is rejected
	res, err = c.Store(ctx, "1.2", dataset("1.2.3.4"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	added, err := c.AddTags(ctx, TagEntry{Path: "Manufacturer", Level: "Series"})
	require.NoError(t, err)
	require.NotNil(t, added.OperationID)
	require.Len(t, added.Tags, 1)
	assert.Equal(t, "Adding", added.Tags[0].Status)

	op, err := c.WaitOperation(ctx, *added.OperationID)
	require.NoError(t, err)
	assert.Equal(t, "completed", op.Status)
	assert.Equal(t, 100, op.PercentComplete)
	assert.Equal(t, []string{"extendedquerytags/00080070"}, op.Resources)

	tag, err := c.GetTag(ctx, "00080070")
	require.NoError(t, err)
	assert.Equal(t, "Ready", tag.Status)
	assert.Zero(t, tag.ErrorCount)

	tags, err := c.ListTags(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, tags, 1)

	require.NoError(t, c.DeleteTag(ctx, "Manufacturer"))
	_, err = c.GetTag(ctx, "Manufacturer")
	assert.True(t, IsStatus(err, http.StatusNotFound))

	require.NoError(t, c.Delete(ctx, "1.2", "1.2.3", "1.2.3.4"))
	require.NoError(t, c.Delete(ctx, "1.2", "", ""))
	err = c.Delete(ctx, "1.2", "", "")
	assert.True(t, IsStatus(err, http.StatusNotFound))
}
