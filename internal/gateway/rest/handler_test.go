package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/blob"
	"github.com/syntrixbase/medstore/internal/core/catalog"
	"github.com/syntrixbase/medstore/internal/core/index"
	indexmem "github.com/syntrixbase/medstore/internal/core/index/memory"
	"github.com/syntrixbase/medstore/internal/core/metadata"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/store"
	"github.com/syntrixbase/medstore/internal/core/xqt"
	"github.com/syntrixbase/medstore/internal/dicom"
)

type testAPI struct {
	idx     *indexmem.Store
	runner  *operation.Runner
	handler http.Handler
}

func newTestAPI(t *testing.T, tagCfg xqt.Config) *testAPI {
	t.Helper()
	idx := indexmem.New()
	meta := metadata.NewMemoryStore()
	cat := catalog.NewProvider(idx, catalog.Config{}, nil, nil)
	queue := store.NewCleanupQueue(store.CleanupQueueConfig{Workers: 1, Size: 8}, time.Second, nil)
	runner := operation.NewRunner(operation.DefaultConfig(), nil, nil)
	t.Cleanup(func() {
		runner.Close()
		queue.Close()
	})

	runner.Register(operation.KindReindex, xqt.NewReindexer(idx, meta, runner, cat, tagCfg, nil))
	runner.Register(operation.KindDeleteExtendedQueryTag, xqt.NewPurger(idx, cat, tagCfg, nil))

	deps := store.Dependencies{Index: idx, Blobs: blob.NewMemoryStore(), Metadata: meta, Catalog: cat, Queue: queue}
	h := NewHandler(Services{
		Store:      store.NewService(store.NewOrchestrator(deps, store.DefaultConfig()), nil),
		Delete:     store.NewDeleteService(idx, nil, store.DefaultConfig(), nil, nil),
		AddTags:    xqt.NewAddService(idx, runner, cat, tagCfg, nil),
		GetTags:    xqt.NewGetService(idx),
		DeleteTags: xqt.NewDeleteService(idx, runner, cat, tagCfg, nil),
		Operations: runner,
	}, "http://pacs")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testAPI{idx: idx, runner: runner, handler: mux}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func instance(study, series, sop string) *dicom.Dataset {
	return dicom.NewDataset().
		Set(dicom.StudyInstanceUID, dicom.UI, study).
		Set(dicom.SeriesInstanceUID, dicom.UI, series).
		Set(dicom.SOPInstanceUID, dicom.UI, sop).
		Set(dicom.SOPClassUID, dicom.UI, "1.2.840.10008.5.1.4.1.1.2").
		Set(dicom.PatientID, dicom.LO, "PAT1").
		Set(dicom.Manufacturer, dicom.LO, "ACME")
}

func TestStoreAndDelete(t *testing.T) {
	api := newTestAPI(t, xqt.DefaultConfig())

	body := []*dicom.Dataset{instance("1.2", "1.2.3", "1.2.3.4"), instance("1.2", "1.2.3", "1.2.3.4")}
	rec := api.do(t, http.MethodPost, "/studies/1.2", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp dicom.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "http://pacs/studies/1.2", resp.String(dicom.RetrieveURL))
	failed, ok := resp.Get(dicom.FailedSOPSequence)
	require.True(t, ok)
	require.Len(t, failed.Items, 1)
	assert.Equal(t, "45070", failed.Items[0].String(dicom.FailureReason))

	rec = api.do(t, http.MethodPost, "/studies/9.9", []*dicom.Dataset{instance("1.2", "1.2.3", "1.2.3.5")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/studies", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// an item that is not a dataset fails on its own
	good, err := json.Marshal(instance("1.3", "1.3.1", "1.3.1.1"))
	require.NoError(t, err)
	rec = api.do(t, http.MethodPost, "/studies", "["+string(good)+`, 42]`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp = dicom.Dataset{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	failed, ok = resp.Get(dicom.FailedSOPSequence)
	require.True(t, ok)
	require.Len(t, failed.Items, 1)
	assert.Equal(t, "43264", failed.Items[0].String(dicom.FailureReason))
	_, err = api.idx.GetInstance(context.Background(), index.IdentifierOf(index.DefaultPartition, instance("1.3", "1.3.1", "1.3.1.1")))
	assert.NoError(t, err)
	rec = api.do(t, http.MethodPost, "/studies", "[]")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodDelete, "/studies/1.2/series/1.2.3/instances/1.2.3.4", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodDelete, "/studies/1.2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, http.MethodDelete, "/studies/x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtendedQueryTags(t *testing.T) {
	cfg := xqt.DefaultConfig()
	cfg.DeletePollInterval = 5 * time.Millisecond
	api := newTestAPI(t, cfg)

	rec := api.do(t, http.MethodPost, "/extendedquerytags", []xqt.Entry{
		{Path: "Manufacturer", Level: "Series"},
		{Path: "00091001", VR: "CS", PrivateCreator: "ACME", Level: "Instance"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/extendedquerytags", []xqt.Entry{{Path: "(0009,0010)", VR: "LO", Level: "Study"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "private creator")

	rec = api.do(t, http.MethodPost, "/extendedquerytags", []xqt.Entry{{Path: "00080070", Level: "Series"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/extendedquerytags?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tags []index.ExtendedQueryTag
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "00091001", tags[0].Path)

	rec = api.do(t, http.MethodGet, "/extendedquerytags?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/extendedquerytags/Manufacturer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"Ready"`)

	rec = api.do(t, http.MethodDelete, "/extendedquerytags/00080070", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodGet, "/extendedquerytags/00080070", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddTagsWithReindex(t *testing.T) {
	cfg := xqt.DefaultConfig()
	cfg.ReindexOnAdd = true
	api := newTestAPI(t, cfg)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/studies", []*dicom.Dataset{instance("1.2", "1.2.3", "1.2.3.4")}).Code)

	rec := api.do(t, http.MethodPost, "/extendedquerytags", []xqt.Entry{{Path: "Manufacturer", Level: "Instance"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	loc := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/operations/"))

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, loc, nil)
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"status":"completed"`)
	}, 2*time.Second, 5*time.Millisecond)

	tag, err := api.idx.GetExtendedQueryTag(context.Background(), "00080070")
	require.NoError(t, err)
	assert.Equal(t, index.TagStatusReady, tag.Status)
	assert.Len(t, api.idx.ValuesOf(tag.Key), 1)
}

func TestGetOperation(t *testing.T) {
	api := newTestAPI(t, xqt.DefaultConfig())
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/operations/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/operations/"+uuid.NewString(), nil).Code)
}
