// Package rest exposes the ingestion and extended query tag services over
// HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/schema"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/store"
	"github.com/syntrixbase/medstore/internal/core/validation"
	"github.com/syntrixbase/medstore/internal/core/xqt"
	"github.com/syntrixbase/medstore/internal/dicom"
	"github.com/syntrixbase/medstore/internal/server"
)

const (
	MaxStoreBodySize = 64 << 20
	MaxTagBodySize   = 1 << 20
)

const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeOperationTimeout = "OPERATION_TIMEOUT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// Services are the handlers' dependencies.
type Services struct {
	Store      *store.Service
	Delete     *store.DeleteService
	AddTags    *xqt.AddService
	GetTags    *xqt.GetService
	DeleteTags *xqt.DeleteService
	Operations operation.Client
}

type Handler struct {
	svc     Services
	baseURL string
	decoder *schema.Decoder
}

// NewHandler builds the handler. baseURL prefixes retrieve URLs; when empty
// it is derived from the request.
func NewHandler(svc Services, baseURL string) *Handler {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Handler{svc: svc, baseURL: baseURL, decoder: d}
}

// Mux is where routes are registered.
type Mux interface {
	Handle(pattern string, h http.Handler)
}

func (h *Handler) RegisterRoutes(mux Mux) {
	route := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, fn) }

	route("POST /studies", h.limit(h.handleStore, MaxStoreBodySize))
	route("POST /studies/{study}", h.limit(h.handleStore, MaxStoreBodySize))
	route("DELETE /studies/{study}", h.handleDelete)
	route("DELETE /studies/{study}/series/{series}", h.handleDelete)
	route("DELETE /studies/{study}/series/{series}/instances/{instance}", h.handleDelete)

	route("GET /extendedquerytags", h.handleListTags)
	route("POST /extendedquerytags", h.limit(h.handleAddTags, MaxTagBodySize))
	route("GET /extendedquerytags/{path}", h.handleGetTag)
	route("DELETE /extendedquerytags/{path}", h.handleDeleteTag)

	route("GET /operations/{id}", h.handleGetOperation)
}

func (h *Handler) limit(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

func (h *Handler) base(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/"
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	server.WriteError(w, status, code, message)
}

// writeServiceError maps service errors to responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, err.Error())
	case errors.Is(err, xqt.ErrInvalidExtendedQueryTag),
		errors.Is(err, validation.ErrValidationFailed),
		errors.Is(err, store.ErrNoInstances),
		errors.Is(err, store.ErrInvalidStudyUID),
		errors.Is(err, store.ErrInvalidUpdate),
		errors.Is(err, index.ErrExtendedQueryTagLimitExceeded):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, index.ErrExtendedQueryTagNotFound),
		errors.Is(err, index.ErrInstanceNotFound),
		errors.Is(err, operation.ErrOperationNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, index.ErrExtendedQueryTagAlreadyExists),
		errors.Is(err, index.ErrExtendedQueryTagBusy),
		errors.Is(err, index.ErrUpdateInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, xqt.ErrOperationTimeout):
		writeError(w, http.StatusServiceUnavailable, ErrCodeOperationTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		w.WriteHeader(499)
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err,
			"request_id", server.RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
	}
}

// handleStore takes a JSON array of DICOM JSON datasets. Each item is kept
// as the stored file; an item that is not a dataset fails on its own.
func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	var items []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeServiceError(w, r, badBody(err))
		return
	}
	entries := make([]store.InstanceEntry, 0, len(items))
	for _, raw := range items {
		ds := dicom.NewDataset()
		if err := ds.UnmarshalJSON(raw); err != nil {
			entries = append(entries, store.InstanceEntry{
				Dataset: dicom.NewDataset(),
				File:    raw,
				Err:     fmt.Errorf("%w: %v", validation.ErrValidationFailed, err),
			})
			continue
		}
		entries = append(entries, store.InstanceEntry{Dataset: ds, File: raw})
	}

	resp, err := h.svc.Store.Store(r.Context(), index.DefaultPartition, entries, r.PathValue("study"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	switch resp.Status {
	case store.StatusPartialSuccess:
		status = http.StatusAccepted
	case store.StatusFailure:
		status = http.StatusConflict
	}
	server.WriteJSON(w, status, resp.Dataset(h.base(r)))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	target := index.DeleteTarget{
		StudyInstanceUID:  r.PathValue("study"),
		SeriesInstanceUID: r.PathValue("series"),
		SOPInstanceUID:    r.PathValue("instance"),
	}
	if _, err := h.svc.Delete.Delete(r.Context(), index.DefaultPartition, target); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listParams struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	var p listParams
	if err := h.decoder.Decode(&p, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	tags, err := h.svc.GetTags.ListExtendedQueryTags(r.Context(), p.Limit, p.Offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tags == nil {
		tags = []index.ExtendedQueryTag{}
	}
	server.WriteJSON(w, http.StatusOK, tags)
}

func (h *Handler) handleAddTags(w http.ResponseWriter, r *http.Request) {
	var entries []xqt.Entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeServiceError(w, r, badBody(err))
		return
	}
	res, err := h.svc.AddTags.AddExtendedQueryTags(r.Context(), entries)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.OperationID != nil {
		w.Header().Set("Location", "/operations/"+res.OperationID.String())
		server.WriteJSON(w, http.StatusAccepted, res)
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetTag(w http.ResponseWriter, r *http.Request) {
	tag, err := h.svc.GetTags.GetExtendedQueryTag(r.Context(), r.PathValue("path"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, tag)
}

func (h *Handler) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTags.DeleteExtendedQueryTag(r.Context(), r.PathValue("path")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid operation id")
		return
	}
	st, err := h.svc.Operations.GetState(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, st)
}

type bodyError struct{ err error }

func (e *bodyError) Error() string { return "invalid request body: " + e.err.Error() }
func (e *bodyError) Unwrap() error { return e.err }
func (e *bodyError) Is(target error) bool {
	return target == validation.ErrValidationFailed
}

func badBody(err error) error { return &bodyError{err: err} }
