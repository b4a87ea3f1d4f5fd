// Package client is a Go client for the medstore HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Tag is an extended query tag as returned by the server.
type Tag struct {
	Key            int32      `json:"key"`
	Path           string     `json:"path"`
	VR             string     `json:"vr"`
	PrivateCreator string     `json:"private_creator,omitempty"`
	Level          string     `json:"level"`
	Status         string     `json:"status"`
	ErrorCount     int        `json:"error_count"`
	OperationID    *uuid.UUID `json:"operation_id,omitempty"`
}

// TagEntry describes a tag to add.
type TagEntry struct {
	Path           string `json:"path"`
	VR             string `json:"vr,omitempty"`
	PrivateCreator string `json:"privateCreator,omitempty"`
	Level          string `json:"level"`
}

// AddTagsResult is returned by AddTags. OperationID is set when the tags
// are being backfilled.
type AddTagsResult struct {
	Tags        []Tag      `json:"tags"`
	OperationID *uuid.UUID `json:"operation_id,omitempty"`
}

// Operation is the state of a long-running operation.
type Operation struct {
	ID              uuid.UUID `json:"id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	PercentComplete int       `json:"percentComplete"`
	Resources       []string  `json:"resources,omitempty"`
	CreatedTime     time.Time `json:"createdTime"`
	LastUpdatedTime time.Time `json:"lastUpdatedTime"`
	Errors          []string  `json:"errors,omitempty"`
}

// Done reports whether the operation reached a final status.
func (o *Operation) Done() bool {
	switch o.Status {
	case "completed", "failed", "canceled":
		return true
	}
	return false
}

// StoreResult is a store response. StatusCode is 200 when every instance
// was stored, 202 on partial success and 409 when none was.
type StoreResult struct {
	StatusCode int
	Dataset    json.RawMessage
}

// Client talks to one medstore server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL is required")
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Store uploads DICOM JSON datasets. A non-empty study restricts the batch
// to that study. 202 and 409 are returned as results, not errors.
func (c *Client) Store(ctx context.Context, study string, datasets ...json.RawMessage) (*StoreResult, error) {
	path := "/studies"
	if study != "" {
		path += "/" + url.PathEscape(study)
	}
	resp, body, err := c.send(ctx, http.MethodPost, path, datasets)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusConflict:
		return &StoreResult{StatusCode: resp.StatusCode, Dataset: body}, nil
	}
	return nil, newHTTPError(resp, body)
}

// Delete removes a study, or one series or instance of it.
func (c *Client) Delete(ctx context.Context, study, series, instance string) error {
	path := "/studies/" + url.PathEscape(study)
	if series != "" {
		path += "/series/" + url.PathEscape(series)
		if instance != "" {
			path += "/instances/" + url.PathEscape(instance)
		}
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) AddTags(ctx context.Context, entries ...TagEntry) (*AddTagsResult, error) {
	var res AddTagsResult
	if err := c.do(ctx, http.MethodPost, "/extendedquerytags", entries, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListTags(ctx context.Context, limit, offset int) ([]Tag, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/extendedquerytags"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var tags []Tag
	if err := c.do(ctx, http.MethodGet, path, nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (c *Client) GetTag(ctx context.Context, path string) (*Tag, error) {
	var tag Tag
	if err := c.do(ctx, http.MethodGet, "/extendedquerytags/"+url.PathEscape(path), nil, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// DeleteTag blocks until the server has purged the tag's values.
func (c *Client) DeleteTag(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/extendedquerytags/"+url.PathEscape(path), nil, nil)
}

func (c *Client) GetOperation(ctx context.Context, id uuid.UUID) (*Operation, error) {
	var op Operation
	if err := c.do(ctx, http.MethodGet, "/operations/"+id.String(), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// WaitOperation polls the operation with exponential backoff until it is
// done or ctx ends.
func (c *Client) WaitOperation(ctx context.Context, id uuid.UUID) (*Operation, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	var op *Operation
	err := backoff.Retry(func() error {
		var err error
		op, err = c.GetOperation(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !op.Done() {
			return errNotDone
		}
		return nil
	}, backoff.WithContext(b, ctx))
	return op, err
}

var errNotDone = errors.New("operation not done")

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, body, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, body, nil
}

// HTTPError is a non-success response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: resp.StatusCode}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Code != "" {
		e.Code, e.Message = payload.Code, payload.Message
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == status
}
