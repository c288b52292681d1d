// Package remote is the HTTP client for the project server: content save
// and load, lightweight metadata, and binary uploads.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/richinex/canvasync/model"
)

// DefaultTimeout bounds one request when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: HTTP %d", e.Code)
	}
	return fmt.Sprintf("remote: HTTP %d: %s", e.Code, e.Message)
}

// Client talks to one project server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save submits content with the last known version and returns the new
// version issued by the server.
func (c *Client) Save(ctx context.Context, projectID string, req model.SaveRequest) (model.SaveResponse, error) {
	var resp model.SaveResponse
	body, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("remote: encode save request: %w", err)
	}
	err = c.do(ctx, http.MethodPut, "/projects/"+url.PathEscape(projectID), "application/json", bytes.NewReader(body), &resp)
	return resp, err
}

// Meta fetches the project's version and update time without its content.
func (c *Client) Meta(ctx context.Context, projectID string) (model.ProjectMeta, error) {
	var meta model.ProjectMeta
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/meta", "", nil, &meta)
	return meta, err
}

// Load fetches the full project.
func (c *Client) Load(ctx context.Context, projectID string) (model.Project, error) {
	var p model.Project
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), "", nil, &p)
	return p, err
}

// UploadResponse is the server's answer to an upload.
type UploadResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Upload stores data on the server and returns its durable URL.
func (c *Client) Upload(ctx context.Context, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var resp UploadResponse
	if err := c.do(ctx, http.MethodPost, "/uploads", contentType, bytes.NewReader(data), &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

// readMessage extracts {"error": "..."} from an error body, or the raw text.
func readMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
