// Package client provides an HTTP client for the docrag server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/raphaelgruber/docrag/internal/server"
	"github.com/raphaelgruber/docrag/internal/service"
)

// Client talks to the docrag REST API.
type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithUser sends the user id header on every request.
func WithUser(user string) Option {
	return func(c *Client) { c.user = user }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a new client.
// If baseURL is empty, uses DOCRAG_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via DOCRAG_CLIENT_TIMEOUT env var (default 10m for large uploads).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DOCRAG_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("DOCRAG_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d - %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do sends a request and decodes a JSON reply into result when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.user != "" {
		req.Header.Set(server.UserHeader, c.user)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}

	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, result)
}

func decodeError(status int, data []byte) error {
	var er server.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
		return &APIError{StatusCode: status, Message: er.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
}

// Upload sends files to a project for background ingestion.
func (c *Client) Upload(ctx context.Context, projectID string, paths []string) (*server.UploadResponse, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to upload")
	}

	// Stream the multipart body so large files are not buffered.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFiles(mw, paths))
	}()

	var resp server.UploadResponse
	path := "/api/projects/" + url.PathEscape(projectID) + "/documents"
	if err := c.do(ctx, http.MethodPost, path, pr, mw.FormDataContentType(), &resp); err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	return &resp, nil
}

func writeFiles(mw *multipart.Writer, paths []string) error {
	for _, p := range paths {
		if err := writeFile(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

// JobStatus fetches the status of one job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*models.JobStatusReport, error) {
	var report models.JobStatusReport
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/status", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListJobs lists jobs matching filter.
func (c *Client) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.JobStatusReport, error) {
	q := url.Values{}
	if filter.User != "" {
		q.Set("user_id", filter.User)
	}
	if filter.Project != "" {
		q.Set("project_id", filter.Project)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Jobs []models.JobStatusReport `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// PurgeJobs deletes finished jobs older than days. Zero uses the server's
// retention setting.
func (c *Client) PurgeJobs(ctx context.Context, days int) (int, error) {
	path := "/api/jobs"
	if days > 0 {
		path += "?older_than_days=" + strconv.Itoa(days)
	}
	var resp server.PurgeResponse
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// WatchJob streams status updates for a job until it reaches a terminal
// state. onUpdate is called for every report; returning an error stops the
// watch.
func (c *Client) WatchJob(ctx context.Context, jobID string, onUpdate func(models.JobStatusReport) error) (*models.JobStatusReport, error) {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/api/jobs/" + url.PathEscape(jobID) + "/watch"

	header := http.Header{}
	if c.user != "" {
		header.Set(server.UserHeader, c.user)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			return nil, decodeError(resp.StatusCode, data)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	var last *models.JobStatusReport
	for {
		var report models.JobStatusReport
		if err := conn.ReadJSON(&report); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil {
				return last, nil
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("read status: %w", err)
		}
		last = &report
		if onUpdate != nil {
			if err := onUpdate(report); err != nil {
				return last, err
			}
		}
	}
}

// Search runs a hybrid search against a project.
func (c *Client) Search(ctx context.Context, projectID string, req server.SearchRequest) ([]server.SearchResult, error) {
	var resp server.SearchResponse
	path := "/api/projects/" + url.PathEscape(projectID) + "/search"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Chat asks a question grounded in a project's documents.
func (c *Client) Chat(ctx context.Context, projectID, question string) (*service.Answer, error) {
	var answer service.Answer
	path := "/api/projects/" + url.PathEscape(projectID) + "/chat"
	if err := c.doJSON(ctx, http.MethodPost, path, server.ChatRequest{Text: question}, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// ListDocuments lists the documents of a project.
func (c *Client) ListDocuments(ctx context.Context, projectID string) ([]models.DocumentSummary, error) {
	var resp struct {
		Documents []models.DocumentSummary `json:"documents"`
	}
	path := "/api/projects/" + url.PathEscape(projectID) + "/documents"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(id), nil, nil)
}

// ProjectStats returns document and chunk counts for a project.
func (c *Client) ProjectStats(ctx context.Context, projectID string) (*service.ProjectStats, error) {
	var stats service.ProjectStats
	path := "/api/projects/" + url.PathEscape(projectID) + "/stats"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, "/api/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
