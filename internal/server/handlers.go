package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/raphaelgruber/docrag/internal/auth"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/raphaelgruber/docrag/internal/service"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// UploadResponse is returned once an upload is queued.
type UploadResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	TotalFiles int    `json:"total_files"`
	TotalSize  int64  `json:"total_size"`
	Message    string `json:"message"`
}

// SearchRequest is the body of a search call.
type SearchRequest struct {
	Text   string `json:"text"`
	K      int    `json:"k,omitempty"`
	Rerank *bool  `json:"rerank,omitempty"`
}

// SearchResult is one retrieved chunk.
type SearchResult struct {
	ChunkID      string             `json:"chunk_id"`
	DocumentID   string             `json:"document_id"`
	DocumentName string             `json:"document_name"`
	Content      string             `json:"content"`
	Position     int                `json:"position"`
	Score        models.ScoreSource `json:"score"`
	Relevance    float64            `json:"relevance"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Text string `json:"text"`
}

// PurgeResponse reports how many jobs a purge removed.
type PurgeResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", s.opts.MaxUploadBytes))
			return
		}
		writeErrorMessage(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "No files provided")
		return
	}

	uploads := make([]service.Upload, 0, len(headers))
	var totalSize int64
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll(uploads)
			s.writeError(w, fmt.Errorf("open upload %s: %w", fh.Filename, err))
			return
		}
		uploads = append(uploads, service.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Reader:      f,
		})
		totalSize += fh.Size
	}
	defer closeAll(uploads)

	job, err := s.opts.Coordinator.Submit(r.Context(), service.SubmitRequest{
		ProjectID: projectID,
		UserID:    r.Header.Get(UserHeader),
		Files:     uploads,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, UploadResponse{
		JobID:      models.MustRecordIDString(job.ID),
		Status:     "queued",
		TotalFiles: len(uploads),
		TotalSize:  totalSize,
		Message:    fmt.Sprintf("Processing %d files in background", len(uploads)),
	})
}

func closeAll(uploads []service.Upload) {
	for _, u := range uploads {
		if c, ok := u.Reader.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.opts.Documents.List(r.Context(), r.PathValue("project_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.opts.Documents.Stats(r.Context(), r.PathValue("project_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	doc, data, err := s.opts.Documents.Content(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Documents.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	candidates, err := s.opts.Search.Search(r.Context(), service.SearchOptions{
		ProjectID: r.PathValue("project_id"),
		Query:     req.Text,
		K:         req.K,
		Rerank:    req.Rerank,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		chunkID, _ := models.RecordIDString(c.Chunk.ID)
		docID, _ := models.RecordIDString(c.Chunk.Document)
		results = append(results, SearchResult{
			ChunkID:      chunkID,
			DocumentID:   docID,
			DocumentName: c.Chunk.DocumentName,
			Content:      c.Chunk.Content,
			Position:     c.Chunk.Position,
			Score:        c.Score,
			Relevance:    c.Score.Relevance(),
		})
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	answer, err := s.opts.Chat.Answer(r.Context(), r.PathValue("project_id"), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.JobFilter{
		User:    q.Get("user_id"),
		Project: q.Get("project_id"),
		Status:  models.JobStatus(q.Get("status")),
	}
	if filter.User == "" {
		filter.User = r.Header.Get(UserHeader)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	jobs, err := s.opts.Jobs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handlePurgeJobs(w http.ResponseWriter, r *http.Request) {
	days := s.opts.RetentionDays
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, "older_than_days must be a positive integer")
			return
		}
		days = n
	}
	n, err := s.opts.Jobs.PurgeJobs(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{Deleted: n})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.opts.Jobs.Status(r.Context(), r.PathValue("id"), r.Header.Get(UserHeader))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Metrics.Snapshot())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.opts.States == nil || s.opts.OAuth.AuthorizeURL == "" {
		writeErrorMessage(w, http.StatusServiceUnavailable, "OAuth is not configured")
		return
	}
	redirect := r.URL.Query().Get("redirect")
	if redirect == "" {
		redirect = "/"
	}
	state, err := s.opts.States.Issue(r.Context(), redirect)
	if err != nil {
		s.writeError(w, err)
		return
	}
	target, err := auth.AuthorizationURL(s.opts.OAuth.AuthorizeURL, s.opts.OAuth.ClientID, s.opts.OAuth.CallbackURL, state)
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.opts.States == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "OAuth is not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeErrorMessage(w, http.StatusBadRequest, "authorization failed: "+e)
		return
	}
	redirect, err := s.opts.States.Consume(r.Context(), q.Get("state"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// decodeBody reads a JSON body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
