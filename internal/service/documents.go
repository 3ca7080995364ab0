package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/docrag/internal/models"
)

// DocumentService lists, reads and deletes ingested documents.
type DocumentService struct {
	store  Store
	blobs  BlobStore
	logger *slog.Logger
}

// NewDocumentService creates a new document service. blobs may be nil.
func NewDocumentService(store Store, blobs BlobStore, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{store: store, blobs: blobs, logger: logger}
}

// ProjectStats counts what a project holds.
type ProjectStats struct {
	ProjectID string `json:"project_id"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

// List returns the documents of a project, newest first.
func (s *DocumentService) List(ctx context.Context, projectID string) ([]models.DocumentSummary, error) {
	if projectID == "" {
		return nil, fmt.Errorf("list documents: %w: project id is required", ErrInvalidInput)
	}
	docs, err := s.store.QueryListDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Content returns a document and its original bytes, read from blob
// storage when the document was stored there.
func (s *DocumentService) Content(ctx context.Context, id string) (*models.Document, []byte, error) {
	doc, err := s.store.QueryGetDocument(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get document %s: %w", id, err)
	}
	if doc.ContentKey == nil {
		return doc, doc.Content, nil
	}
	if s.blobs == nil {
		return nil, nil, fmt.Errorf("document %s is in blob storage, which is not configured", id)
	}
	data, err := s.blobs.Get(ctx, *doc.ContentKey)
	if err != nil {
		return nil, nil, fmt.Errorf("read document %s content: %w", id, err)
	}
	return doc, data, nil
}

// Delete removes a document with its chunks and stored bytes.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.store.QueryDeleteDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if doc.ContentKey != nil && s.blobs != nil {
		if err := s.blobs.Delete(ctx, *doc.ContentKey); err != nil && !errors.Is(err, models.ErrNotFound) {
			// The record is gone already; an orphaned object is only logged.
			s.logger.Warn("failed to delete document content", "document_id", id, "key", *doc.ContentKey, "error", err)
		}
	}
	s.logger.Info("document deleted", "document_id", id, "project_id", doc.Project)
	return nil
}

// Stats counts the documents and chunks of a project.
func (s *DocumentService) Stats(ctx context.Context, projectID string) (*ProjectStats, error) {
	docs, err := s.store.QueryCountDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := s.store.QueryCountChunks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	return &ProjectStats{ProjectID: projectID, Documents: docs, Chunks: chunks}, nil
}
