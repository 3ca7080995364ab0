// Package service provides the ingestion pipeline, retrieval and answer
// assembly for docrag.
package service

import (
	"context"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
)

// DocumentStore persists documents.
type DocumentStore interface {
	QueryCreateDocument(ctx context.Context, input models.DocumentInput) (*models.Document, error)
	QueryGetDocument(ctx context.Context, id string) (*models.Document, error)
	QueryListDocuments(ctx context.Context, project string) ([]models.DocumentSummary, error)
	QueryDeleteDocument(ctx context.Context, id string) (*models.Document, error)
	QueryCountDocuments(ctx context.Context, project string) (int, error)
}

// ChunkStore persists chunks and answers nearest-neighbour queries.
type ChunkStore interface {
	QueryStoreChunks(ctx context.Context, documentID, project string, chunks []models.ChunkInput) (int, error)
	QuerySearchChunks(ctx context.Context, project string, embedding []float32, k int) ([]models.ScoredChunk, error)
	QueryCountChunks(ctx context.Context, project string) (int, error)
}

// JobStore persists ingestion jobs. Transitions are atomic in the store.
type JobStore interface {
	QueryCreateJob(ctx context.Context, job *models.IngestJob) (*models.IngestJob, error)
	QueryGetJob(ctx context.Context, id string) (*models.IngestJob, error)
	QueryListJobs(ctx context.Context, filter models.JobFilter) ([]models.IngestJob, error)
	QueryListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.IngestJob, error)
	QueryStartJob(ctx context.Context, id string) (*models.IngestJob, error)
	QueryRecordFileResult(ctx context.Context, id string, fileErr *models.FileError) (*models.IngestJob, error)
	QueryFailJob(ctx context.Context, id, message string) (*models.IngestJob, error)
	QueryPurgeJobs(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is everything the services need. db.Client and memstore.Store
// both satisfy it.
type Store interface {
	DocumentStore
	ChunkStore
	JobStore
}

// BlobStore keeps document bytes outside the database. Optional.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer produces one completion for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}
