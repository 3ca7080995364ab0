package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk is a window of extracted document text plus its embedding.
// Chunks are never updated in place.
type Chunk struct {
	ID surrealmodels.RecordID `json:"id"`

	// Parent reference; project is denormalised for scoped search
	Document surrealmodels.RecordID `json:"document"`
	Project  string                 `json:"project"`

	Content  string `json:"content"`
	Position int    `json:"position"` // Order within document
	Overlap  int    `json:"overlap"`  // Leading runes repeated from the previous window

	Embedding []float32 `json:"embedding"`

	CreatedAt time.Time `json:"created_at"`
}

// ChunkInput is the input structure for creating chunks.
type ChunkInput struct {
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	Overlap   int       `json:"overlap"`
	Embedding []float32 `json:"embedding"`
}

// ScoredChunk is a vector search hit. Distance is 1 - cosine similarity,
// lower is closer.
type ScoredChunk struct {
	ID           surrealmodels.RecordID `json:"id"`
	Document     surrealmodels.RecordID `json:"document"`
	DocumentName string                 `json:"document_name"`
	Content      string                 `json:"content"`
	Position     int                    `json:"position"`
	CreatedAt    time.Time              `json:"created_at"`
	Distance     float64                `json:"distance"`
}

// Candidate is a chunk moving through the retrieval pipeline along with
// the origin of its current score.
type Candidate struct {
	Chunk ScoredChunk
	Score ScoreSource
}
