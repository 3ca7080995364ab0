package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Document is an uploaded file owned by a project. Documents are immutable;
// deleting one removes its chunks.
type Document struct {
	ID surrealmodels.RecordID `json:"id"`

	Project     string `json:"project"`
	Name        string `json:"name"`
	FileType    string `json:"file_type"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`

	// Exactly one of Content or ContentKey is set. ContentKey points into
	// blob storage when it is enabled.
	Content    []byte  `json:"content,omitempty"`
	ContentKey *string `json:"content_key,omitempty"`

	JobID     *string   `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentInput is the input structure for creating documents.
type DocumentInput struct {
	ID          string  `json:"id"`
	Project     string  `json:"project"`
	Name        string  `json:"name"`
	FileType    string  `json:"file_type"`
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	Content     []byte  `json:"content,omitempty"`
	ContentKey  *string `json:"content_key,omitempty"`
	JobID       *string `json:"job_id,omitempty"`
}

// DocumentSummary is a document listing row without the content bytes.
type DocumentSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	FileType   string    `json:"file_type"`
	Size       int64     `json:"size"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}
