// Package queue hands ingestion tasks from the upload path to background
// workers, either in-process or through RabbitMQ.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("queue is shut down")

// StagedFile is one uploaded file written to the task's work dir.
type StagedFile struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Task is the unit of background work: one ingestion job.
type Task struct {
	JobID     string       `json:"job_id"`
	ProjectID string       `json:"project_id"`
	UserID    string       `json:"user_id"`
	WorkDir   string       `json:"work_dir"`
	Files     []StagedFile `json:"files"`
}

// Handler processes one task. The context is owned by the worker, not by
// the request that enqueued the task.
type Handler func(ctx context.Context, task Task) error

// Queue is implemented by Memory and RabbitMQ.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Start(handler Handler) error
	Shutdown(ctx context.Context) error
}
