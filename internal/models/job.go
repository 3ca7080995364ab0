package models

import (
	"fmt"
	"math"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// FileManifest describes one uploaded file of a job.
type FileManifest struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// FileError records a per-file ingestion failure.
type FileError struct {
	Filename  string    `json:"filename"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// JobMetadata is the free-form job metadata persisted with the job.
type JobMetadata struct {
	Files       []FileManifest `json:"files"`
	FileErrors  []FileError    `json:"file_errors"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// IngestJob is a persisted asynchronous multi-file ingestion job.
//
// Counters only grow, ProcessedFiles never exceeds TotalFiles and
// FailedFiles never exceeds ProcessedFiles. The job completes on its own
// once every file has been processed, whether or not any succeeded.
type IngestJob struct {
	ID             surrealmodels.RecordID `json:"id"`
	Project        string                 `json:"project"`
	User           string                 `json:"user"`
	Status         JobStatus              `json:"status"`
	TotalFiles     int                    `json:"total_files"`
	ProcessedFiles int                    `json:"processed_files"`
	FailedFiles    int                    `json:"failed_files"`
	Metadata       JobMetadata            `json:"metadata"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewIngestJob returns a pending job for the given manifest.
func NewIngestJob(id, project, user string, files []FileManifest, now time.Time) *IngestJob {
	return &IngestJob{
		ID:         NewRecordID(TableIngestJob, id),
		Project:    project,
		User:       user,
		Status:     JobPending,
		TotalFiles: len(files),
		Metadata: JobMetadata{
			Files:      files,
			FileErrors: []FileError{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start moves a pending job to processing. Starting an already processing
// job is a no-op so redelivered tasks can resume.
func (j *IngestJob) Start(now time.Time) error {
	switch j.Status {
	case JobPending:
		j.Status = JobProcessing
		j.Metadata.StartedAt = &now
		j.UpdatedAt = now
		return nil
	case JobProcessing:
		return nil
	default:
		return fmt.Errorf("start job: %w", ErrJobTerminal)
	}
}

// RecordFile counts one processed file. A non-nil fileErr also counts a
// failure and is appended to the metadata. The job completes when the last
// file is recorded.
func (j *IngestJob) RecordFile(fileErr *FileError, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("record file: %w", ErrJobTerminal)
	}
	if j.ProcessedFiles >= j.TotalFiles {
		return fmt.Errorf("record file: all %d files already processed", j.TotalFiles)
	}
	j.ProcessedFiles++
	if fileErr != nil {
		j.FailedFiles++
		j.Metadata.FileErrors = append(j.Metadata.FileErrors, *fileErr)
	}
	j.UpdatedAt = now
	if j.ProcessedFiles == j.TotalFiles {
		j.Status = JobCompleted
		j.Metadata.CompletedAt = &now
	}
	return nil
}

// Fail marks the job failed with msg.
func (j *IngestJob) Fail(msg string, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("fail job: %w", ErrJobTerminal)
	}
	j.Status = JobFailed
	j.ErrorMessage = &msg
	j.UpdatedAt = now
	return nil
}

// JobProgress is the derived progress view of a job.
type JobProgress struct {
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	FailedFiles    int     `json:"failed_files"`
	Percentage     float64 `json:"percentage"`
	SuccessRate    float64 `json:"success_rate"`
}

// JobStatusReport is the externally visible status of a job.
type JobStatusReport struct {
	JobID        string      `json:"job_id"`
	ProjectID    string      `json:"project_id"`
	Status       JobStatus   `json:"status"`
	Progress     JobProgress `json:"progress"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	Metadata     JobMetadata `json:"metadata"`
}

// Percentage is processed/total as a percentage rounded to one decimal.
func (j *IngestJob) Percentage() float64 {
	if j.TotalFiles == 0 {
		return 0
	}
	return round1(float64(j.ProcessedFiles) / float64(j.TotalFiles) * 100)
}

// SuccessRate is the share of processed files that succeeded, rounded to
// one decimal.
func (j *IngestJob) SuccessRate() float64 {
	if j.ProcessedFiles == 0 {
		return 0
	}
	return round1(float64(j.ProcessedFiles-j.FailedFiles) / float64(j.ProcessedFiles) * 100)
}

// Report builds the status view.
func (j *IngestJob) Report() JobStatusReport {
	id, _ := RecordIDString(j.ID)
	return JobStatusReport{
		JobID:     id,
		ProjectID: j.Project,
		Status:    j.Status,
		Progress: JobProgress{
			TotalFiles:     j.TotalFiles,
			ProcessedFiles: j.ProcessedFiles,
			FailedFiles:    j.FailedFiles,
			Percentage:     j.Percentage(),
			SuccessRate:    j.SuccessRate(),
		},
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		ErrorMessage: j.ErrorMessage,
		Metadata:     j.Metadata,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// DefaultJobListLimit caps job listings when no limit is given.
const DefaultJobListLimit = 10

// JobFilter narrows a job listing. Empty fields match everything.
type JobFilter struct {
	User    string
	Project string
	Status  JobStatus
	Limit   int
}

// EffectiveLimit returns Limit or DefaultJobListLimit when unset.
func (f JobFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultJobListLimit
	}
	return f.Limit
}
