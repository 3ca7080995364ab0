package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
)

// ErrAccessDenied is returned when a user asks for another user's job.
var ErrAccessDenied = errors.New("access denied")

// JobService exposes job status and retention.
type JobService struct {
	jobs   JobStore
	logger *slog.Logger
	now    func() time.Time
}

// NewJobService creates a new job service.
func NewJobService(jobs JobStore, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{jobs: jobs, logger: logger, now: time.Now}
}

// Status returns the status report of a job. A non-empty userID must own
// the job.
func (s *JobService) Status(ctx context.Context, jobID, userID string) (*models.JobStatusReport, error) {
	job, err := s.jobs.QueryGetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if userID != "" && job.User != userID {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrAccessDenied)
	}
	report := job.Report()
	return &report, nil
}

// List returns status reports for the jobs matching filter, newest first.
func (s *JobService) List(ctx context.Context, filter models.JobFilter) ([]models.JobStatusReport, error) {
	jobs, err := s.jobs.QueryListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	reports := make([]models.JobStatusReport, 0, len(jobs))
	for i := range jobs {
		reports = append(reports, jobs[i].Report())
	}
	return reports, nil
}

// PurgeJobs deletes finished jobs created more than olderThan ago.
func (s *JobService) PurgeJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("purge jobs: %w: retention must be positive", ErrInvalidInput)
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.jobs.QueryPurgeJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	s.logger.Info("purged jobs", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}
