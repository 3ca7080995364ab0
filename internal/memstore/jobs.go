package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
)

// QueryCreateJob stores a new pending job.
func (s *Store) QueryCreateJob(_ context.Context, job *models.IngestJob) (*models.IngestJob, error) {
	id, err := models.RecordIDString(job.ID)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return nil, fmt.Errorf("create job %s: already exists", id)
	}
	now := s.now()
	stored := cloneJob(job)
	stored.Status = models.JobPending
	stored.ProcessedFiles = 0
	stored.FailedFiles = 0
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Metadata.FileErrors == nil {
		stored.Metadata.FileErrors = []models.FileError{}
	}
	s.jobs[id] = stored
	return cloneJob(stored), nil
}

// QueryGetJob returns a job by id.
func (s *Store) QueryGetJob(_ context.Context, id string) (*models.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return cloneJob(job), nil
}

// QueryListJobs returns jobs matching filter, newest first.
func (s *Store) QueryListJobs(_ context.Context, filter models.JobFilter) ([]models.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.IngestJob{}
	for _, job := range s.jobs {
		if filter.User != "" && job.User != filter.User {
			continue
		}
		if filter.Project != "" && job.Project != filter.Project {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, *cloneJob(job))
	}
	sortJobs(out, true)
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueryListJobsByStatus returns every job in status, oldest first.
func (s *Store) QueryListJobsByStatus(_ context.Context, status models.JobStatus) ([]models.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.IngestJob{}
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, *cloneJob(job))
		}
	}
	sortJobs(out, false)
	return out, nil
}

// QueryStartJob moves a pending job to processing.
func (s *Store) QueryStartJob(_ context.Context, id string) (*models.IngestJob, error) {
	return s.mutateJob(id, func(job *models.IngestJob, now time.Time) error {
		return job.Start(now)
	})
}

// QueryRecordFileResult counts one processed file and completes the job
// when it was the last one.
func (s *Store) QueryRecordFileResult(_ context.Context, id string, fileErr *models.FileError) (*models.IngestJob, error) {
	return s.mutateJob(id, func(job *models.IngestJob, now time.Time) error {
		if job.Status == models.JobPending {
			return fmt.Errorf("record file on job %s: job not started", id)
		}
		return job.RecordFile(fileErr, now)
	})
}

// QueryFailJob marks a pending or processing job failed.
func (s *Store) QueryFailJob(_ context.Context, id, message string) (*models.IngestJob, error) {
	return s.mutateJob(id, func(job *models.IngestJob, now time.Time) error {
		return job.Fail(message, now)
	})
}

// QueryPurgeJobs deletes terminal jobs created before cutoff.
func (s *Store) QueryPurgeJobs(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// mutateJob applies fn to a working copy and stores it only when fn
// succeeds, so a rejected transition leaves the job untouched.
func (s *Store) mutateJob(id string, fn func(*models.IngestJob, time.Time) error) (*models.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	working := cloneJob(job)
	if err := fn(working, s.now()); err != nil {
		return nil, err
	}
	s.jobs[id] = working
	return cloneJob(working), nil
}

func sortJobs(jobs []models.IngestJob, newestFirst bool) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i].CreatedAt, jobs[j].CreatedAt
		if a.Equal(b) {
			return models.MustRecordIDString(jobs[i].ID) < models.MustRecordIDString(jobs[j].ID)
		}
		if newestFirst {
			return a.After(b)
		}
		return a.Before(b)
	})
}

func cloneJob(job *models.IngestJob) *models.IngestJob {
	cp := *job
	cp.Metadata.Files = append([]models.FileManifest(nil), job.Metadata.Files...)
	cp.Metadata.FileErrors = append([]models.FileError{}, job.Metadata.FileErrors...)
	if job.ErrorMessage != nil {
		msg := *job.ErrorMessage
		cp.ErrorMessage = &msg
	}
	return &cp
}

// =============================================================================
// STATE TOKENS
// =============================================================================

// QuerySaveState stores a one-time state token.
func (s *Store) QuerySaveState(_ context.Context, token, redirect string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[token]; ok {
		return fmt.Errorf("save state: token already exists")
	}
	s.states[token] = stateEntry{redirect: redirect, expiresAt: expiresAt}
	return nil
}

// QueryConsumeState removes a valid token and returns its redirect.
// Expired tokens are left for the purge.
func (s *Store) QueryConsumeState(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[token]
	if !ok || !entry.expiresAt.After(s.now()) {
		return "", fmt.Errorf("state token: %w", models.ErrNotFound)
	}
	delete(s.states, token)
	return entry.redirect, nil
}

// QueryPurgeExpiredStates removes expired tokens.
func (s *Store) QueryPurgeExpiredStates(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for token, entry := range s.states {
		if !entry.expiresAt.After(now) {
			delete(s.states, token)
			n++
		}
	}
	return n, nil
}
