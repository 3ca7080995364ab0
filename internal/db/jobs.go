package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// QueryCreateJob persists a new pending job.
func (c *Client) QueryCreateJob(ctx context.Context, job *models.IngestJob) (*models.IngestJob, error) {
	id, err := models.RecordIDString(job.ID)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	sql := `
		CREATE type::record("ingest_job", $id) CONTENT {
			project: $project,
			user: $user,
			status: $status,
			total_files: $total,
			processed_files: 0,
			failed_files: 0,
			metadata: $metadata,
			created_at: time::now(),
			updated_at: time::now()
		} RETURN AFTER
	`
	vars := map[string]any{
		"id":       id,
		"project":  job.Project,
		"user":     job.User,
		"status":   string(models.JobPending),
		"total":    job.TotalFiles,
		"metadata": metadataContent(job.Metadata),
	}

	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create job: no record returned")
	}
	return &(*results)[0].Result[0], nil
}

// QueryGetJob retrieves a job by ID.
func (c *Client) QueryGetJob(ctx context.Context, id string) (*models.IngestJob, error) {
	sql := `SELECT * FROM type::record("ingest_job", $id)`
	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// QueryListJobs returns jobs matching filter, newest first.
func (c *Client) QueryListJobs(ctx context.Context, filter models.JobFilter) ([]models.IngestJob, error) {
	var conds []string
	vars := map[string]any{"limit": filter.EffectiveLimit()}
	if filter.User != "" {
		conds = append(conds, "user = $user")
		vars["user"] = filter.User
	}
	if filter.Project != "" {
		conds = append(conds, "project = $project")
		vars["project"] = filter.Project
	}
	if filter.Status != "" {
		conds = append(conds, "status = $status")
		vars["status"] = string(filter.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	sql := fmt.Sprintf(`SELECT * FROM ingest_job %s ORDER BY created_at DESC LIMIT $limit`, where)

	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.IngestJob{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryListJobsByStatus returns every job in status, oldest first.
func (c *Client) QueryListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.IngestJob, error) {
	sql := `SELECT * FROM ingest_job WHERE status = $status ORDER BY created_at ASC`
	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, map[string]any{"status": string(status)})
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.IngestJob{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryStartJob moves a pending job to processing. A job that is already
// processing is returned unchanged so redelivered tasks can resume.
func (c *Client) QueryStartJob(ctx context.Context, id string) (*models.IngestJob, error) {
	sql := `
		UPDATE type::record("ingest_job", $id) SET
			status = "processing",
			metadata.started_at = time::now(),
			updated_at = time::now()
		WHERE status = "pending"
		RETURN AFTER
	`
	job, err := c.updateJob(ctx, "start job", sql, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if job != nil {
		return job, nil
	}

	current, err := c.QueryGetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("start job %s: %w", id, ErrJobTerminal)
	}
	return current, nil
}

// QueryRecordFileResult counts one processed file and, when fileErr is
// set, one failure. The job completes in the same statement once the last
// file is counted.
func (c *Client) QueryRecordFileResult(ctx context.Context, id string, fileErr *models.FileError) (*models.IngestJob, error) {
	failed := 0
	errs := []map[string]any{}
	if fileErr != nil {
		failed = 1
		errs = append(errs, map[string]any{
			"filename":  fileErr.Filename,
			"error":     fileErr.Error,
			"timestamp": fileErr.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	// SET clauses apply in order: status and completed_at read the
	// pre-increment counter.
	sql := `
		UPDATE type::record("ingest_job", $id) SET
			status = IF processed_files + 1 >= total_files THEN "completed" ELSE status END,
			metadata.completed_at = IF processed_files + 1 >= total_files THEN time::now() ELSE metadata.completed_at END,
			processed_files += 1,
			failed_files += $failed,
			metadata.file_errors = array::concat(metadata.file_errors ?? [], $errs),
			updated_at = time::now()
		WHERE status = "processing" AND processed_files < total_files
		RETURN AFTER
	`
	vars := map[string]any{"id": id, "failed": failed, "errs": errs}

	job, err := c.updateJob(ctx, "record file", sql, vars)
	if err != nil {
		return nil, err
	}
	if job != nil {
		return job, nil
	}

	current, err := c.QueryGetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status.Terminal():
		return nil, fmt.Errorf("record file on job %s: %w", id, ErrJobTerminal)
	case current.Status == models.JobPending:
		return nil, fmt.Errorf("record file on job %s: job not started", id)
	default:
		return nil, fmt.Errorf("record file on job %s: all %d files already processed", id, current.TotalFiles)
	}
}

// QueryFailJob marks a pending or processing job failed.
func (c *Client) QueryFailJob(ctx context.Context, id, message string) (*models.IngestJob, error) {
	sql := `
		UPDATE type::record("ingest_job", $id) SET
			status = "failed",
			error_message = $message,
			updated_at = time::now()
		WHERE status IN ["pending", "processing"]
		RETURN AFTER
	`
	job, err := c.updateJob(ctx, "fail job", sql, map[string]any{"id": id, "message": message})
	if err != nil {
		return nil, err
	}
	if job != nil {
		return job, nil
	}

	if _, err := c.QueryGetJob(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("fail job %s: %w", id, ErrJobTerminal)
}

// QueryPurgeJobs deletes terminal jobs created before cutoff and returns
// how many were removed.
func (c *Client) QueryPurgeJobs(ctx context.Context, cutoff time.Time) (int, error) {
	sql := `
		DELETE ingest_job
		WHERE created_at < <datetime>$cutoff
			AND status IN ["completed", "failed"]
		RETURN BEFORE
	`
	vars := map[string]any{"cutoff": cutoff.UTC().Format(time.RFC3339Nano)}

	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// updateJob runs a single conditional UPDATE and returns the updated job,
// or nil when the WHERE clause matched nothing.
// Conflicting writes are retried.
func (c *Client) updateJob(ctx context.Context, op, sql string, vars map[string]any) (*models.IngestJob, error) {
	var results *[]surrealdb.QueryResult[[]models.IngestJob]
	err := retryOnConflict(ctx, func() error {
		var err error
		results, err = surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, vars)
		return wrapQueryError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// metadataContent converts job metadata into a plain object with string
// timestamps.
func metadataContent(m models.JobMetadata) map[string]any {
	files := make([]map[string]any, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, map[string]any{
			"filename":     f.Filename,
			"size":         f.Size,
			"content_type": f.ContentType,
		})
	}
	fileErrors := make([]map[string]any, 0, len(m.FileErrors))
	for _, fe := range m.FileErrors {
		fileErrors = append(fileErrors, map[string]any{
			"filename":  fe.Filename,
			"error":     fe.Error,
			"timestamp": fe.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	return map[string]any{
		"files":       files,
		"file_errors": fileErrors,
	}
}
