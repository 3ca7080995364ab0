package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/docrag/internal/blob"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/raphaelgruber/docrag/internal/parser"
	"github.com/raphaelgruber/docrag/internal/queue"
)

// InterruptedMessage is the error message of jobs that cannot be resumed
// after a restart.
const InterruptedMessage = "interrupted by shutdown"

// Upload is one file of a submission.
type Upload struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

// SubmitRequest is a batch of files to ingest into a project.
type SubmitRequest struct {
	ProjectID string
	UserID    string
	Files     []Upload
}

// Coordinator accepts uploads, stages them on disk and runs ingestion jobs
// on queue workers.
type Coordinator struct {
	store     Store
	blobs     BlobStore
	queue     queue.Queue
	extractor *parser.Extractor
	chunker   *parser.Chunker
	embedder  Embedder
	metrics   *metrics.Collector
	logger    *slog.Logger
	tempDir   string
	durable   bool
	now       func() time.Time
}

// CoordinatorConfig configures NewCoordinator. Blobs, Metrics and Logger
// are optional.
type CoordinatorConfig struct {
	Store    Store
	Blobs    BlobStore
	Queue    queue.Queue
	Embedder Embedder
	Chunking parser.ChunkConfig
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	// TempDir is where uploads are staged. Empty uses os.TempDir().
	TempDir string
	// Durable is set when the queue redelivers unacknowledged tasks after
	// a restart, so interrupted jobs are left to the broker.
	Durable bool
}

// NewCoordinator creates a new ingestion coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Coordinator{
		store:     cfg.Store,
		blobs:     cfg.Blobs,
		queue:     cfg.Queue,
		extractor: parser.NewExtractor(),
		chunker:   parser.NewChunker(cfg.Chunking),
		embedder:  cfg.Embedder,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		tempDir:   cfg.TempDir,
		durable:   cfg.Durable,
		now:       time.Now,
	}
}

// Submit stages the uploads, records a pending job and queues it. It
// returns as soon as the task is queued.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*models.IngestJob, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("submit: %w: project id is required", ErrInvalidInput)
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("submit: %w: no files provided", ErrInvalidInput)
	}
	for _, f := range req.Files {
		if stagedBase(f.Filename) == "" {
			return nil, fmt.Errorf("submit: %w: file without a name", ErrInvalidInput)
		}
	}

	jobID := models.NewID()
	workDir, err := os.MkdirTemp(c.tempDir, workDirPrefix(jobID))
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	staged, manifest, err := stageUploads(workDir, req.Files)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}

	job, err := c.store.QueryCreateJob(ctx, models.NewIngestJob(jobID, req.ProjectID, req.UserID, manifest, c.now()))
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("create job: %w", err)
	}

	task := queue.Task{
		JobID:     jobID,
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		WorkDir:   workDir,
		Files:     staged,
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if _, ferr := c.store.QueryFailJob(context.WithoutCancel(ctx), jobID, msg); ferr != nil {
			c.logger.Warn("failed to mark job failed", "job_id", jobID, "error", ferr)
		}
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	c.metrics.Inc(metrics.CounterJobsSubmitted)
	c.logger.Info("job submitted", "job_id", jobID, "project_id", req.ProjectID,
		"user_id", req.UserID, "files", len(staged))
	return job, nil
}

func stageUploads(workDir string, uploads []Upload) ([]queue.StagedFile, []models.FileManifest, error) {
	staged := make([]queue.StagedFile, 0, len(uploads))
	manifest := make([]models.FileManifest, 0, len(uploads))
	for i, u := range uploads {
		path := filepath.Join(workDir, stagedName(i, u.Filename))
		size, err := writeFile(path, u.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %s: %w", u.Filename, err)
		}
		staged = append(staged, queue.StagedFile{
			Filename:    u.Filename,
			Path:        path,
			Size:        size,
			ContentType: u.ContentType,
		})
		manifest = append(manifest, models.FileManifest{
			Filename:    u.Filename,
			Size:        size,
			ContentType: u.ContentType,
		})
	}
	return staged, manifest, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func workDirPrefix(jobID string) string {
	return "ingestion_" + jobID + "_"
}

func stagedBase(filename string) string {
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// stagedName keeps staged files unique when a batch repeats a filename.
func stagedName(index int, filename string) string {
	return fmt.Sprintf("%d_%s", index, stagedBase(filename))
}

// Run processes a queued task. It is the queue handler. Files are handled
// one after another; a failing file is recorded and the job moves on. A
// redelivered task skips the files already counted.
func (c *Coordinator) Run(ctx context.Context, task queue.Task) (err error) {
	job, err := c.store.QueryStartJob(ctx, task.JobID)
	switch {
	case errors.Is(err, models.ErrJobTerminal), errors.Is(err, models.ErrNotFound):
		c.logger.Info("skipping task", "job_id", task.JobID, "reason", err)
		_ = os.RemoveAll(task.WorkDir)
		return nil
	case err != nil && c.durable:
		// The broker requeues the delivery; keep the staged files for it.
		return fmt.Errorf("start job %s: %w", task.JobID, err)
	case err != nil:
		_ = os.RemoveAll(task.WorkDir)
		return c.failJob(ctx, task.JobID, fmt.Sprintf("start job: %v", err))
	}

	defer func() {
		if rmErr := os.RemoveAll(task.WorkDir); rmErr != nil {
			c.logger.Warn("failed to remove work dir", "job_id", task.JobID, "error", rmErr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = c.failJob(ctx, task.JobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	log := c.logger.With("job_id", task.JobID, "project_id", task.ProjectID)

	if _, statErr := os.Stat(task.WorkDir); statErr != nil {
		return c.failJob(ctx, task.JobID, fmt.Sprintf("work directory unavailable: %v", statErr))
	}

	if job.ProcessedFiles > 0 {
		log.Info("resuming job", "processed", job.ProcessedFiles, "total", job.TotalFiles)
	}

	for i, f := range task.Files {
		if i < job.ProcessedFiles {
			continue
		}
		var fileErr *models.FileError
		if procErr := c.processFile(ctx, task, f); procErr != nil {
			log.Warn("file failed", "filename", f.Filename, "error", procErr)
			c.metrics.Inc(metrics.CounterFilesFailed)
			fileErr = &models.FileError{Filename: f.Filename, Error: procErr.Error(), Timestamp: c.now()}
		} else {
			c.metrics.Inc(metrics.CounterFilesSucceeded)
		}

		job, err = c.store.QueryRecordFileResult(ctx, task.JobID, fileErr)
		if errors.Is(err, models.ErrJobTerminal) {
			log.Warn("job became terminal while processing", "filename", f.Filename)
			return nil
		}
		if err != nil {
			return c.failJob(ctx, task.JobID, fmt.Sprintf("record progress: %v", err))
		}
		log.Info("file processed", "filename", f.Filename,
			"progress", fmt.Sprintf("%d/%d", job.ProcessedFiles, job.TotalFiles))
	}

	log.Info("job finished", "status", job.Status, "processed", job.ProcessedFiles, "failed", job.FailedFiles)
	return nil
}

// failJob marks the job failed and returns an error describing why.
func (c *Coordinator) failJob(ctx context.Context, jobID, msg string) error {
	c.metrics.Inc(metrics.CounterJobsFailed)
	if _, err := c.store.QueryFailJob(context.WithoutCancel(ctx), jobID, msg); err != nil &&
		!errors.Is(err, models.ErrJobTerminal) {
		c.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
	return fmt.Errorf("job %s failed: %s", jobID, msg)
}

// processFile turns one staged file into a document and its chunks.
func (c *Coordinator) processFile(ctx context.Context, task queue.Task, f queue.StagedFile) error {
	defer c.metrics.Since(metrics.OpIngestFile, time.Now())

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("read staged file: %w", err)
	}

	start := time.Now()
	text, fileType, err := c.extractor.Extract(data, f.Filename)
	c.metrics.Since(metrics.OpExtraction, start)
	if err != nil {
		return err
	}

	windows := c.chunker.Windows(text)
	if len(windows) == 0 {
		return fmt.Errorf("%s: %w: no chunks produced", f.Filename, parser.ErrExtractionFailed)
	}
	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Content
	}

	start = time.Now()
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	c.metrics.Since(metrics.OpEmbedding, start)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(windows) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(windows))
	}

	docID := models.NewID()
	jobID := task.JobID
	input := models.DocumentInput{
		ID:          docID,
		Project:     task.ProjectID,
		Name:        f.Filename,
		FileType:    string(fileType),
		ContentType: f.ContentType,
		Size:        int64(len(data)),
		JobID:       &jobID,
	}
	var blobKey string
	if c.blobs != nil {
		blobKey = blob.ObjectKey(task.ProjectID, docID, f.Filename)
		if err := c.blobs.Put(ctx, blobKey, data, f.ContentType); err != nil {
			return fmt.Errorf("store content: %w", err)
		}
		input.ContentKey = &blobKey
	} else {
		input.Content = data
	}

	if _, err := c.store.QueryCreateDocument(ctx, input); err != nil {
		c.removeBlob(ctx, blobKey)
		return fmt.Errorf("create document: %w", err)
	}

	chunks := make([]models.ChunkInput, len(windows))
	for i, w := range windows {
		chunks[i] = models.ChunkInput{
			Content:   w.Content,
			Position:  w.Position,
			Overlap:   w.Overlap,
			Embedding: vectors[i],
		}
	}
	if _, err := c.store.QueryStoreChunks(ctx, docID, task.ProjectID, chunks); err != nil {
		if _, derr := c.store.QueryDeleteDocument(context.WithoutCancel(ctx), docID); derr != nil {
			c.logger.Warn("failed to remove partial document", "document_id", docID, "error", derr)
		}
		c.removeBlob(ctx, blobKey)
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}

func (c *Coordinator) removeBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := c.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		c.logger.Warn("failed to remove blob", "key", key, "error", err)
	}
}

// ResumeInterrupted deals with jobs a previous process left unfinished.
// Jobs whose staged files survived are queued again unless the queue is
// durable, in which case the broker redelivers them. Jobs without staged
// files are failed.
func (c *Coordinator) ResumeInterrupted(ctx context.Context) (resumed, failed int, err error) {
	var jobs []models.IngestJob
	for _, status := range []models.JobStatus{models.JobPending, models.JobProcessing} {
		batch, err := c.store.QueryListJobsByStatus(ctx, status)
		if err != nil {
			return resumed, failed, fmt.Errorf("list %s jobs: %w", status, err)
		}
		jobs = append(jobs, batch...)
	}
	if len(jobs) == 0 {
		c.logger.Info("no interrupted jobs")
		return 0, 0, nil
	}

	for _, job := range jobs {
		jobID, err := models.RecordIDString(job.ID)
		if err != nil {
			c.logger.Warn("skipping job with unexpected id", "error", err)
			continue
		}

		workDir := c.findWorkDir(jobID)
		if workDir == "" {
			if _, err := c.store.QueryFailJob(ctx, jobID, InterruptedMessage); err != nil && !errors.Is(err, models.ErrJobTerminal) {
				return resumed, failed, fmt.Errorf("fail job %s: %w", jobID, err)
			}
			c.logger.Info("failed interrupted job", "job_id", jobID, "status", job.Status)
			failed++
			continue
		}
		if c.durable {
			c.logger.Info("leaving interrupted job to broker redelivery", "job_id", jobID)
			continue
		}

		task := queue.Task{
			JobID:     jobID,
			ProjectID: job.Project,
			UserID:    job.User,
			WorkDir:   workDir,
			Files:     make([]queue.StagedFile, 0, len(job.Metadata.Files)),
		}
		for i, f := range job.Metadata.Files {
			task.Files = append(task.Files, queue.StagedFile{
				Filename:    f.Filename,
				Path:        filepath.Join(workDir, stagedName(i, f.Filename)),
				Size:        f.Size,
				ContentType: f.ContentType,
			})
		}
		if err := c.queue.Enqueue(ctx, task); err != nil {
			return resumed, failed, fmt.Errorf("requeue job %s: %w", jobID, err)
		}
		c.logger.Info("requeued interrupted job", "job_id", jobID,
			"processed", job.ProcessedFiles, "total", job.TotalFiles)
		resumed++
	}
	return resumed, failed, nil
}

func (c *Coordinator) findWorkDir(jobID string) string {
	matches, err := filepath.Glob(filepath.Join(c.tempDir, workDirPrefix(jobID)+"*"))
	if err != nil {
		return ""
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			return m
		}
	}
	return ""
}
