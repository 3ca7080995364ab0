package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/docrag/internal/memstore"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/raphaelgruber/docrag/internal/parser/parsertest"
	"github.com/raphaelgruber/docrag/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binaryUpload(name string) Upload {
	return Upload{
		Filename:    name,
		ContentType: "application/octet-stream",
		Reader:      strings.NewReader(string([]byte{0x00, 0x01, 0x02, 0x03, 0x00, 0x07})),
	}
}

func TestSubmit_StagesAndQueues(t *testing.T) {
	env := newTestEnv(t)

	jobID, task := env.submit(t,
		textUpload("a.txt", "alpha"),
		textUpload("../../etc/a.txt", "alpha again"),
	)

	assert.Equal(t, jobID, task.JobID)
	assert.Equal(t, "p1", task.ProjectID)
	assert.True(t, strings.HasPrefix(filepath.Base(task.WorkDir), "ingestion_"+jobID+"_"))
	require.Len(t, task.Files, 2)
	for _, f := range task.Files {
		assert.Equal(t, task.WorkDir, filepath.Dir(f.Path), "staged outside the work dir")
	}
	data, err := os.ReadFile(task.Files[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "alpha again", string(data))
	assert.Equal(t, int64(len("alpha again")), task.Files[1].Size)

	status, err := env.jobs.Status(context.Background(), jobID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, status.Status)
	assert.Equal(t, 2, status.Progress.TotalFiles)
	assert.Equal(t, "../../etc/a.txt", status.Metadata.Files[1].Filename)
	assert.Equal(t, int64(1), env.metrics.Snapshot().Counters[metrics.CounterJobsSubmitted])
}

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.coord.Submit(ctx, SubmitRequest{ProjectID: "p1"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.coord.Submit(ctx, SubmitRequest{Files: []Upload{textUpload("a.txt", "x")}})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.coord.Submit(ctx, SubmitRequest{ProjectID: "p1", Files: []Upload{textUpload("", "x")}})
	require.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, env.queue.Tasks())
}

func TestSubmit_EnqueueFailure(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = queue.ErrClosed

	_, err := env.coord.Submit(context.Background(), SubmitRequest{
		ProjectID: "p1", UserID: "u1", Files: []Upload{textUpload("a.txt", "alpha")},
	})
	require.ErrorIs(t, err, queue.ErrClosed)

	jobs, err := env.jobs.List(context.Background(), models.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobFailed, jobs[0].Status)

	entries, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "work dir should be removed")
}

func TestRun_ThreeFilesOneFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	jobID, task := env.submit(t,
		textUpload("a.txt", "alpha content"),
		binaryUpload("b.bin"),
		textUpload("c.md", "# Gamma\n\ngamma content"),
	)

	require.NoError(t, env.coord.Run(ctx, task))

	status, err := env.jobs.Status(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Equal(t, 3, status.Progress.TotalFiles)
	assert.Equal(t, 3, status.Progress.ProcessedFiles)
	assert.Equal(t, 1, status.Progress.FailedFiles)
	assert.Equal(t, 100.0, status.Progress.Percentage)
	assert.Equal(t, 66.7, status.Progress.SuccessRate)
	assert.Nil(t, status.ErrorMessage)
	require.NotNil(t, status.Metadata.StartedAt)
	require.NotNil(t, status.Metadata.CompletedAt)
	require.Len(t, status.Metadata.FileErrors, 1)
	assert.Equal(t, "b.bin", status.Metadata.FileErrors[0].Filename)
	assert.Contains(t, status.Metadata.FileErrors[0].Error, "unsupported")

	docs, err := env.store.QueryListDocuments(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	for _, d := range docs {
		assert.Positive(t, d.ChunkCount)
	}

	_, err = os.Stat(task.WorkDir)
	assert.True(t, os.IsNotExist(err), "work dir should be removed")

	counters := env.metrics.Snapshot().Counters
	assert.Equal(t, int64(2), counters[metrics.CounterFilesSucceeded])
	assert.Equal(t, int64(1), counters[metrics.CounterFilesFailed])
}

func TestRun_MixedFormatsWithCorruptPDF(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	jobID, task := env.submit(t,
		textUpload("a.txt", "alpha content"),
		Upload{Filename: "b.pdf", ContentType: "application/pdf", Reader: strings.NewReader("%PDF-1.4\ncorrupt body")},
		Upload{
			Filename:    "c.docx",
			ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Reader:      bytes.NewReader(parsertest.DOCX(t, "Gamma report", "gamma findings")),
		},
	)
	require.NoError(t, env.coord.Run(ctx, task))

	status, err := env.jobs.Status(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Equal(t, 3, status.Progress.ProcessedFiles)
	assert.Equal(t, 1, status.Progress.FailedFiles)
	assert.Equal(t, 66.7, status.Progress.SuccessRate)
	require.Len(t, status.Metadata.FileErrors, 1)
	assert.Equal(t, "b.pdf", status.Metadata.FileErrors[0].Filename)

	docs, err := env.store.QueryListDocuments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	names := map[string]int{}
	for _, d := range docs {
		names[d.Name] = d.ChunkCount
	}
	assert.Positive(t, names["a.txt"])
	assert.Positive(t, names["c.docx"])
	assert.NotContains(t, names, "b.pdf")

	chunks, err := env.store.QueryCountChunks(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, names["a.txt"]+names["c.docx"], chunks)
}

func TestRun_ValidPDF(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	jobID, task := env.submit(t, Upload{
		Filename:    "beta.pdf",
		ContentType: "application/pdf",
		Reader:      bytes.NewReader(parsertest.PDF(t, "beta page one", "beta page two")),
	})
	require.NoError(t, env.coord.Run(ctx, task))

	status, err := env.jobs.Status(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Zero(t, status.Progress.FailedFiles)

	docs, err := env.store.QueryListDocuments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pdf", docs[0].FileType)
	assert.Positive(t, docs[0].ChunkCount)
}

// slowEmbedder delays every batch to stand in for a sluggish provider.
type slowEmbedder struct {
	*keywordEmbedder
	delay time.Duration
}

func (e slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(e.delay)
	return e.keywordEmbedder.EmbedBatch(ctx, texts)
}

func TestRun_SlowProviderDoesNotFailJob(t *testing.T) {
	env := newTestEnv(t)
	q := queue.NewMemory(nil, queue.WithWorkers(1))
	cfg := env.coordinatorConfig(q, nil, false)
	cfg.Embedder = slowEmbedder{keywordEmbedder: env.embedder, delay: 40 * time.Millisecond}
	coord := NewCoordinator(cfg)
	require.NoError(t, q.Start(coord.Run))

	job, err := coord.Submit(context.Background(), SubmitRequest{
		ProjectID: "p1",
		UserID:    "u1",
		Files: []Upload{
			textUpload("a.txt", "alpha"),
			textUpload("b.txt", "beta"),
			textUpload("c.txt", "gamma"),
		},
	})
	require.NoError(t, err)
	require.NoError(t, q.Shutdown(context.Background()))

	status, err := env.jobs.Status(context.Background(), models.MustRecordIDString(job.ID), "")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Equal(t, 3, status.Progress.ProcessedFiles)
	assert.Zero(t, status.Progress.FailedFiles)
	assert.Nil(t, status.ErrorMessage)
}

// flakyStartStore fails to start jobs, as when the database drops out.
type flakyStartStore struct {
	*memstore.Store
}

func (s flakyStartStore) QueryStartJob(context.Context, string) (*models.IngestJob, error) {
	return nil, errors.New("store unavailable")
}

func TestRun_StartFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("in-process queue fails the job", func(t *testing.T) {
		env := newTestEnv(t)
		jobID, task := env.submit(t, textUpload("a.txt", "alpha"))

		cfg := env.coordinatorConfig(env.queue, nil, false)
		cfg.Store = flakyStartStore{env.store}
		err := NewCoordinator(cfg).Run(ctx, task)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store unavailable")

		status, err := env.jobs.Status(ctx, jobID, "")
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, status.Status)
		require.NotNil(t, status.ErrorMessage)
		assert.Contains(t, *status.ErrorMessage, "store unavailable")

		_, err = os.Stat(task.WorkDir)
		assert.True(t, os.IsNotExist(err), "work dir should be removed")
	})

	t.Run("durable queue keeps files for redelivery", func(t *testing.T) {
		env := newTestEnv(t)
		jobID, task := env.submit(t, textUpload("a.txt", "alpha"))

		cfg := env.coordinatorConfig(env.queue, nil, true)
		cfg.Store = flakyStartStore{env.store}
		require.Error(t, NewCoordinator(cfg).Run(ctx, task))

		status, err := env.jobs.Status(ctx, jobID, "")
		require.NoError(t, err)
		assert.Equal(t, models.JobPending, status.Status)
		_, err = os.Stat(task.WorkDir)
		require.NoError(t, err)

		// The redelivered task then succeeds against the healthy store
		require.NoError(t, env.coord.Run(ctx, task))
		status, err = env.jobs.Status(ctx, jobID, "")
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, status.Status)
	})
}

func TestRun_AllFilesFailStillCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.failOn = "explode"
	ctx := context.Background()

	jobID, task := env.submit(t,
		textUpload("a.txt", "explode one"),
		binaryUpload("b.bin"),
	)
	require.NoError(t, env.coord.Run(ctx, task))

	status, err := env.jobs.Status(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Equal(t, 2, status.Progress.FailedFiles)
	assert.Equal(t, 0.0, status.Progress.SuccessRate)
	assert.Contains(t, status.Metadata.FileErrors[0].Error, "embedding provider unavailable")

	count, err := env.store.QueryCountDocuments(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRun_BlobStorage(t *testing.T) {
	env := newTestEnv(t)
	blobs := newMemBlobs()
	env.coord = env.newCoordinator(env.queue, blobs, false)
	ctx := context.Background()

	_, task := env.submit(t, textUpload("Alpha Notes.txt", "alpha notes"))
	require.NoError(t, env.coord.Run(ctx, task))

	docs, err := env.store.QueryListDocuments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docSvc := NewDocumentService(env.store, blobs, nil)
	doc, data, err := docSvc.Content(ctx, docs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, doc.ContentKey)
	assert.Equal(t, "p1/"+docs[0].ID+"/alpha-notes.txt", *doc.ContentKey)
	assert.Empty(t, doc.Content)
	assert.Equal(t, "alpha notes", string(data))

	require.NoError(t, docSvc.Delete(ctx, docs[0].ID))
	assert.Empty(t, blobs.objects)
}

func TestRun_RedeliverySkipsProcessedFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	jobID, task := env.submit(t,
		textUpload("a.txt", "alpha"),
		textUpload("b.txt", "beta"),
	)

	// First delivery got through one file before the worker died
	_, err := env.store.QueryStartJob(ctx, jobID)
	require.NoError(t, err)
	_, err = env.store.QueryRecordFileResult(ctx, jobID, nil)
	require.NoError(t, err)

	require.NoError(t, env.coord.Run(ctx, task))

	status, err := env.jobs.Status(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Equal(t, 2, status.Progress.ProcessedFiles)

	docs, err := env.store.QueryListDocuments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b.txt", docs[0].Name)
}

func TestRun_TerminalJobIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	jobID, task := env.submit(t, textUpload("a.txt", "alpha"))
	_, err := env.store.QueryFailJob(ctx, jobID, "cancelled")
	require.NoError(t, err)

	require.NoError(t, env.coord.Run(ctx, task))

	count, err := env.store.QueryCountDocuments(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = os.Stat(task.WorkDir)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_MissingWorkDirFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	jobID, task := env.submit(t, textUpload("a.txt", "alpha"))
	require.NoError(t, os.RemoveAll(task.WorkDir))

	require.Error(t, env.coord.Run(ctx, task))

	status, err := env.jobs.Status(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, status.Status)
	require.NotNil(t, status.ErrorMessage)
	assert.Contains(t, *status.ErrorMessage, "work directory unavailable")
	assert.Equal(t, int64(1), env.metrics.Snapshot().Counters[metrics.CounterJobsFailed])
}

type panickingEmbedder struct{ keywordEmbedder }

func (*panickingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	panic("nil vector")
}

func TestRun_PanicFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	jobID, task := env.submit(t, textUpload("a.txt", "alpha"))

	coord := NewCoordinator(CoordinatorConfig{Store: env.store, Queue: env.queue, Embedder: &panickingEmbedder{}, TempDir: env.tempDir})
	require.Error(t, coord.Run(ctx, task))

	status, err := env.jobs.Status(ctx, jobID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, status.Status)
	assert.Contains(t, *status.ErrorMessage, "nil vector")
}

func TestResumeInterrupted(t *testing.T) {
	ctx := context.Background()

	t.Run("requeues staged jobs", func(t *testing.T) {
		env := newTestEnv(t)
		jobID, first := env.submit(t, textUpload("a.txt", "alpha"), textUpload("a.txt", "alpha twice"))

		restarted := &captureQueue{}
		coord := env.newCoordinator(restarted, nil, false)
		resumed, failed, err := coord.ResumeInterrupted(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, resumed)
		assert.Zero(t, failed)

		tasks := restarted.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, first.WorkDir, tasks[0].WorkDir)
		assert.Equal(t, first.Files, tasks[0].Files)

		require.NoError(t, coord.Run(ctx, tasks[0]))
		status, err := env.jobs.Status(ctx, jobID, "")
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, status.Status)
		assert.Zero(t, status.Progress.FailedFiles)
	})

	t.Run("fails jobs without staged files", func(t *testing.T) {
		env := newTestEnv(t)
		jobID, task := env.submit(t, textUpload("a.txt", "alpha"))
		require.NoError(t, os.RemoveAll(task.WorkDir))

		resumed, failed, err := env.coord.ResumeInterrupted(ctx)
		require.NoError(t, err)
		assert.Zero(t, resumed)
		assert.Equal(t, 1, failed)

		status, err := env.jobs.Status(ctx, jobID, "")
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, status.Status)
		assert.Equal(t, InterruptedMessage, *status.ErrorMessage)
	})

	t.Run("durable queue redelivers", func(t *testing.T) {
		env := newTestEnv(t)
		env.submit(t, textUpload("a.txt", "alpha"))

		restarted := &captureQueue{}
		coord := env.newCoordinator(restarted, nil, true)
		resumed, failed, err := coord.ResumeInterrupted(ctx)
		require.NoError(t, err)
		assert.Zero(t, resumed)
		assert.Zero(t, failed)
		assert.Empty(t, restarted.Tasks())
	})

	t.Run("ignores finished jobs", func(t *testing.T) {
		env := newTestEnv(t)
		_, task := env.submit(t, textUpload("a.txt", "alpha"))
		require.NoError(t, env.coord.Run(ctx, task))

		resumed, failed, err := env.coord.ResumeInterrupted(ctx)
		require.NoError(t, err)
		assert.Zero(t, resumed+failed)
	})
}

func TestStagedName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.pdf", "0_report.pdf"},
		{"dir/report.pdf", "0_report.pdf"},
		{"../../report.pdf", "0_report.pdf"},
		{"..", "0_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stagedName(0, tt.name), tt.name)
	}
	assert.Empty(t, stagedBase("/"))
}
