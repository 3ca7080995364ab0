package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New().WithClock(clock.Now), clock
}

func addDocument(t *testing.T, s *Store, project, name string) string {
	t.Helper()
	id := models.NewID()
	_, err := s.QueryCreateDocument(context.Background(), models.DocumentInput{
		ID: id, Project: project, Name: name, FileType: "txt", Size: 1, Content: []byte("x"),
	})
	require.NoError(t, err)
	return id
}

func TestSearchChunks(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	doc := addDocument(t, s, "p1", "a.txt")
	_, err := s.QueryStoreChunks(ctx, doc, "p1", []models.ChunkInput{
		{Content: "east", Position: 0, Embedding: []float32{1, 0}},
		{Content: "north", Position: 1, Embedding: []float32{0, 1}},
		{Content: "north-east", Position: 2, Embedding: []float32{1, 1}},
	})
	require.NoError(t, err)

	other := addDocument(t, s, "p2", "b.txt")
	_, err = s.QueryStoreChunks(ctx, other, "p2", []models.ChunkInput{
		{Content: "foreign", Position: 0, Embedding: []float32{0, 1}},
	})
	require.NoError(t, err)

	hits, err := s.QuerySearchChunks(ctx, "p1", []float32{0, 2}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "north", hits[0].Content)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-9)
	assert.Equal(t, "north-east", hits[1].Content)
	assert.Equal(t, "a.txt", hits[0].DocumentName)

	t.Run("ties by insertion order", func(t *testing.T) {
		clock.Advance(time.Second)
		late := addDocument(t, s, "p3", "late.txt")
		early := addDocument(t, s, "p3", "early.txt")
		_, err := s.QueryStoreChunks(ctx, early, "p3", []models.ChunkInput{{Content: "first", Embedding: []float32{1, 0}}})
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = s.QueryStoreChunks(ctx, late, "p3", []models.ChunkInput{{Content: "second", Embedding: []float32{1, 0}}})
		require.NoError(t, err)

		hits, err := s.QuerySearchChunks(ctx, "p3", []float32{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "first", hits[0].Content)
		assert.Equal(t, "second", hits[1].Content)
	})

	t.Run("empty project", func(t *testing.T) {
		hits, err := s.QuerySearchChunks(ctx, "nobody", []float32{1, 0}, 5)
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	})
}

func TestStoreChunks_ReplacesAndCascades(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	doc := addDocument(t, s, "p1", "a.txt")

	_, err := s.QueryStoreChunks(ctx, doc, "p1", []models.ChunkInput{{Content: "a"}, {Content: "b", Position: 1}})
	require.NoError(t, err)
	_, err = s.QueryStoreChunks(ctx, doc, "p1", []models.ChunkInput{{Content: "c"}})
	require.NoError(t, err)

	n, err := s.QueryCountChunks(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.QueryListDocuments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].ChunkCount)

	_, err = s.QueryDeleteDocument(ctx, doc)
	require.NoError(t, err)
	n, err = s.QueryCountChunks(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.QueryGetDocument(ctx, doc)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.QueryStoreChunks(ctx, doc, "p1", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobTransitions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	id := models.NewID()
	files := []models.FileManifest{{Filename: "a"}, {Filename: "b"}}
	_, err := s.QueryCreateJob(ctx, models.NewIngestJob(id, "p1", "u1", files, time.Time{}))
	require.NoError(t, err)

	_, err = s.QueryRecordFileResult(ctx, id, nil)
	assert.ErrorContains(t, err, "not started")

	job, err := s.QueryStartJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, job.Status)

	_, err = s.QueryRecordFileResult(ctx, id, &models.FileError{Filename: "a", Error: "bad"})
	require.NoError(t, err)
	job, err = s.QueryRecordFileResult(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 2, job.ProcessedFiles)
	assert.Equal(t, 1, job.FailedFiles)

	_, err = s.QueryFailJob(ctx, id, "late")
	assert.ErrorIs(t, err, models.ErrJobTerminal)

	stored, err := s.QueryGetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, stored.Status, "rejected transitions leave the job unchanged")
	assert.Nil(t, stored.ErrorMessage)
}

func TestRecordFileResult_ConcurrentNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	const total = 20
	files := make([]models.FileManifest, total)
	id := models.NewID()
	_, err := s.QueryCreateJob(ctx, models.NewIngestJob(id, "p", "u", files, time.Time{}))
	require.NoError(t, err)
	_, err = s.QueryStartJob(ctx, id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < total+5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var fe *models.FileError
			if i%3 == 0 {
				fe = &models.FileError{Filename: fmt.Sprintf("f%d", i), Error: "x"}
			}
			_, _ = s.QueryRecordFileResult(ctx, id, fe)
		}(i)
	}
	wg.Wait()

	job, err := s.QueryGetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, total, job.ProcessedFiles)
	assert.LessOrEqual(t, job.FailedFiles, job.ProcessedFiles)
	assert.Len(t, job.Metadata.FileErrors, job.FailedFiles)
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestListAndPurgeJobs(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	create := func(project, user string) string {
		id := models.NewID()
		_, err := s.QueryCreateJob(ctx, models.NewIngestJob(id, project, user, []models.FileManifest{{Filename: "f"}}, time.Time{}))
		require.NoError(t, err)
		clock.Advance(time.Minute)
		return id
	}
	old := create("p1", "alice")
	recent := create("p1", "alice")
	create("p2", "bob")

	jobs, err := s.QueryListJobs(ctx, models.JobFilter{User: "alice"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, recent, models.MustRecordIDString(jobs[0].ID))

	for i := 0; i < 12; i++ {
		create("p3", "carol")
	}
	jobs, err = s.QueryListJobs(ctx, models.JobFilter{User: "carol"})
	require.NoError(t, err)
	assert.Len(t, jobs, models.DefaultJobListLimit)

	_, err = s.QueryFailJob(ctx, old, "boom")
	require.NoError(t, err)

	n, err := s.QueryPurgeJobs(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only terminal jobs are purged")
	_, err = s.QueryGetJob(ctx, old)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStateTokens(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()

	require.NoError(t, s.QuerySaveState(ctx, "a", "/home", clock.Now().Add(time.Minute)))
	require.NoError(t, s.QuerySaveState(ctx, "b", "/x", clock.Now().Add(time.Second)))

	redirect, err := s.QueryConsumeState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "/home", redirect)
	_, err = s.QueryConsumeState(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotFound)

	clock.Advance(2 * time.Second)
	_, err = s.QueryConsumeState(ctx, "b")
	assert.ErrorIs(t, err, models.ErrNotFound)

	n, err := s.QueryPurgeExpiredStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
