package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/raphaelgruber/docrag/internal/memstore"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/raphaelgruber/docrag/internal/parser"
	"github.com/raphaelgruber/docrag/internal/queue"
	"github.com/stretchr/testify/require"
)

var _ Store = (*memstore.Store)(nil)

// keywordEmbedder maps each keyword to one axis so tests can reason about
// distances.
type keywordEmbedder struct {
	mu     sync.Mutex
	failOn string
	calls  int
}

var keywords = []string{"alpha", "beta", "gamma", "delta"}

func (e *keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(keywords)+1)
	lower := strings.ToLower(text)
	hit := false
	for i, kw := range keywords {
		if strings.Contains(lower, kw) {
			v[i] = 1
			hit = true
		}
	}
	if !hit {
		v[len(keywords)] = 1
	}
	return v
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.failOn != "" && strings.Contains(t, e.failOn) {
			return nil, errors.New("embedding provider unavailable")
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// scriptedCompleter returns a fixed response and records prompts.
type scriptedCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	lastUser string
}

func (c *scriptedCompleter) Complete(_ context.Context, _, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastUser = user
	return c.response, c.err
}

func (c *scriptedCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// captureQueue records tasks instead of running them.
type captureQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *captureQueue) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) Start(queue.Handler) error { return nil }
func (q *captureQueue) Shutdown(context.Context) error { return nil }

func (q *captureQueue) Tasks() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Task(nil), q.tasks...)
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return data, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

type testEnv struct {
	store    *memstore.Store
	queue    *captureQueue
	embedder *keywordEmbedder
	metrics  *metrics.Collector
	coord    *Coordinator
	jobs     *JobService
	tempDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memstore.New(),
		queue:    &captureQueue{},
		embedder: &keywordEmbedder{},
		metrics:  metrics.NewCollector(),
		tempDir:  t.TempDir(),
	}
	env.coord = env.newCoordinator(env.queue, nil, false)
	env.jobs = NewJobService(env.store, nil)
	return env
}

func (e *testEnv) newCoordinator(q queue.Queue, blobs BlobStore, durable bool) *Coordinator {
	return NewCoordinator(e.coordinatorConfig(q, blobs, durable))
}

func (e *testEnv) coordinatorConfig(q queue.Queue, blobs BlobStore, durable bool) CoordinatorConfig {
	return CoordinatorConfig{
		Store:    e.store,
		Blobs:    blobs,
		Queue:    q,
		Embedder: e.embedder,
		Chunking: parser.ChunkConfig{MaxSize: 200, Overlap: 20},
		Metrics:  e.metrics,
		TempDir:  e.tempDir,
		Durable:  durable,
	}
}

func textUpload(name, content string) Upload {
	return Upload{Filename: name, ContentType: "text/plain", Reader: strings.NewReader(content)}
}

// submit queues uploads and returns the job id and the captured task.
func (e *testEnv) submit(t *testing.T, uploads ...Upload) (string, queue.Task) {
	t.Helper()
	job, err := e.coord.Submit(context.Background(), SubmitRequest{ProjectID: "p1", UserID: "u1", Files: uploads})
	require.NoError(t, err)
	tasks := e.queue.Tasks()
	require.NotEmpty(t, tasks)
	return models.MustRecordIDString(job.ID), tasks[len(tasks)-1]
}

// seedChunks stores one document whose chunks are the given texts.
func seedChunks(t *testing.T, store *memstore.Store, embedder *keywordEmbedder, project, name string, texts ...string) string {
	t.Helper()
	ctx := context.Background()
	id := models.NewID()
	_, err := store.QueryCreateDocument(ctx, models.DocumentInput{
		ID: id, Project: project, Name: name, FileType: "text", Size: 1, Content: []byte("x"),
	})
	require.NoError(t, err)

	chunks := make([]models.ChunkInput, len(texts))
	for i, text := range texts {
		chunks[i] = models.ChunkInput{Content: text, Position: i, Embedding: embedder.vector(text)}
	}
	_, err = store.QueryStoreChunks(ctx, id, project, chunks)
	require.NoError(t, err)
	return id
}
