package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/docrag/internal/auth"
	"github.com/raphaelgruber/docrag/internal/memstore"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/raphaelgruber/docrag/internal/parser"
	"github.com/raphaelgruber/docrag/internal/queue"
	"github.com/raphaelgruber/docrag/internal/server"
	"github.com/raphaelgruber/docrag/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger creates a logger that writes to stderr for test visibility.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// wordEmbedder puts texts mentioning "alpha" on one axis and everything
// else on another.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "alpha") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type fixedCompleter struct{ response string }

func (c fixedCompleter) Complete(context.Context, string, string) (string, error) {
	return c.response, nil
}

type testServer struct {
	handler http.Handler
	store   *memstore.Store
	states  *auth.StateStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()
	store := memstore.New()
	mc := metrics.NewCollector()

	q := queue.NewMemory(logger, queue.WithWorkers(2))
	coord := service.NewCoordinator(service.CoordinatorConfig{
		Store:    store,
		Queue:    q,
		Embedder: wordEmbedder{},
		Chunking: parser.DefaultChunkConfig(),
		Metrics:  mc,
		Logger:   logger,
		TempDir:  t.TempDir(),
	})
	require.NoError(t, q.Start(coord.Run))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})

	completer := fixedCompleter{response: "Alpha is first [Source 1]."}
	reranker, err := service.NewReranker(completer, mc, logger)
	require.NoError(t, err)
	search := service.NewSearchService(service.SearchConfig{
		Chunks: store, Embedder: wordEmbedder{}, Reranker: reranker, Logger: logger,
	})
	states := auth.NewStateStore(store, time.Minute)

	srv := server.New(server.Options{
		Coordinator: coord,
		Jobs:        service.NewJobService(store, logger),
		Search:      search,
		Chat:        service.NewChatService(search, completer),
		Documents:   service.NewDocumentService(store, nil, logger),
		States:      states,
		Metrics:     mc,
		Logger:      logger,
		OAuth: server.OAuthConfig{
			AuthorizeURL: "https://id.example.com/authorize",
			ClientID:     "docrag",
			CallbackURL:  "http://localhost:8484/auth/callback",
		},
		WatchInterval: 10 * time.Millisecond,
	})
	return &testServer{handler: srv.Handler(), store: store, states: states}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, project, user string, files map[string]string) server.UploadResponse {
	t.Helper()
	body, contentType := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(server.UserHeader, user)

	rec := ts.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp server.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (ts *testServer) status(t *testing.T, jobID, user string) (int, models.JobStatusReport, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/status", nil)
	req.Header.Set(server.UserHeader, user)
	rec := ts.do(t, req)

	var report models.JobStatusReport
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	}
	return rec.Code, report, rec.Body.String()
}

func (ts *testServer) waitTerminal(t *testing.T, jobID, user string) models.JobStatusReport {
	t.Helper()
	var report models.JobStatusReport
	require.Eventually(t, func() bool {
		_, report, _ = ts.status(t, jobID, user)
		return report.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return report
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUploadLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.upload(t, "p1", "u1", map[string]string{
		"a.txt": "alpha is the first letter",
		"b.bin": "\x00\x01\x02\x03",
	})
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 2, resp.TotalFiles)
	assert.Equal(t, int64(len("alpha is the first letter")+4), resp.TotalSize)
	assert.Equal(t, "Processing 2 files in background", resp.Message)
	require.NotEmpty(t, resp.JobID)

	report := ts.waitTerminal(t, resp.JobID, "u1")
	assert.Equal(t, models.JobCompleted, report.Status)
	assert.Equal(t, 2, report.Progress.ProcessedFiles)
	assert.Equal(t, 1, report.Progress.FailedFiles)
	assert.Equal(t, 50.0, report.Progress.SuccessRate)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/p1/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var docs struct {
		Documents []models.DocumentSummary `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs.Documents, 1)
	assert.Equal(t, "a.txt", docs.Documents[0].Name)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+docs.Documents[0].ID+"/content", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alpha is the first letter", rec.Body.String())

	rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/"+docs.Documents[0].ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/"+docs.Documents[0].ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadWithoutFiles(t *testing.T) {
	ts := newTestServer(t)
	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/documents", body)
	req.Header.Set("Content-Type", contentType)

	rec := ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No files provided"}`, rec.Body.String())
}

func TestJobStatusAccess(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.upload(t, "p1", "owner", map[string]string{"a.txt": "alpha"})

	code, _, body := ts.status(t, resp.JobID, "intruder")
	assert.Equal(t, http.StatusForbidden, code)
	assert.JSONEq(t, `{"error":"Access denied"}`, body)

	code, _, body = ts.status(t, "no-such-job", "owner")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"Job not found"}`, body)
}

func TestListAndPurgeJobs(t *testing.T) {
	ts := newTestServer(t)
	first := ts.upload(t, "p1", "u1", map[string]string{"a.txt": "alpha"})
	ts.upload(t, "p2", "u2", map[string]string{"b.txt": "beta"})
	ts.waitTerminal(t, first.JobID, "u1")

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=10", nil)
	req.Header.Set(server.UserHeader, "u1")
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs []models.JobStatusReport `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, first.JobID, list.Jobs[0].JobID)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs?older_than_days=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs?older_than_days=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":0}`, rec.Body.String())
}

func TestSearchAndChat(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.upload(t, "p1", "u1", map[string]string{"a.txt": "alpha is the first letter"})
	ts.waitTerminal(t, resp.JobID, "u1")

	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/search", strings.NewReader(`{"text":"alpha"}`))
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var search server.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	require.Len(t, search.Results, 1)
	assert.Equal(t, "a.txt", search.Results[0].DocumentName)
	assert.Equal(t, models.ScoreDistance, search.Results[0].Score.Kind)
	assert.InDelta(t, 1.0, search.Results[0].Relevance, 1e-6)

	req = httptest.NewRequest(http.MethodPost, "/api/projects/p1/chat", strings.NewReader(`{"text":"what is alpha?"}`))
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var answer service.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, "Alpha is first [Source 1].", answer.Response)
	require.Len(t, answer.Sources, 1)

	req = httptest.NewRequest(http.MethodPost, "/api/projects/empty/chat", strings.NewReader(`{"text":"anything?"}`))
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, service.NoContextResponse, answer.Response)
	assert.Empty(t, answer.Sources)

	req = httptest.NewRequest(http.MethodPost, "/api/projects/p1/search", strings.NewReader(`{"text":""}`))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/projects/p1/search", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, req).Code)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.upload(t, "p1", "u1", map[string]string{"a.txt": "alpha"})
	ts.waitTerminal(t, resp.JobID, "u1")

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Counters[metrics.CounterJobsSubmitted])

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/projects/p1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"project_id":"p1","documents":1,"chunks":1}`, rec.Body.String())
}

func TestWatchJob(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	resp := ts.upload(t, "p1", "u1", map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/jobs/" + resp.JobID + "/watch"
	header := http.Header{server.UserHeader: []string{"u1"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	var last models.JobStatusReport
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var report models.JobStatusReport
		err := conn.ReadJSON(&report)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		assert.Equal(t, resp.JobID, report.JobID)
		last = report
	}
	assert.Equal(t, models.JobCompleted, last.Status)
	assert.Equal(t, 2, last.Progress.ProcessedFiles)

	// Someone else's job is refused before the upgrade
	_, httpResp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{server.UserHeader: []string{"u2"}})
	require.Error(t, err)
	require.NotNil(t, httpResp)
	assert.Equal(t, http.StatusForbidden, httpResp.StatusCode)
}

func TestOAuthState(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/auth/login?redirect=/projects", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "id.example.com", loc.Host)
	assert.Equal(t, "code", loc.Query().Get("response_type"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	callback := "/auth/callback?code=abc&state=" + url.QueryEscape(state)
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, callback, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/projects", rec.Header().Get("Location"))

	// A state validates once
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, callback, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/auth/callback?state=forged", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurger(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	_, err := store.QueryCreateJob(ctx, models.NewIngestJob("j1", "p1", "u1", []models.FileManifest{{Filename: "a"}}, time.Now()))
	require.NoError(t, err)

	states := auth.NewStateStore(store, time.Minute)
	p := server.NewPurger(service.NewJobService(store, nil), states, 30, time.Hour, testLogger())
	p.RunOnce(ctx)

	// Recent unfinished jobs are kept
	_, err = store.QueryGetJob(ctx, "j1")
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() { p.Run(runCtx); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purger did not stop")
	}
}
