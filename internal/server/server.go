// Package server provides the docrag HTTP API: uploads, job status, search,
// chat and the OAuth state endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/docrag/internal/auth"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/service"
)

// UserHeader carries the caller's user id. Identity is established in
// front of this service.
const UserHeader = "X-User-ID"

// OAuthConfig holds the authorization endpoint settings for /auth/login.
type OAuthConfig struct {
	AuthorizeURL string
	ClientID     string
	CallbackURL  string
}

// Options wires the server to its services.
type Options struct {
	Coordinator *service.Coordinator
	Jobs        *service.JobService
	Search      *service.SearchService
	Chat        *service.ChatService
	Documents   *service.DocumentService
	States      *auth.StateStore
	Metrics     *metrics.Collector
	Logger      *slog.Logger

	// Health checks backing services. Nil reports healthy.
	Health func(ctx context.Context) error

	MaxUploadBytes int64
	RetentionDays  int
	OAuth          OAuthConfig

	// WatchInterval is how often the job watch socket polls. Defaults to 1s.
	WatchInterval time.Duration
}

// Server routes HTTP requests to the services.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a new server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Access is decided by the user header
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/projects/{project_id}/documents", s.handleUpload)
	mux.HandleFunc("GET /api/projects/{project_id}/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/projects/{project_id}/stats", s.handleProjectStats)
	mux.HandleFunc("POST /api/projects/{project_id}/search", s.handleSearch)
	mux.HandleFunc("POST /api/projects/{project_id}/chat", s.handleChat)

	mux.HandleFunc("GET /api/documents/{id}/content", s.handleDocumentContent)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)

	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("DELETE /api/jobs", s.handlePurgeJobs)
	mux.HandleFunc("GET /api/jobs/{id}/status", s.handleJobStatus)
	mux.HandleFunc("GET /api/jobs/{id}/watch", s.handleWatchJob)

	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)

	return LoggingMiddleware(s.logger)(mux)
}
