// Package app wires the configured store, queue, providers and services
// together. It serves as dependency injection for the server binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/docrag/internal/auth"
	"github.com/raphaelgruber/docrag/internal/blob"
	"github.com/raphaelgruber/docrag/internal/config"
	"github.com/raphaelgruber/docrag/internal/db"
	"github.com/raphaelgruber/docrag/internal/embedding"
	"github.com/raphaelgruber/docrag/internal/llm"
	"github.com/raphaelgruber/docrag/internal/memstore"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/parser"
	"github.com/raphaelgruber/docrag/internal/queue"
	"github.com/raphaelgruber/docrag/internal/server"
	"github.com/raphaelgruber/docrag/internal/service"
)

// backend is what both db.Client and memstore.Store provide.
type backend interface {
	service.Store
	Ping(ctx context.Context) error
	QuerySaveState(ctx context.Context, token, redirect string, expiresAt time.Time) error
	QueryConsumeState(ctx context.Context, token string) (string, error)
	QueryPurgeExpiredStates(ctx context.Context) (int, error)
}

var (
	_ backend = (*db.Client)(nil)
	_ backend = (*memstore.Store)(nil)
)

// App holds every long-lived dependency of the server.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Collector

	store backend
	db    *db.Client // nil for the memory store
	queue queue.Queue

	Coordinator *service.Coordinator
	Jobs        *service.JobService
	Search      *service.SearchService
	Chat        *service.ChatService
	Documents   *service.DocumentService
	States      *auth.StateStore
}

// Providers lets callers replace the model clients. Nil fields are built
// from the config.
type Providers struct {
	Embedder  embedding.Embedder
	Completer llm.Completer
}

// New creates the application from cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, p Providers) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		a.closeStore(ctx)
		return nil, err
	}

	if err := a.openQueue(); err != nil {
		a.closeStore(ctx)
		return nil, err
	}

	embedder := p.Embedder
	if embedder == nil {
		embedder, err = embedding.New(cfg)
		if err != nil {
			a.closeStore(ctx)
			return nil, fmt.Errorf("init embedder: %w", err)
		}
	}

	completer := p.Completer
	if completer == nil {
		completer, err = llm.New(ctx, cfg, a.metrics)
		if err != nil {
			a.closeStore(ctx)
			return nil, fmt.Errorf("init completion model: %w", err)
		}
	}

	var reranker *service.Reranker
	if cfg.RerankEnabled {
		reranker, err = service.NewReranker(completer, a.metrics, logger)
		if err != nil {
			a.closeStore(ctx)
			return nil, fmt.Errorf("init reranker: %w", err)
		}
	}

	a.Coordinator = service.NewCoordinator(service.CoordinatorConfig{
		Store:    a.store,
		Blobs:    blobs,
		Queue:    a.queue,
		Embedder: embedder,
		Chunking: parser.ChunkConfig{MaxSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		Metrics:  a.metrics,
		Logger:   logger.With("component", "ingest"),
		TempDir:  cfg.TempDir,
		Durable:  cfg.QueueBackend == config.QueueRabbitMQ,
	})
	a.Jobs = service.NewJobService(a.store, logger)
	a.Search = service.NewSearchService(service.SearchConfig{
		Chunks:   a.store,
		Embedder: embedder,
		Reranker: reranker,
		InitialK: cfg.InitialK,
		FinalK:   cfg.FinalK,
		Logger:   logger,
	})
	a.Chat = service.NewChatService(a.Search, completer)
	a.Documents = service.NewDocumentService(a.store, blobs, logger)
	a.States = auth.NewStateStore(a.store, cfg.OAuthStateTTL)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.StoreBackend {
	case config.StoreMemory:
		a.logger.Warn("using in-memory store, data is lost on restart")
		a.store = memstore.New()
		return nil
	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       a.cfg.SurrealDBURL,
			Namespace: a.cfg.SurrealDBNamespace,
			Database:  a.cfg.SurrealDBDatabase,
			Username:  a.cfg.SurrealDBUser,
			Password:  a.cfg.SurrealDBPass,
			AuthLevel: a.cfg.SurrealDBAuthLevel,
		}, a.logger, a.metrics)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx, a.cfg.EmbedDimension); err != nil {
			_ = client.Close(ctx)
			return fmt.Errorf("initialize schema: %w", err)
		}
		a.db = client
		a.store = client
		return nil
	default:
		return fmt.Errorf("unsupported store backend: %s", a.cfg.StoreBackend)
	}
}

// openBlobs returns a nil interface when object storage is not configured
// so the services keep bytes inline.
func (a *App) openBlobs(ctx context.Context) (service.BlobStore, error) {
	if a.cfg.MinIOEndpoint == "" {
		return nil, nil
	}
	store, err := blob.NewStore(ctx, blob.Config{
		Endpoint:  a.cfg.MinIOEndpoint,
		AccessKey: a.cfg.MinIOAccessKey,
		SecretKey: a.cfg.MinIOSecretKey,
		Bucket:    a.cfg.MinIOBucket,
		UseSSL:    a.cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}
	return store, nil
}

func (a *App) openQueue() error {
	logger := a.logger.With("component", "queue")
	switch a.cfg.QueueBackend {
	case config.QueueMemory:
		a.queue = queue.NewMemory(logger, queue.WithWorkers(a.cfg.Workers))
		return nil
	case config.QueueRabbitMQ:
		q, err := queue.NewRabbitMQ(queue.RabbitMQOptions{
			URL:     a.cfg.RabbitMQURL,
			Name:    a.cfg.QueueName,
			Workers: a.cfg.Workers,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		a.queue = q
		return nil
	default:
		return fmt.Errorf("unsupported queue backend: %s", a.cfg.QueueBackend)
	}
}

// Start settles jobs left over from a previous run and then starts the
// workers.
func (a *App) Start(ctx context.Context) error {
	resumed, failed, err := a.Coordinator.ResumeInterrupted(ctx)
	if err != nil {
		// Not fatal: new uploads still work
		a.logger.Warn("failed to resume interrupted jobs", "error", err)
	} else if resumed+failed > 0 {
		a.logger.Info("settled interrupted jobs", "resumed", resumed, "failed", failed)
	}

	if err := a.queue.Start(a.Coordinator.Run); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	return nil
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	return server.New(server.Options{
		Coordinator:    a.Coordinator,
		Jobs:           a.Jobs,
		Search:         a.Search,
		Chat:           a.Chat,
		Documents:      a.Documents,
		States:         a.States,
		Metrics:        a.metrics,
		Logger:         a.logger.With("component", "http"),
		Health:         a.store.Ping,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
		RetentionDays:  a.cfg.JobRetentionDays,
		OAuth: server.OAuthConfig{
			AuthorizeURL: a.cfg.OAuthAuthorizeURL,
			ClientID:     a.cfg.OAuthClientID,
			CallbackURL:  a.cfg.OAuthCallbackURL,
		},
	}).Handler()
}

// Purger returns the retention loop for jobs and OAuth states.
func (a *App) Purger() *server.Purger {
	return server.NewPurger(a.Jobs, a.States, a.cfg.JobRetentionDays, server.DefaultPurgeInterval, a.logger.With("component", "purge"))
}

// Close drains the workers and closes connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown queue: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) closeStore(ctx context.Context) {
	if a.db != nil {
		_ = a.db.Close(ctx)
	}
}

// WipeData deletes all data from the database. Use for testing only.
func (a *App) WipeData(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.WipeData(ctx)
}
