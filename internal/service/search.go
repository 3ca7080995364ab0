package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/docrag/internal/models"
)

// ErrInvalidInput marks caller mistakes such as an empty query or upload.
var ErrInvalidInput = errors.New("invalid input")

// Retrieval defaults.
const (
	DefaultInitialK = 50
	DefaultFinalK   = 10
)

// SearchService runs hybrid retrieval: vector candidates, then an
// optional LLM rerank.
type SearchService struct {
	chunks   ChunkStore
	embedder Embedder
	reranker *Reranker
	initialK int
	finalK   int
	logger   *slog.Logger
}

// SearchConfig configures NewSearchService. A nil Reranker disables
// reranking.
type SearchConfig struct {
	Chunks   ChunkStore
	Embedder Embedder
	Reranker *Reranker
	InitialK int
	FinalK   int
	Logger   *slog.Logger
}

// NewSearchService creates a new search service.
func NewSearchService(cfg SearchConfig) *SearchService {
	if cfg.InitialK <= 0 {
		cfg.InitialK = DefaultInitialK
	}
	if cfg.FinalK <= 0 {
		cfg.FinalK = DefaultFinalK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SearchService{
		chunks:   cfg.Chunks,
		embedder: cfg.Embedder,
		reranker: cfg.Reranker,
		initialK: cfg.InitialK,
		finalK:   cfg.FinalK,
		logger:   cfg.Logger,
	}
}

// SearchOptions configures a search operation.
type SearchOptions struct {
	ProjectID string
	Query     string
	// K overrides the final result count when positive.
	K int
	// Rerank overrides whether the LLM rerank pass runs. Nil uses the
	// service default (on when a reranker is configured).
	Rerank *bool
}

// Search returns the best chunks of a project for opts.Query.
func (s *SearchService) Search(ctx context.Context, opts SearchOptions) ([]models.Candidate, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, fmt.Errorf("search: %w: empty query", ErrInvalidInput)
	}
	finalK := s.finalK
	if opts.K > 0 {
		finalK = opts.K
	}
	rerank := s.reranker != nil
	if opts.Rerank != nil {
		rerank = *opts.Rerank && s.reranker != nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	k := finalK
	if rerank && s.initialK > finalK {
		k = s.initialK
	}
	hits, err := s.chunks.QuerySearchChunks(ctx, opts.ProjectID, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, models.Candidate{Chunk: h, Score: models.DistanceScore(h.Distance)})
	}

	if rerank {
		candidates = s.reranker.Rerank(ctx, query, candidates, finalK)
	} else if len(candidates) > finalK {
		candidates = candidates[:finalK]
	}

	s.logger.Debug("search complete", "project_id", opts.ProjectID, "candidates", len(hits),
		"results", len(candidates), "rerank", rerank)
	return candidates, nil
}
