package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docrag/internal/provider"
	"github.com/tmc/langchaingo/embeddings"
)

// LangchainEmbedder wraps a langchaingo embeddings client with dimension
// validation and provider error mapping.
type LangchainEmbedder struct {
	provider  string
	model     embeddings.Embedder
	modelName string
	dimension int
}

var _ Embedder = (*LangchainEmbedder)(nil)

// NewLangchainEmbedder builds an Embedder on top of any langchaingo
// embeddings client (ollama, openai, bedrock ...).
func NewLangchainEmbedder(providerName string, client embeddings.EmbedderClient, modelName string, dimension int) (*LangchainEmbedder, error) {
	if dimension <= 0 {
		return nil, &provider.ConfigurationError{Provider: providerName, Setting: "DOCRAG_EMBED_DIMENSION"}
	}
	model, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", providerName, err)
	}
	return &LangchainEmbedder{
		provider:  providerName,
		model:     model,
		modelName: modelName,
		dimension: dimension,
	}, nil
}

// Embed generates an embedding vector for text.
func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *LangchainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.Warn("embedding failed", "provider", e.provider, "model", e.modelName,
			"inputs", len(texts), "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, provider.FromSDK(e.provider, err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), e.dimension)
		}
	}
	return vectors, nil
}

// Model returns the embedding model name.
func (e *LangchainEmbedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *LangchainEmbedder) Dimension() int {
	return e.dimension
}
