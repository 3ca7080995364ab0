// Package embedding provides text embedding generation with multiple backend support.
package embedding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/raphaelgruber/docrag/internal/config"
	"github.com/raphaelgruber/docrag/internal/provider"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Embedder defines the interface for text embedding providers.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the HNSW index dimension in the SurrealDB schema.
	Dimension() int
}

// New creates the Embedder selected by cfg. Missing credentials are
// reported here, not on the first request.
func New(cfg config.Config) (Embedder, error) {
	var e Embedder

	switch cfg.EmbedProvider {
	case config.ProviderOpenAI:
		client, err := NewOpenAIClient(OpenAIOptions{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.EmbedModel,
			Dimension:  cfg.EmbedDimension,
			HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
		})
		if err != nil {
			return nil, err
		}
		e = client

	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithModel(cfg.EmbedModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		lc, err := NewLangchainEmbedder(string(config.ProviderOllama), llm, cfg.EmbedModel, cfg.EmbedDimension)
		if err != nil {
			return nil, err
		}
		e = lc

	default:
		return nil, &provider.ConfigurationError{Provider: string(cfg.EmbedProvider), Setting: "DOCRAG_EMBED_PROVIDER"}
	}

	if cfg.EmbedRetries > 0 {
		e = WithRetry(e, RetryOptions{MaxRetries: uint64(cfg.EmbedRetries)})
	}
	return e, nil
}
