package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/docrag/internal/provider"
)

const providerOpenAI = "openai"

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	HTTPClient *http.Client
}

// OpenAIClient implements Embedder against an OpenAI-compatible
// /embeddings endpoint. It never retries; wrap it with WithRetry for that.
type OpenAIClient struct {
	endpoint  string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

// Compile-time check that OpenAIClient implements Embedder.
var _ Embedder = (*OpenAIClient)(nil)

// NewOpenAIClient validates opts and returns a client.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, &provider.ConfigurationError{Provider: providerOpenAI, Setting: "OPENAI_API_KEY"}
	}
	if opts.Model == "" {
		return nil, &provider.ConfigurationError{Provider: providerOpenAI, Setting: "DOCRAG_EMBED_MODEL"}
	}
	if opts.Dimension <= 0 {
		return nil, &provider.ConfigurationError{Provider: providerOpenAI, Setting: "DOCRAG_EMBED_DIMENSION"}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &OpenAIClient{
		endpoint:  strings.TrimRight(opts.BaseURL, "/") + "/embeddings",
		apiKey:    opts.APIKey,
		model:     opts.Model,
		dimension: opts.Dimension,
		client:    opts.HTTPClient,
	}, nil
}

// Model returns the configured embedding model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Dimension returns the expected embedding dimension.
func (c *OpenAIClient) Dimension() int {
	return c.dimension
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding vector for the given text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch sends all texts in one request and returns the vectors
// ordered by their response index.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	jsonBody, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &provider.ProviderError{Provider: providerOpenAI, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &provider.ProviderError{
			Provider:   providerOpenAI,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &provider.ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(parsed.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(embeddings) || embeddings[d.Index] != nil {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		if len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d",
				d.Index, len(d.Embedding), c.dimension)
		}
		embeddings[d.Index] = d.Embedding
	}

	slog.Debug("embedding batch complete",
		"model", c.model,
		"inputs", len(texts),
		"tokens", parsed.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds())
	return embeddings, nil
}
