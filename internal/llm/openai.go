package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/provider"
)

// OpenAIChatOptions configures an OpenAIChat client.
type OpenAIChatOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	HTTPClient  *http.Client
	Metrics     *metrics.Collector
}

// OpenAIChat calls an OpenAI-compatible /chat/completions endpoint. It
// never retries.
type OpenAIChat struct {
	endpoint    string
	apiKey      string
	model       string
	temperature *float64
	client      *http.Client
	metrics     *metrics.Collector
}

var _ Completer = (*OpenAIChat)(nil)

// NewOpenAIChat validates opts and returns a client.
func NewOpenAIChat(opts OpenAIChatOptions) (*OpenAIChat, error) {
	if opts.APIKey == "" {
		return nil, &provider.ConfigurationError{Provider: "openai", Setting: "OPENAI_API_KEY"}
	}
	if opts.Model == "" {
		return nil, &provider.ConfigurationError{Provider: "openai", Setting: "DOCRAG_LLM_MODEL"}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIChat{
		endpoint:    strings.TrimRight(opts.BaseURL, "/") + "/chat/completions",
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		client:      opts.HTTPClient,
		metrics:     opts.Metrics,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one system and one user message and returns the content
// of the first choice.
func (c *OpenAIChat) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &provider.ProviderError{Provider: "openai", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &provider.ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &provider.ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &provider.ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Body: "no response choices"}
	}

	c.metrics.RecordLLMUsage(metrics.OpCompletion, time.Since(start), parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	return parsed.Choices[0].Message.Content, nil
}

// Model returns the chat model name.
func (c *OpenAIChat) Model() string {
	return c.model
}
