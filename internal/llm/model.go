// Package llm provides chat completion clients.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/docrag/internal/config"
	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/provider"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completer turns a system prompt and a user prompt into one completion.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// New creates the Completer selected by cfg. OpenAI goes through the raw
// HTTP client; the other providers through langchaingo.
func New(ctx context.Context, cfg config.Config, mc *metrics.Collector) (Completer, error) {
	if cfg.LLMProvider == config.ProviderOpenAI {
		return NewOpenAIChat(OpenAIChatOptions{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
			Metrics:    mc,
		})
	}
	m, err := NewModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.metrics = mc
	return m, nil
}

// Model wraps a langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	provider  string
	modelName string
	metrics   *metrics.Collector
}

var _ Completer = (*Model)(nil)

// NewModel creates a langchaingo-backed model based on configuration.
func NewModel(ctx context.Context, cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, &provider.ConfigurationError{Provider: "openai", Setting: "OPENAI_API_KEY"}
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
			openai.WithBaseURL(cfg.OpenAIBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, &provider.ConfigurationError{Provider: "anthropic", Setting: "ANTHROPIC_API_KEY"}
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithModel(cfg.LLMModel),
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, &provider.ConfigurationError{Provider: string(cfg.LLMProvider), Setting: "DOCRAG_LLM_PROVIDER"}
	}

	return NewModelFromLLM(string(cfg.LLMProvider), cfg.LLMModel, model), nil
}

// NewModelFromLLM wraps an already constructed langchaingo model.
func NewModelFromLLM(providerName, modelName string, model llms.Model) *Model {
	return &Model{llm: model, provider: providerName, modelName: modelName}
}

// Complete generates text with a system prompt.
func (m *Model) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", provider.FromSDK(m.provider, err)
	}
	if len(response.Choices) == 0 {
		return "", &provider.ProviderError{Provider: m.provider, Body: "no response choices"}
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpCompletion, time.Since(start), in, out)
	return choice.Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// tokenUsage reads token counts from langchaingo generation info. Key
// names differ per provider.
func tokenUsage(info map[string]any) (int64, int64) {
	pick := func(keys ...string) int64 {
		for _, k := range keys {
			switch v := info[k].(type) {
			case int:
				return int64(v)
			case int32:
				return int64(v)
			case int64:
				return v
			case float64:
				return int64(v)
			}
		}
		return 0
	}
	return pick("PromptTokens", "InputTokens", "input_tokens"),
		pick("CompletionTokens", "OutputTokens", "output_tokens")
}
