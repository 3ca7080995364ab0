package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rerankSystemPrompt = `You are an expert at evaluating the relevance of text passages to search queries.
Your task is to score each chunk based on how relevant it is to the given query.

Rate each chunk on a scale of 0-10 where:
- 10: Highly relevant, directly answers the query
- 7-9: Very relevant, contains important information
- 4-6: Somewhat relevant, contains related information
- 1-3: Slightly relevant, tangentially related
- 0: Not relevant at all

Return your response as a JSON array of scores in the same order as the chunks.
Example: [8, 3, 9, 1, 6]`

// rerankPreviewRunes caps how much of each chunk goes into the prompt.
const rerankPreviewRunes = 500

const scoresSchema = `{
	"type": "array",
	"items": {"type": "number", "minimum": 0, "maximum": 10}
}`

// Reranker reorders retrieval candidates with one LLM scoring call.
type Reranker struct {
	completer Completer
	schema    *jsonschema.Schema
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewReranker compiles the score schema. mc and logger may be nil.
func NewReranker(completer Completer, mc *metrics.Collector, logger *slog.Logger) (*Reranker, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("scores.json", strings.NewReader(scoresSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("scores.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{completer: completer, schema: schema, metrics: mc, logger: logger}, nil
}

// Rerank returns at most finalK candidates. It never fails: when there is
// nothing to rerank the input comes back unchanged, and when the model
// call or its answer is unusable the first finalK candidates come back in
// their original order.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.Candidate, finalK int) []models.Candidate {
	if len(candidates) <= finalK {
		return candidates
	}
	if finalK <= 0 {
		return []models.Candidate{}
	}
	fallback := candidates[:finalK]

	defer r.metrics.Since(metrics.OpRerank, time.Now())

	raw, err := r.completer.Complete(ctx, rerankSystemPrompt, rerankUserPrompt(query, candidates))
	if err != nil {
		r.logger.Warn("rerank completion failed, keeping retrieval order", "error", err)
		r.metrics.Inc(metrics.CounterRerankFallbacks)
		return fallback
	}

	scores, err := r.parseScores(raw)
	if err != nil {
		r.logger.Warn("rerank response unusable, keeping retrieval order", "error", err)
		r.metrics.Inc(metrics.CounterRerankFallbacks)
		return fallback
	}
	if len(scores) != len(candidates) {
		r.logger.Warn("rerank score count mismatch, keeping retrieval order",
			"scores", len(scores), "candidates", len(candidates))
		r.metrics.Inc(metrics.CounterRerankFallbacks)
		return fallback
	}

	ranked := make([]models.Candidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = models.RerankScore(scores[i])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score.Value > ranked[j].Score.Value
	})
	return ranked[:finalK]
}

func rerankUserPrompt(query string, candidates []models.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nChunks to evaluate:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "Chunk %d: %s\n", i, truncateRunes(c.Chunk.Content, rerankPreviewRunes))
	}
	b.WriteString("\n\nPlease score each chunk's relevance to the query and return only the JSON array of scores.")
	return b.String()
}

// parseScores strips an optional markdown fence and validates the array.
func (r *Reranker) parseScores(raw string) ([]float64, error) {
	text := stripCodeFence(raw)

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := r.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate scores: %w", err)
	}

	var scores []float64
	if err := json.Unmarshal([]byte(text), &scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	return scores, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag such as ```json
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
