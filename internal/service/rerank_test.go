package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/docrag/internal/metrics"
	"github.com/raphaelgruber/docrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(n int) []models.Candidate {
	out := make([]models.Candidate, n)
	for i := range out {
		out[i] = models.Candidate{
			Chunk: models.ScoredChunk{
				ID:       models.NewRecordID(models.TableChunk, fmt.Sprintf("c%d", i)),
				Content:  fmt.Sprintf("chunk number %d", i),
				Distance: float64(i) / 10,
			},
			Score: models.DistanceScore(float64(i) / 10),
		}
	}
	return out
}

func contents(cs []models.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Chunk.Content
	}
	return out
}

func newTestReranker(t *testing.T, c Completer) (*Reranker, *metrics.Collector) {
	t.Helper()
	mc := metrics.NewCollector()
	r, err := NewReranker(c, mc, nil)
	require.NoError(t, err)
	return r, mc
}

func TestRerank_ShortCircuit(t *testing.T) {
	completer := &scriptedCompleter{response: "[1,2,3,4]"}
	r, _ := newTestReranker(t, completer)

	in := candidates(4)
	out := r.Rerank(context.Background(), "q", in, 10)

	assert.Equal(t, in, out)
	assert.Equal(t, 0, completer.Calls())
}

func TestRerank_OrdersByScore(t *testing.T) {
	completer := &scriptedCompleter{response: "[1, 9, 5, 9]"}
	r, mc := newTestReranker(t, completer)

	out := r.Rerank(context.Background(), "q", candidates(4), 3)

	require.Len(t, out, 3)
	// Equal scores keep their retrieval order
	assert.Equal(t, []string{"chunk number 1", "chunk number 3", "chunk number 2"}, contents(out))
	assert.Equal(t, models.RerankScore(9), out[0].Score)
	assert.InDelta(t, 0.9, out[0].Score.Relevance(), 1e-9)
	assert.Equal(t, int64(0), mc.Snapshot().Counters[metrics.CounterRerankFallbacks])

	assert.Contains(t, completer.lastUser, "Query: q")
	assert.Contains(t, completer.lastUser, "Chunk 0: chunk number 0")
	assert.Contains(t, completer.lastUser, "Chunk 3: chunk number 3")
}

func TestRerank_CodeFence(t *testing.T) {
	completer := &scriptedCompleter{response: "```json\n[0, 0, 10]\n```"}
	r, _ := newTestReranker(t, completer)

	out := r.Rerank(context.Background(), "q", candidates(3), 1)

	require.Len(t, out, 1)
	assert.Equal(t, "chunk number 2", out[0].Chunk.Content)
}

func TestRerank_Fallback(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"completion error", "", errors.New("provider down")},
		{"not json", "the first chunk is best", nil},
		{"too few scores", "[1, 2]", nil},
		{"too many scores", "[1, 2, 3, 4, 5, 6]", nil},
		{"score out of range", "[11, 2, 3, 4, 5]", nil},
		{"not an array", `{"scores": [1, 2, 3, 4, 5]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &scriptedCompleter{response: tt.response, err: tt.err}
			r, mc := newTestReranker(t, completer)

			in := candidates(5)
			out := r.Rerank(context.Background(), "q", in, 2)

			assert.Equal(t, in[:2], out)
			assert.Equal(t, 1, completer.Calls())
			assert.Equal(t, int64(1), mc.Snapshot().Counters[metrics.CounterRerankFallbacks])
		})
	}
}

func TestRerankPromptTruncatesChunks(t *testing.T) {
	long := make([]rune, 0, 600)
	for range 600 {
		long = append(long, 'é')
	}
	cs := []models.Candidate{{Chunk: models.ScoredChunk{Content: string(long)}}}

	prompt := rerankUserPrompt("q", cs)

	assert.Contains(t, prompt, "Chunk 0: "+string(long[:rerankPreviewRunes])+"\n")
	assert.NotContains(t, prompt, string(long[:rerankPreviewRunes+1]))
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[1,2]", "[1,2]"},
		{"  [1,2]\n", "[1,2]"},
		{"```\n[1,2]\n```", "[1,2]"},
		{"```json\n[1,2]\n```", "[1,2]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in), tt.in)
	}
}
