package embedding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/docrag/internal/embedding"
	"github.com/raphaelgruber/docrag/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	dim int
	err error
}

func (f *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(text))
		out[i] = v
	}
	return out, nil
}

func TestLangchainEmbedder_Batch(t *testing.T) {
	e, err := embedding.NewLangchainEmbedder("ollama", &fakeClient{dim: 3}, "nomic", 3)
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "line one\nline two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(17), vectors[1][0], "newlines must be kept")
	assert.Equal(t, "nomic", e.Model())
}

func TestLangchainEmbedder_DimensionMismatch(t *testing.T) {
	e, err := embedding.NewLangchainEmbedder("ollama", &fakeClient{dim: 2}, "nomic", 3)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestLangchainEmbedder_MapsSDKErrors(t *testing.T) {
	e, err := embedding.NewLangchainEmbedder("ollama", &fakeClient{dim: 3, err: errors.New("rate limit exceeded")}, "nomic", 3)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	var pe *provider.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "ollama", pe.Provider)
	assert.True(t, provider.IsTemporary(err))
}

func TestNewLangchainEmbedder_RequiresDimension(t *testing.T) {
	_, err := embedding.NewLangchainEmbedder("ollama", &fakeClient{}, "nomic", 0)
	assert.ErrorIs(t, err, provider.ErrConfiguration)
}
