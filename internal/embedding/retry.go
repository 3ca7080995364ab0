package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/raphaelgruber/docrag/internal/provider"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

type retryingEmbedder struct {
	Embedder
	opts RetryOptions
}

// WithRetry wraps e so that temporary provider errors (429, 5xx) are
// retried with exponential backoff. Other errors are returned at once.
func WithRetry(e Embedder, opts RetryOptions) Embedder {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = 2 * time.Minute
	}
	return &retryingEmbedder{Embedder: e, opts: opts}
}

func (r *retryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.retry(ctx, func() error {
		v, err := r.Embedder.Embed(ctx, text)
		out = v
		return err
	})
	return out, err
}

func (r *retryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.retry(ctx, func() error {
		v, err := r.Embedder.EmbedBatch(ctx, texts)
		out = v
		return err
	})
	return out, err
}

func (r *retryingEmbedder) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxElapsedTime = r.opts.MaxElapsedTime

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !provider.IsTemporary(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("embedding request failed, retrying", "model", r.Model(), "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.opts.MaxRetries), ctx))
}
