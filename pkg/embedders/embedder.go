// Package embedders turns text into vectors for the embedding index.
package embedders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
)

// ErrEmptyEmbedding is returned when a backend answers without vectors.
var ErrEmptyEmbedding = errors.New("empty embedding response")

// Embedder produces vector embeddings from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// New builds the embedder selected by cfg.Provider.
func New(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbedderOpenAI:
		return NewOpenAIEmbedder(cfg)
	case config.EmbedderOllama:
		return NewOllamaEmbedder(cfg)
	case config.EmbedderHash, "":
		return NewHashEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}

const (
	// embedRetries bounds attempts for transient embedding failures.
	embedRetries   = 3
	connectTimeout = 10 * time.Second
)

// withRetry retries op on retryable httpclient errors with a short
// exponential backoff.
func withRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 5 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !httpclient.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(embedRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("Retrying embedding request", "error", err, "backoff", next)
		}),
	)
}

// chunked calls fn on consecutive slices of at most size texts.
func chunked(ctx context.Context, texts []string, size int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmptyEmbedding, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
