package embedders

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
)

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client    *httpclient.Client
	endpoint  string
	model     string
	dimension int
	batchSize int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func NewOllamaEmbedder(cfg *config.EmbedderConfig) (*OllamaEmbedder, error) {
	return &OllamaEmbedder{
		client:    httpclient.New(httpclient.WithTimeouts(connectTimeout, cfg.Timeout)),
		endpoint:  strings.TrimSuffix(cfg.BaseURL, "/") + "/api/embed",
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }
func (e *OllamaEmbedder) Model() string  { return e.model }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return chunked(ctx, texts, e.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		body, err := withRetry(ctx, func() ([]byte, error) {
			return e.client.PostJSON(ctx, e.endpoint, ollamaEmbedRequest{Model: e.model, Input: batch})
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embed request failed: %w", err)
		}
		if msg := gjson.GetBytes(body, "error"); msg.Exists() {
			return nil, fmt.Errorf("ollama embed error: %s", msg.String())
		}
		var out [][]float32
		for _, v := range gjson.GetBytes(body, "embeddings").Array() {
			out = append(out, floats(v))
		}
		if len(out) == 0 {
			return nil, ErrEmptyEmbedding
		}
		return out, nil
	})
}
