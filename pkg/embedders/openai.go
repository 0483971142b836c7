package embedders

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
)

// OpenAIEmbedder calls the OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    *httpclient.Client
	endpoint  string
	model     string
	dimension int
	batchSize int
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func NewOpenAIEmbedder(cfg *config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI embedder")
	}
	return &OpenAIEmbedder{
		client: httpclient.New(
			httpclient.WithTimeouts(connectTimeout, cfg.Timeout),
			httpclient.WithHeader("Authorization", "Bearer "+cfg.APIKey),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		endpoint:  strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings",
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }
func (e *OpenAIEmbedder) Model() string  { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return chunked(ctx, texts, e.batchSize, e.embedBatch)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := withRetry(ctx, func() ([]byte, error) {
		return e.client.PostJSON(ctx, e.endpoint, openAIEmbedRequest{Model: e.model, Input: texts})
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}

	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return nil, fmt.Errorf("openai embeddings error: %s", msg.String())
	}
	data := gjson.GetBytes(body, "data").Array()
	if len(data) == 0 {
		return nil, ErrEmptyEmbedding
	}

	// Entries carry an index; do not rely on response order.
	out := make([][]float32, len(texts))
	for i, item := range data {
		idx := i
		if v := item.Get("index"); v.Exists() {
			idx = int(v.Int())
		}
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", idx)
		}
		out[idx] = floats(item.Get("embedding"))
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: missing vector for input %d", ErrEmptyEmbedding, i)
		}
	}
	return out, nil
}

func floats(r gjson.Result) []float32 {
	arr := r.Array()
	out := make([]float32, len(arr))
	for i, v := range arr {
		out[i] = float32(v.Float())
	}
	return out
}
