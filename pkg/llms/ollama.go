package llms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
	"github.com/tidwall/gjson"
)

// OllamaProvider calls a local Ollama daemon. It needs no credential.
type OllamaProvider struct {
	name       string
	config     *config.ProviderConfig
	httpClient *httpclient.Client
	endpoint   string
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

func NewOllamaProvider(name string, cfg *config.ProviderConfig) (*OllamaProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		name:   name,
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithTimeouts(cfg.ConnectTimeout, cfg.RequestTimeout),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfter),
		),
		endpoint: strings.TrimSuffix(baseURL, "/") + "/api/chat",
	}, nil
}

func (p *OllamaProvider) Name() string  { return p.name }
func (p *OllamaProvider) Type() string  { return p.config.Type }
func (p *OllamaProvider) Model() string { return p.config.Model }

func (p *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body, err := p.httpClient.PostJSON(ctx, p.endpoint, ollamaRequest{
		Model:    p.config.Model,
		Messages: messages,
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, err
	}

	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return nil, &apiError{provider: p.name, message: msg.String()}
	}
	content := gjson.GetBytes(body, "message.content")
	if !content.Exists() {
		return nil, fmt.Errorf("%s: response has no message", p.name)
	}

	return &Response{
		Text:     content.String(),
		Provider: p.name,
		Model:    p.config.Model,
		Usage: Usage{
			InputTokens:  int(gjson.GetBytes(body, "prompt_eval_count").Int()),
			OutputTokens: int(gjson.GetBytes(body, "eval_count").Int()),
		},
		Duration: time.Since(start),
	}, nil
}
