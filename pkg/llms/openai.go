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

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Groq, Together).
type OpenAIProvider struct {
	name       string
	config     *config.ProviderConfig
	httpClient *httpclient.Client
	endpoint   string
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

func NewOpenAIProvider(name string, cfg *config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", name)
	}
	return &OpenAIProvider{
		name:   name,
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithTimeouts(cfg.ConnectTimeout, cfg.RequestTimeout),
			httpclient.WithHeader("Authorization", "Bearer "+cfg.APIKey),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions",
	}, nil
}

func (p *OpenAIProvider) Name() string  { return p.name }
func (p *OpenAIProvider) Type() string  { return p.config.Type }
func (p *OpenAIProvider) Model() string { return p.config.Model }

func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body, err := p.httpClient.PostJSON(ctx, p.endpoint, openAIRequest{
		Model:       p.config.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, err
	}

	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return nil, &apiError{provider: p.name, message: msg.String()}
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return nil, fmt.Errorf("%s: no response choices returned", p.name)
	}

	return &Response{
		Text:     content.String(),
		Provider: p.name,
		Model:    p.config.Model,
		Usage: Usage{
			InputTokens:  int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
		},
		Duration: time.Since(start),
	}, nil
}
