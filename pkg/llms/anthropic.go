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

const anthropicVersion = "2023-06-01"

type AnthropicProvider struct {
	name       string
	config     *config.ProviderConfig
	httpClient *httpclient.Client
	endpoint   string
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

func NewAnthropicProvider(name string, cfg *config.ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", name)
	}
	return &AnthropicProvider{
		name:   name,
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithTimeouts(cfg.ConnectTimeout, cfg.RequestTimeout),
			httpclient.WithHeader("x-api-key", cfg.APIKey),
			httpclient.WithHeader("anthropic-version", anthropicVersion),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/v1/messages",
	}, nil
}

func (p *AnthropicProvider) Name() string  { return p.name }
func (p *AnthropicProvider) Type() string  { return p.config.Type }
func (p *AnthropicProvider) Model() string { return p.config.Model }

func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	// The messages API takes the system prompt separately and rejects
	// system-role entries in the list.
	system := req.System
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = strings.TrimSpace(system + "\n\n" + m.Content)
			continue
		}
		messages = append(messages, m)
	}

	body, err := p.httpClient.PostJSON(ctx, p.endpoint, anthropicRequest{
		Model:       p.config.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, err
	}

	if gjson.GetBytes(body, "type").String() == "error" {
		return nil, &apiError{provider: p.name, message: gjson.GetBytes(body, "error.message").String()}
	}

	var text strings.Builder
	for _, block := range gjson.GetBytes(body, "content").Array() {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
	}

	return &Response{
		Text:     text.String(),
		Provider: p.name,
		Model:    p.config.Model,
		Usage: Usage{
			InputTokens:  int(gjson.GetBytes(body, "usage.input_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(body, "usage.output_tokens").Int()),
		},
		Duration: time.Since(start),
	}, nil
}
