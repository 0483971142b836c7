package llms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
	"google.golang.org/genai"
)

// GeminiProvider uses the Google GenAI SDK.
type GeminiProvider struct {
	name   string
	config *config.ProviderConfig
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, name string, cfg *config.ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", name)
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{name: name, config: cfg, client: client}, nil
}

func (p *GeminiProvider) Name() string  { return p.name }
func (p *GeminiProvider) Type() string  { return p.config.Type }
func (p *GeminiProvider) Model() string { return p.config.Model }

func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	genCfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		genCfg.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genCfg)
	if err != nil {
		return nil, classifyGeminiError(ctx, err)
	}

	out := &Response{
		Text:     resp.Text(),
		Provider: p.name,
		Model:    p.config.Model,
		Duration: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// classifyGeminiError maps SDK errors onto the httpclient taxonomy so the
// Manager retries them like any other provider.
func classifyGeminiError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code != 0 {
		return &httpclient.StatusError{
			StatusCode: code,
			Body:       err.Error(),
			Strategy:   httpclient.DefaultRetryStrategy(code),
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &httpclient.TransportError{Err: err, Timeout: netErr.Timeout()}
	}
	return err
}
