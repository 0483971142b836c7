package llms

import (
	"context"
	"fmt"

	"github.com/kadirpekel/reagent/pkg/config"
)

// New builds the adapter for one configured provider.
func New(ctx context.Context, name string, cfg *config.ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider %s: config is required", name)
	}
	switch cfg.Type {
	case config.ProviderOpenAI, config.ProviderGroq, config.ProviderTogether:
		return NewOpenAIProvider(name, cfg)
	case config.ProviderAnthropic:
		return NewAnthropicProvider(name, cfg)
	case config.ProviderOllama:
		return NewOllamaProvider(name, cfg)
	case config.ProviderGemini:
		return NewGeminiProvider(ctx, name, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s (supported: openai, anthropic, groq, together, gemini, ollama)", cfg.Type)
	}
}
