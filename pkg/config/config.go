// Package config defines the immutable process configuration.
//
// A Config is built once at startup (from a YAML/JSON file or from the
// environment), defaulted, validated and then passed by pointer to the
// components that need it. Request-handling code never reads the
// environment directly.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server,omitempty" jsonschema:"title=Server"`

	// ProviderPriority lists provider names in failover order.
	ProviderPriority []string `yaml:"provider_priority" json:"provider_priority,omitempty" jsonschema:"title=Provider Priority,description=Provider names in failover order"`

	Providers map[string]*ProviderConfig `yaml:"providers" json:"providers,omitempty" jsonschema:"title=Providers"`

	Generation    GenerationConfig    `yaml:"generation" json:"generation,omitempty"`
	Agent         AgentConfig         `yaml:"agent" json:"agent,omitempty"`
	Tools         ToolsConfig         `yaml:"tools" json:"tools,omitempty"`
	Embedder      EmbedderConfig      `yaml:"embedder" json:"embedder,omitempty"`
	Vector        VectorConfig        `yaml:"vector" json:"vector,omitempty"`
	RAG           RAGConfig           `yaml:"rag" json:"rag,omitempty"`
	Session       SessionConfig       `yaml:"session" json:"session,omitempty"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability,omitempty"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address         string          `yaml:"address" json:"address,omitempty" jsonschema:"default=:8000"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" json:"read_timeout,omitempty"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" json:"shutdown_timeout,omitempty"`
	TurnTimeout     time.Duration   `yaml:"turn_timeout" json:"turn_timeout,omitempty" jsonschema:"description=Upper bound for a single chat turn"`
	MaxUploadBytes  int64           `yaml:"max_upload_bytes" json:"max_upload_bytes,omitempty"`
	CORSOrigins     []string        `yaml:"cors_origins" json:"cors_origins,omitempty"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" json:"rate_limit,omitempty"`
}

// RateLimitConfig configures the per-client token bucket on chat endpoints.
type RateLimitConfig struct {
	Enabled           *bool   `yaml:"enabled" json:"enabled,omitempty" jsonschema:"default=true"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second,omitempty" jsonschema:"default=2"`
	Burst             int     `yaml:"burst" json:"burst,omitempty" jsonschema:"default=10"`
}

// GenerationConfig holds the global sampling parameters.
type GenerationConfig struct {
	Temperature  *float64 `yaml:"temperature" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.7"`
	TopP         *float64 `yaml:"top_p" json:"top_p,omitempty" jsonschema:"minimum=0,maximum=1,default=0.9"`
	MaxTokens    int      `yaml:"max_tokens" json:"max_tokens,omitempty" jsonschema:"minimum=1,default=500"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt,omitempty"`
}

// Parse fallback policies.
const (
	ParseFallbackFinalAnswer = "final_answer"
	ParseFallbackRetry       = "retry"
)

// AgentConfig configures the reasoning loop.
type AgentConfig struct {
	MaxIterations   int    `yaml:"max_iterations" json:"max_iterations,omitempty" jsonschema:"minimum=1,default=6"`
	ParseFallback   string `yaml:"parse_fallback" json:"parse_fallback,omitempty" jsonschema:"enum=final_answer,enum=retry,default=final_answer"`
	HistoryMessages int    `yaml:"history_messages" json:"history_messages,omitempty" jsonschema:"default=10"`
	HistoryTokens   int    `yaml:"history_tokens" json:"history_tokens,omitempty" jsonschema:"default=2000"`
	TokenizerModel  string `yaml:"tokenizer_model" json:"tokenizer_model,omitempty" jsonschema:"default=gpt-3.5-turbo"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `yaml:"format" json:"format,omitempty" jsonschema:"enum=simple,enum=verbose,enum=json,default=simple"`
	File   string `yaml:"file" json:"file,omitempty"`
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.setProviderDefaults()
	c.Generation.SetDefaults()
	c.Agent.SetDefaults()
	c.Tools.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.RAG.SetDefaults()
	c.Session.SetDefaults()
	c.Observability.SetDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

// Validate checks the configuration. It expects SetDefaults to have run.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, fmt.Errorf("at least one provider must be configured"))
	}
	for name, p := range c.Providers {
		if p == nil {
			errs = append(errs, fmt.Errorf("providers.%s: empty definition", name))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
		}
	}
	seen := make(map[string]bool, len(c.ProviderPriority))
	for _, name := range c.ProviderPriority {
		if seen[name] {
			errs = append(errs, fmt.Errorf("provider_priority: %q listed twice", name))
		}
		seen[name] = true
	}

	for _, v := range []interface{ Validate() error }{
		&c.Server, &c.Generation, &c.Agent, &c.Tools, &c.Embedder,
		&c.Vector, &c.RAG, &c.Session, &c.Observability,
	} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag: chunk_overlap (%d) must be smaller than chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize))
	}

	return errors.Join(errs...)
}

// OrderedProviders returns configured provider names in priority order.
// Names in ProviderPriority without a definition are skipped.
func (c *Config) OrderedProviders() []string {
	out := make([]string, 0, len(c.ProviderPriority))
	used := make(map[string]bool, len(c.ProviderPriority))
	for _, name := range c.ProviderPriority {
		if _, ok := c.Providers[name]; ok && !used[name] {
			out = append(out, name)
			used[name] = true
		}
	}
	return out
}

// SetDefaults applies server defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8000"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 5 * time.Minute
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 20 << 20
	}
	if c.RateLimit.Enabled == nil {
		c.RateLimit.Enabled = BoolPtr(true)
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 2
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
}

// Validate checks server settings.
func (c *ServerConfig) Validate() error {
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("server: max_upload_bytes must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("server: rate_limit values must not be negative")
	}
	return nil
}

// SetDefaults applies the stock generation parameters.
func (c *GenerationConfig) SetDefaults() {
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.TopP == nil {
		c.TopP = Float64Ptr(0.9)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 500
	}
}

// Validate checks sampling bounds.
func (c *GenerationConfig) Validate() error {
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("generation: temperature must be between 0 and 2")
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return fmt.Errorf("generation: top_p must be between 0 and 1")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("generation: max_tokens must be positive")
	}
	return nil
}

// SetDefaults applies reasoning loop defaults.
func (c *AgentConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 6
	}
	if c.ParseFallback == "" {
		c.ParseFallback = ParseFallbackFinalAnswer
	}
	if c.HistoryMessages == 0 {
		c.HistoryMessages = 10
	}
	if c.HistoryTokens == 0 {
		c.HistoryTokens = 2000
	}
	if c.TokenizerModel == "" {
		c.TokenizerModel = "gpt-3.5-turbo"
	}
}

// Validate checks reasoning loop settings.
func (c *AgentConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("agent: max_iterations must be at least 1")
	}
	switch c.ParseFallback {
	case ParseFallbackFinalAnswer, ParseFallbackRetry:
	default:
		return fmt.Errorf("agent: invalid parse_fallback %q (valid: final_answer, retry)", c.ParseFallback)
	}
	if c.HistoryMessages < 0 || c.HistoryTokens < 0 {
		return fmt.Errorf("agent: history limits must not be negative")
	}
	return nil
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }

// BoolValue dereferences b, returning def when nil.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
