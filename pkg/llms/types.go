// Package llms adapts text-generation backends to one Provider interface and
// fails over between them in priority order.
package llms

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat completion. Nil sampling fields use provider defaults.
type Request struct {
	System      string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Response struct {
	Text     string        `json:"text"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// Provider is one language-model backend. Generate makes a single attempt;
// retries and failover belong to the Manager.
type Provider interface {
	Name() string
	Type() string
	Model() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}
