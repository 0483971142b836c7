// Package utils holds small helpers shared by the agent packages.
package utils

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used for models tiktoken does not know.
const DefaultEncoding = "cl100k_base"

// perMessageOverhead approximates the role framing tokens of a chat message.
const perMessageOverhead = 3

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// TokenCounter counts tokens with the tiktoken encoding of a model. When no
// encoding can be loaded it falls back to a four-characters-per-token estimate.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// Message is the minimal shape counted by CountMessages.
type Message struct {
	Role    string
	Content string
}

// NewTokenCounter never fails; an unavailable encoding degrades to estimation.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{encoding: loadEncoding(model), model: model}
}

func loadEncoding(model string) *tiktoken.Tiktoken {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
	}
	if err != nil {
		slog.Warn("Token encoding unavailable, estimating", "model", model, "error", err)
		enc = nil
	}
	encodingCache[model] = enc
	return enc
}

// Exact reports whether counts come from a real encoding.
func (tc *TokenCounter) Exact() bool { return tc != nil && tc.encoding != nil }

func (tc *TokenCounter) Model() string { return tc.model }

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if !tc.Exact() {
		return max(1, len(text)/4)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessage includes the per-message framing overhead.
func (tc *TokenCounter) CountMessage(m Message) int {
	return perMessageOverhead + tc.Count(m.Role) + tc.Count(m.Content)
}

// FitWithinLimit keeps the most recent messages whose combined count stays
// within maxTokens. Order is preserved. maxTokens <= 0 disables the budget.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if maxTokens <= 0 || len(messages) == 0 {
		return messages
	}
	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n := tc.CountMessage(messages[i])
		if used+n > maxTokens {
			break
		}
		used += n
		start = i
	}
	return messages[start:]
}
