// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"sort"
	"time"
)

// Provider types.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGroq      = "groq"
	ProviderTogether  = "together"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// DefaultProviderPriority is used when provider_priority is empty.
var DefaultProviderPriority = []string{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGroq,
	ProviderTogether,
	ProviderGemini,
	ProviderOllama,
}

type providerDefaults struct {
	baseURL        string
	model          string
	connectTimeout time.Duration
	requestTimeout time.Duration
	needsKey       bool
}

var knownProviders = map[string]providerDefaults{
	ProviderOpenAI:    {"https://api.openai.com/v1", "gpt-3.5-turbo", 10 * time.Second, 60 * time.Second, true},
	ProviderAnthropic: {"https://api.anthropic.com", "claude-3-haiku-20240307", 10 * time.Second, 60 * time.Second, true},
	ProviderGroq:      {"https://api.groq.com/openai/v1", "llama3-8b-8192", 10 * time.Second, 60 * time.Second, true},
	ProviderTogether:  {"https://api.together.xyz/v1", "meta-llama/Llama-2-7b-chat-hf", 10 * time.Second, 60 * time.Second, true},
	ProviderGemini:    {"", "gemini-2.0-flash", 10 * time.Second, 60 * time.Second, true},
	ProviderOllama:    {"http://localhost:11434", "phi3:mini", 10 * time.Second, 180 * time.Second, false},
}

// IsKnownProvider reports whether t is a supported provider type.
func IsKnownProvider(t string) bool {
	_, ok := knownProviders[t]
	return ok
}

// RequiresAPIKey reports whether provider type t needs a credential.
func RequiresAPIKey(t string) bool {
	d, ok := knownProviders[t]
	return !ok || d.needsKey
}

// ProviderConfig configures one text-generation backend.
type ProviderConfig struct {
	// Type selects the adapter. Defaults to the map key when it names a known type.
	Type string `yaml:"type" json:"type,omitempty" jsonschema:"enum=openai,enum=anthropic,enum=groq,enum=together,enum=gemini,enum=ollama"`

	APIKey  string `yaml:"api_key" json:"api_key,omitempty" jsonschema:"description=API key (use ${ENV_VAR})"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
	Model   string `yaml:"model" json:"model,omitempty"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout,omitempty"`

	// Retries is the number of extra attempts after the first failure.
	Retries *int          `yaml:"retries" json:"retries,omitempty" jsonschema:"minimum=0,default=1"`
	Backoff time.Duration `yaml:"backoff" json:"backoff,omitempty" jsonschema:"description=Initial retry delay,default=3s"`
}

// SetDefaults fills provider defaults for the given map key.
func (p *ProviderConfig) SetDefaults(name string) {
	if p.Type == "" && IsKnownProvider(name) {
		p.Type = name
	}
	d := knownProviders[p.Type]
	if p.BaseURL == "" {
		p.BaseURL = d.baseURL
	}
	if p.Model == "" {
		p.Model = d.model
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = d.connectTimeout
	}
	if p.RequestTimeout == 0 {
		p.RequestTimeout = d.requestTimeout
	}
	if p.Retries == nil {
		p.Retries = IntPtr(1)
	}
	if p.Backoff == 0 {
		p.Backoff = 3 * time.Second
	}
}

// Validate checks a provider definition.
func (p *ProviderConfig) Validate() error {
	if !IsKnownProvider(p.Type) {
		return fmt.Errorf("unknown provider type %q", p.Type)
	}
	if p.Model == "" {
		return fmt.Errorf("model is required")
	}
	if p.Retries != nil && *p.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if p.ConnectTimeout < 0 || p.RequestTimeout < 0 || p.Backoff < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// HasCredential reports whether the provider can be called.
func (p *ProviderConfig) HasCredential() bool {
	return p.APIKey != "" || !RequiresAPIKey(p.Type)
}

func (c *Config) setProviderDefaults() {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	if len(c.Providers) == 0 {
		c.Providers[ProviderOllama] = &ProviderConfig{}
	}
	for name, p := range c.Providers {
		if p == nil {
			continue
		}
		p.SetDefaults(name)
	}

	if len(c.ProviderPriority) > 0 {
		return
	}
	used := make(map[string]bool)
	for _, name := range DefaultProviderPriority {
		if _, ok := c.Providers[name]; ok {
			c.ProviderPriority = append(c.ProviderPriority, name)
			used[name] = true
		}
	}
	var rest []string
	for name := range c.Providers {
		if !used[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	c.ProviderPriority = append(c.ProviderPriority, rest...)
}
