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
	"time"
)

// Built-in tool names.
const (
	ToolWebSearch      = "web_search"
	ToolDocumentSearch = "document_search"
	ToolCalculator     = "calculator"
	ToolCodeExecution  = "code_execution"
	ToolListDocuments  = "list_documents"
)

// AllTools lists every built-in tool.
var AllTools = []string{ToolWebSearch, ToolDocumentSearch, ToolCalculator, ToolCodeExecution, ToolListDocuments}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// Enabled lists the tools to register. Empty means all built-ins.
	Enabled []string `yaml:"enabled" json:"enabled,omitempty"`

	WebSearch      WebSearchConfig      `yaml:"web_search" json:"web_search,omitempty"`
	DocumentSearch DocumentSearchConfig `yaml:"document_search" json:"document_search,omitempty"`
	CodeExecution  CodeExecutionConfig  `yaml:"code_execution" json:"code_execution,omitempty"`
	ListDocuments  ListDocumentsConfig  `yaml:"list_documents" json:"list_documents,omitempty"`
}

// WebSearchConfig configures the DuckDuckGo backend.
type WebSearchConfig struct {
	BaseURL    string        `yaml:"base_url" json:"base_url,omitempty"`
	MaxResults int           `yaml:"max_results" json:"max_results,omitempty" jsonschema:"default=5"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent,omitempty"`
}

// DocumentSearchConfig holds document_search defaults.
type DocumentSearchConfig struct {
	MaxResults          int     `yaml:"max_results" json:"max_results,omitempty" jsonschema:"default=5"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold,omitempty" jsonschema:"minimum=0,maximum=1,default=0.7"`
}

// CodeExecutionConfig configures the sandboxed interpreter.
type CodeExecutionConfig struct {
	Interpreter    string        `yaml:"interpreter" json:"interpreter,omitempty" jsonschema:"default=python3"`
	Args           []string      `yaml:"args" json:"args,omitempty"`
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout,omitempty" jsonschema:"default=10s"`
	MaxTimeout     time.Duration `yaml:"max_timeout" json:"max_timeout,omitempty" jsonschema:"default=30s"`
	MaxOutputBytes int           `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`

	// Resource limits applied inside python interpreters. Negative disables a limit.
	MaxMemoryBytes int64         `yaml:"max_memory_bytes" json:"max_memory_bytes,omitempty" jsonschema:"default=268435456"`
	MaxCPUTime     time.Duration `yaml:"max_cpu_time" json:"max_cpu_time,omitempty" jsonschema:"default=10s"`
	MaxFileBytes   int64         `yaml:"max_file_bytes" json:"max_file_bytes,omitempty" jsonschema:"default=16777216"`
	MaxProcesses   int           `yaml:"max_processes" json:"max_processes,omitempty"`
}

// ListDocumentsConfig holds list_documents defaults.
type ListDocumentsConfig struct {
	Limit int `yaml:"limit" json:"limit,omitempty" jsonschema:"default=20"`
}

// SetDefaults applies tool defaults.
func (c *ToolsConfig) SetDefaults() {
	if len(c.Enabled) == 0 {
		c.Enabled = append([]string(nil), AllTools...)
	}
	if c.WebSearch.BaseURL == "" {
		c.WebSearch.BaseURL = "https://html.duckduckgo.com/html/"
	}
	if c.WebSearch.MaxResults == 0 {
		c.WebSearch.MaxResults = 5
	}
	if c.WebSearch.Timeout == 0 {
		c.WebSearch.Timeout = 15 * time.Second
	}
	if c.WebSearch.UserAgent == "" {
		c.WebSearch.UserAgent = "Mozilla/5.0 (compatible; reagent/1.0)"
	}
	if c.DocumentSearch.MaxResults == 0 {
		c.DocumentSearch.MaxResults = 5
	}
	if c.DocumentSearch.SimilarityThreshold == 0 {
		c.DocumentSearch.SimilarityThreshold = 0.7
	}
	if c.CodeExecution.Interpreter == "" {
		c.CodeExecution.Interpreter = "python3"
		if len(c.CodeExecution.Args) == 0 {
			c.CodeExecution.Args = []string{"-I", "-c"}
		}
	}
	if c.CodeExecution.DefaultTimeout == 0 {
		c.CodeExecution.DefaultTimeout = 10 * time.Second
	}
	if c.CodeExecution.MaxTimeout == 0 {
		c.CodeExecution.MaxTimeout = 30 * time.Second
	}
	if c.CodeExecution.MaxOutputBytes == 0 {
		c.CodeExecution.MaxOutputBytes = 64 << 10
	}
	if c.CodeExecution.MaxMemoryBytes == 0 {
		c.CodeExecution.MaxMemoryBytes = 256 << 20
	}
	if c.CodeExecution.MaxCPUTime == 0 {
		c.CodeExecution.MaxCPUTime = 10 * time.Second
	}
	if c.CodeExecution.MaxFileBytes == 0 {
		c.CodeExecution.MaxFileBytes = 16 << 20
	}
	if c.ListDocuments.Limit == 0 {
		c.ListDocuments.Limit = 20
	}
}

// Validate checks tool settings.
func (c *ToolsConfig) Validate() error {
	known := make(map[string]bool, len(AllTools))
	for _, name := range AllTools {
		known[name] = true
	}
	for _, name := range c.Enabled {
		if !known[name] {
			return fmt.Errorf("tools: unknown tool %q", name)
		}
	}
	if t := c.DocumentSearch.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("tools: similarity_threshold must be between 0 and 1")
	}
	if c.CodeExecution.DefaultTimeout > c.CodeExecution.MaxTimeout {
		return fmt.Errorf("tools: code_execution default_timeout exceeds max_timeout")
	}
	return nil
}

// IsEnabled reports whether the named tool should be registered.
func (c *ToolsConfig) IsEnabled(name string) bool {
	for _, n := range c.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

// Embedder providers.
const (
	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"
)

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	Provider  string        `yaml:"provider" json:"provider,omitempty" jsonschema:"enum=hash,enum=openai,enum=ollama"`
	Model     string        `yaml:"model" json:"model,omitempty"`
	APIKey    string        `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL   string        `yaml:"base_url" json:"base_url,omitempty"`
	Dimension int           `yaml:"dimension" json:"dimension,omitempty"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	BatchSize int           `yaml:"batch_size" json:"batch_size,omitempty"`
}

// SetDefaults picks openai when a key is present, else the hash embedder.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		if c.APIKey != "" {
			c.Provider = EmbedderOpenAI
		} else {
			c.Provider = EmbedderHash
		}
	}
	switch c.Provider {
	case EmbedderOpenAI:
		if c.Model == "" {
			c.Model = "text-embedding-ada-002"
		}
		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
		if c.Dimension == 0 {
			c.Dimension = 1536
		}
	case EmbedderOllama:
		if c.Model == "" {
			c.Model = "nomic-embed-text"
		}
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
		if c.Dimension == 0 {
			c.Dimension = 768
		}
	case EmbedderHash:
		if c.Model == "" {
			c.Model = "sha256"
		}
		if c.Dimension == 0 {
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Validate checks embedder settings.
func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderHash, EmbedderOllama:
	case EmbedderOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("embedder: api_key is required for openai")
		}
	default:
		return fmt.Errorf("embedder: unknown provider %q (valid: hash, openai, ollama)", c.Provider)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("embedder: dimension must be positive")
	}
	return nil
}

// Vector store providers.
const (
	VectorHNSW    = "hnsw"
	VectorChromem = "chromem"
	VectorQdrant  = "qdrant"
)

// VectorConfig selects and tunes the embedding index.
type VectorConfig struct {
	Provider string `yaml:"provider" json:"provider,omitempty" jsonschema:"enum=hnsw,enum=chromem,enum=qdrant,default=hnsw"`

	HNSW    HNSWConfig    `yaml:"hnsw" json:"hnsw,omitempty"`
	Chromem ChromemConfig `yaml:"chromem" json:"chromem,omitempty"`
	Qdrant  QdrantConfig  `yaml:"qdrant" json:"qdrant,omitempty"`
}

// HNSWConfig tunes the in-process graph index.
type HNSWConfig struct {
	M              int `yaml:"m" json:"m,omitempty" jsonschema:"default=16"`
	EfConstruction int `yaml:"ef_construction" json:"ef_construction,omitempty" jsonschema:"default=200"`
	EfSearch       int `yaml:"ef_search" json:"ef_search,omitempty" jsonschema:"default=50"`

	// SnapshotDir enables durable snapshots in a badger database.
	SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir,omitempty"`
}

// ChromemConfig configures the chromem-go backend.
type ChromemConfig struct {
	PersistPath string `yaml:"persist_path" json:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress" json:"compress,omitempty"`
	Collection  string `yaml:"collection" json:"collection,omitempty"`
}

// QdrantConfig configures the qdrant backend.
type QdrantConfig struct {
	Host       string `yaml:"host" json:"host,omitempty"`
	Port       int    `yaml:"port" json:"port,omitempty" jsonschema:"default=6334"`
	APIKey     string `yaml:"api_key" json:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls" json:"use_tls,omitempty"`
	Collection string `yaml:"collection" json:"collection,omitempty"`
}

// SetDefaults applies vector defaults.
func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorHNSW
	}
	if c.HNSW.M == 0 {
		c.HNSW.M = 16
	}
	if c.HNSW.EfConstruction == 0 {
		c.HNSW.EfConstruction = 200
	}
	if c.HNSW.EfSearch == 0 {
		c.HNSW.EfSearch = 50
	}
	if c.Chromem.Collection == "" {
		c.Chromem.Collection = "documents"
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "documents"
	}
}

// Validate checks vector settings.
func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case VectorHNSW, VectorChromem, VectorQdrant:
	default:
		return fmt.Errorf("vector: unknown provider %q (valid: hnsw, chromem, qdrant)", c.Provider)
	}
	if c.HNSW.M < 2 {
		return fmt.Errorf("vector: hnsw.m must be at least 2")
	}
	return nil
}

// RAGConfig configures document ingestion.
type RAGConfig struct {
	ChunkSize        int    `yaml:"chunk_size" json:"chunk_size,omitempty" jsonschema:"default=1000"`
	ChunkOverlap     int    `yaml:"chunk_overlap" json:"chunk_overlap,omitempty" jsonschema:"default=200"`
	EmbedConcurrency int    `yaml:"embed_concurrency" json:"embed_concurrency,omitempty" jsonschema:"default=4"`
	WatchDir         string `yaml:"watch_dir" json:"watch_dir,omitempty" jsonschema:"description=Directory ingested automatically on change"`
}

// SetDefaults applies ingestion defaults.
func (c *RAGConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.EmbedConcurrency == 0 {
		c.EmbedConcurrency = 4
	}
}

// Validate checks ingestion settings.
func (c *RAGConfig) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("rag: chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("rag: chunk_overlap must not be negative")
	}
	return nil
}

// Session drivers.
const (
	SessionSQLite   = "sqlite"
	SessionPostgres = "postgres"
	SessionMySQL    = "mysql"
	SessionMemory   = "memory"
)

// SessionConfig configures the Conversation Store.
type SessionConfig struct {
	Driver       string `yaml:"driver" json:"driver,omitempty" jsonschema:"enum=sqlite,enum=postgres,enum=mysql,enum=memory,default=sqlite"`
	DSN          string `yaml:"dsn" json:"dsn,omitempty"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns,omitempty"`
}

// SetDefaults applies session defaults.
func (c *SessionConfig) SetDefaults() {
	if c.Driver == "sqlite3" {
		c.Driver = SessionSQLite
	}
	if c.Driver == "" {
		c.Driver = SessionSQLite
	}
	if c.Driver == SessionSQLite && c.DSN == "" {
		c.DSN = "reagent.db"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
}

// Validate checks session settings.
func (c *SessionConfig) Validate() error {
	switch c.Driver {
	case SessionSQLite, SessionPostgres, SessionMySQL:
		if c.DSN == "" {
			return fmt.Errorf("session: dsn is required for driver %q", c.Driver)
		}
	case SessionMemory:
	default:
		return fmt.Errorf("session: unknown driver %q (valid: sqlite, postgres, mysql, memory)", c.Driver)
	}
	return nil
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing,omitempty"`
}

// MetricsConfig enables the prometheus exporter.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled,omitempty"`
	Exporter     string  `yaml:"exporter" json:"exporter,omitempty" jsonschema:"enum=otlp,enum=stdout,default=otlp"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate,omitempty"`
	ServiceName  string  `yaml:"service_name" json:"service_name,omitempty"`
}

// SetDefaults applies observability defaults.
func (c *ObservabilityConfig) SetDefaults() {
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "reagent"
	}
}

// Validate checks observability settings.
func (c *ObservabilityConfig) Validate() error {
	switch c.Tracing.Exporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("observability: unknown tracing exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("observability: sampling_rate must be between 0 and 1")
	}
	return nil
}
