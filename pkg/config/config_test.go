package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParse_YAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	data := []byte(`
provider_priority: [openai, ollama]
providers:
  openai:
    api_key: ${TEST_OPENAI_KEY}
    request_timeout: 20s
    retries: 2
  ollama:
    base_url: ${TEST_OLLAMA_URL:-http://ollama:11434}
generation:
  temperature: 0.2
agent:
  max_iterations: "4"
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	openai := cfg.Providers["openai"]
	if openai.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want sk-test", openai.APIKey)
	}
	if openai.Type != ProviderOpenAI {
		t.Errorf("type = %q, want openai (from map key)", openai.Type)
	}
	if openai.RequestTimeout != 20*time.Second {
		t.Errorf("request_timeout = %v", openai.RequestTimeout)
	}
	if *openai.Retries != 2 {
		t.Errorf("retries = %d", *openai.Retries)
	}
	if openai.Model != "gpt-3.5-turbo" {
		t.Errorf("model default = %q", openai.Model)
	}
	if got := cfg.Providers["ollama"].BaseURL; got != "http://ollama:11434" {
		t.Errorf("ollama base_url = %q", got)
	}
	if got := cfg.Providers["ollama"].RequestTimeout; got != 180*time.Second {
		t.Errorf("ollama request_timeout default = %v", got)
	}
	if *cfg.Generation.Temperature != 0.2 {
		t.Errorf("temperature = %v", *cfg.Generation.Temperature)
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("max_iterations = %d (weakly typed decode)", cfg.Agent.MaxIterations)
	}
	if !reflect.DeepEqual(cfg.OrderedProviders(), []string{"openai", "ollama"}) {
		t.Errorf("OrderedProviders() = %v", cfg.OrderedProviders())
	}
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"providers": {"ollama": {}}, "rag": {"chunk_size": 500, "chunk_overlap": 50}}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.RAG.ChunkSize != 500 || cfg.RAG.ChunkOverlap != 50 {
		t.Errorf("rag = %+v", cfg.RAG)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown provider type", "providers:\n  local:\n    type: bard\n", "unknown provider type"},
		{"overlap too large", "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n", "chunk_overlap"},
		{"bad fallback", "agent:\n  parse_fallback: guess\n", "parse_fallback"},
		{"bad temperature", "generation:\n  temperature: 3\n", "temperature"},
		{"bad session driver", "session:\n  driver: oracle\n", "unknown driver"},
		{"duplicate priority", "provider_priority: [ollama, ollama]\n", "listed twice"},
		{"unknown tool", "tools:\n  enabled: [telepathy]\n", "unknown tool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSetDefaults_EmptyConfigUsesOllama(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.OrderedProviders(); !reflect.DeepEqual(got, []string{"ollama"}) {
		t.Errorf("OrderedProviders() = %v", got)
	}
	if !cfg.Providers["ollama"].HasCredential() {
		t.Error("ollama must not require a credential")
	}
	if cfg.Agent.ParseFallback != ParseFallbackFinalAnswer {
		t.Errorf("parse_fallback default = %q", cfg.Agent.ParseFallback)
	}
	if cfg.Embedder.Provider != EmbedderHash || cfg.Embedder.Dimension != 1536 {
		t.Errorf("embedder defaults = %+v", cfg.Embedder)
	}
	if len(cfg.Tools.Enabled) != len(AllTools) {
		t.Errorf("tools enabled = %v", cfg.Tools.Enabled)
	}
}

func TestSetDefaults_PriorityOrder(t *testing.T) {
	cfg := &Config{Providers: map[string]*ProviderConfig{
		"ollama":    {},
		"anthropic": {APIKey: "a"},
		"openai":    {APIKey: "o"},
		"custom":    {Type: ProviderOpenAI, APIKey: "c"},
	}}
	cfg.SetDefaults()

	want := []string{"openai", "anthropic", "ollama", "custom"}
	if !reflect.DeepEqual(cfg.ProviderPriority, want) {
		t.Errorf("ProviderPriority = %v, want %v", cfg.ProviderPriority, want)
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"MODEL_PROVIDER_PRIORITY": "groq, ollama",
		"GROQ_API_KEY":            "gsk",
		"OLLAMA_REQUEST_TIMEOUT":  "90",
		"OLLAMA_RETRY_BACKOFF":    "1.5",
		"LLM_MODEL":               "llama3",
		"MODEL_MAX_TOKENS":        "256",
		"EMBEDDING_CHUNK_SIZE":    "800",
		"DATABASE_URI":            "postgresql://u:p@db:5432/agent",
	}
	cfg := fromLookup(func(k string) string { return env[k] })

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, ok := cfg.Providers["openai"]; ok {
		t.Error("openai without key should not be configured")
	}
	if got := cfg.OrderedProviders(); !reflect.DeepEqual(got, []string{"groq", "ollama"}) {
		t.Errorf("OrderedProviders() = %v", got)
	}
	ollama := cfg.Providers["ollama"]
	if ollama.Model != "llama3" {
		t.Errorf("ollama model = %q", ollama.Model)
	}
	if ollama.RequestTimeout != 90*time.Second {
		t.Errorf("ollama request timeout = %v", ollama.RequestTimeout)
	}
	if ollama.Backoff != 1500*time.Millisecond {
		t.Errorf("ollama backoff = %v", ollama.Backoff)
	}
	if cfg.Generation.MaxTokens != 256 {
		t.Errorf("max_tokens = %d", cfg.Generation.MaxTokens)
	}
	if cfg.RAG.ChunkSize != 800 {
		t.Errorf("chunk_size = %d", cfg.RAG.ChunkSize)
	}
	if cfg.Session.Driver != SessionPostgres {
		t.Errorf("session driver = %q", cfg.Session.Driver)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("REAGENT_TEST_A=from-file\nREAGENT_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REAGENT_TEST_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("REAGENT_TEST_B") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("REAGENT_TEST_A"); got != "from-env" {
		t.Errorf("REAGENT_TEST_A = %q, existing value must win", got)
	}
	if got := os.Getenv("REAGENT_TEST_B"); got != "from-file" {
		t.Errorf("REAGENT_TEST_B = %q", got)
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	for _, key := range []string{"provider_priority", "max_iterations", "similarity_threshold"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("schema missing %q", key)
		}
	}
}
