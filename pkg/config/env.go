package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files without overriding variables that are already
// set. Explicit paths are tried first, then ./.env.
func LoadDotEnv(paths ...string) error {
	for _, path := range append(paths, ".env") {
		if path == "" {
			continue
		}
		if err := loadIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnvForConfig loads the .env next to the config file, then ./.env.
func LoadDotEnvForConfig(configPath string) error {
	if configPath == "" {
		return LoadDotEnv()
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return LoadDotEnv()
	}
	return LoadDotEnv(filepath.Join(filepath.Dir(abs), ".env"))
}

func loadIfExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Debug("Loaded environment file", "path", path)
	return nil
}

// envPrefixes maps provider types to their environment variable prefix.
var envPrefixes = map[string]string{
	ProviderOpenAI:    "OPENAI",
	ProviderAnthropic: "ANTHROPIC",
	ProviderGroq:      "GROQ",
	ProviderTogether:  "TOGETHER",
	ProviderGemini:    "GEMINI",
	ProviderOllama:    "OLLAMA",
}

// FromEnv builds a defaulted Config from environment variables, using the
// conventional variable names (MODEL_PROVIDER_PRIORITY,
// OPENAI_API_KEY, OLLAMA_BASE_URL, DATABASE_URI, ...).
func FromEnv() *Config {
	return fromLookup(os.Getenv)
}

func fromLookup(getenv func(string) string) *Config {
	cfg := &Config{Providers: make(map[string]*ProviderConfig)}

	apiConnect := envDuration(getenv, "API_CONNECT_TIMEOUT", 0)
	apiRequest := envDuration(getenv, "API_REQUEST_TIMEOUT", 0)

	for _, name := range DefaultProviderPriority {
		prefix := envPrefixes[name]
		p := &ProviderConfig{
			Type:    name,
			APIKey:  getenv(prefix + "_API_KEY"),
			BaseURL: getenv(prefix + "_BASE_URL"),
			Model:   getenv(prefix + "_MODEL"),
		}
		if name == ProviderOllama {
			if p.Model == "" {
				p.Model = getenv("LLM_MODEL")
			}
			p.ConnectTimeout = envDuration(getenv, "OLLAMA_CONNECT_TIMEOUT", 0)
			p.RequestTimeout = envDuration(getenv, "OLLAMA_REQUEST_TIMEOUT", 0)
			if v, err := strconv.Atoi(getenv("OLLAMA_RETRY_ATTEMPTS")); err == nil {
				p.Retries = IntPtr(v)
			}
			p.Backoff = envDuration(getenv, "OLLAMA_RETRY_BACKOFF", 0)
		} else {
			p.ConnectTimeout = apiConnect
			p.RequestTimeout = apiRequest
			if p.APIKey == "" {
				// Without a credential the provider is skipped, so leave it out.
				continue
			}
		}
		cfg.Providers[name] = p
	}

	if prio := getenv("MODEL_PROVIDER_PRIORITY"); prio != "" {
		for _, name := range strings.Split(prio, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				cfg.ProviderPriority = append(cfg.ProviderPriority, name)
			}
		}
	}

	if v, err := strconv.ParseFloat(getenv("MODEL_TEMPERATURE"), 64); err == nil {
		cfg.Generation.Temperature = Float64Ptr(v)
	}
	if v, err := strconv.ParseFloat(getenv("MODEL_TOP_P"), 64); err == nil {
		cfg.Generation.TopP = Float64Ptr(v)
	}
	if v, err := strconv.Atoi(getenv("MODEL_MAX_TOKENS")); err == nil {
		cfg.Generation.MaxTokens = v
	}
	if v, err := strconv.Atoi(getenv("AGENT_MAX_ITERATIONS")); err == nil {
		cfg.Agent.MaxIterations = v
	}

	if v, err := strconv.Atoi(getenv("EMBEDDING_CHUNK_SIZE")); err == nil {
		cfg.RAG.ChunkSize = v
	}
	if v, err := strconv.Atoi(getenv("EMBEDDING_CHUNK_OVERLAP")); err == nil {
		cfg.RAG.ChunkOverlap = v
	}
	if key := getenv("OPENAI_API_KEY"); key != "" {
		cfg.Embedder.Provider = EmbedderOpenAI
		cfg.Embedder.APIKey = key
		cfg.Embedder.BaseURL = getenv("OPENAI_BASE_URL")
		cfg.Embedder.Model = getenv("OPENAI_EMBEDDING_MODEL")
	}

	if uri := getenv("DATABASE_URI"); uri != "" {
		cfg.Session.Driver, cfg.Session.DSN = driverFromURI(uri)
	}

	if port := getenv("PORT"); port != "" {
		cfg.Server.Address = getenv("HOST") + ":" + port
	}
	cfg.Logging.Level = getenv("LOG_LEVEL")

	cfg.SetDefaults()
	return cfg
}

// driverFromURI infers the SQL driver from a connection URI.
func driverFromURI(uri string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return SessionPostgres, uri
	case strings.HasPrefix(uri, "mysql://"):
		return SessionMySQL, strings.TrimPrefix(uri, "mysql://")
	case strings.HasPrefix(uri, "sqlite://"):
		return SessionSQLite, strings.TrimPrefix(uri, "sqlite://")
	default:
		return SessionSQLite, uri
	}
}

// envDuration parses either a Go duration ("3s") or plain seconds ("3").
func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
