// Package config provides YAML-based configuration for convrag.
// Configuration is loaded with a layered precedence: defaults, then the YAML
// file, then env vars. Environment variables always win.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. CONVRAG_CONFIG environment variable
//  3. ~/.convrag/config.yaml
//  4. ./convrag.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval configures search defaults.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Chunking configures the text splitter.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Cache configures the Redis cache.
	Cache CacheConfig `yaml:"cache"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the ops HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Manifest configures the indexed-file manifest.
	Manifest ManifestConfig `yaml:"manifest"`

	// Model configures the chat model used by `convrag ask`.
	Model ModelConfig `yaml:"model"`

	// Langfuse configures optional agent tracing.
	Langfuse LangfuseConfig `yaml:"langfuse"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: local, hosted (alias openai), azure.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// BaseURL overrides the provider's API base URL.
	BaseURL string `yaml:"base_url"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// RPS is the client-side request rate limit (0 = unlimited).
	RPS float32 `yaml:"rps"`
	// CacheTTL is the embedding cache lifetime in seconds.
	CacheTTL int `yaml:"cache_ttl"`
	// Azure holds Azure OpenAI settings used when Provider is azure.
	Azure AzureConfig `yaml:"azure"`
}

// AzureConfig holds Azure OpenAI embedding settings.
type AzureConfig struct {
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	// TopK is the default number of results.
	TopK int `yaml:"top_k"`
	// ScoreThreshold is the default maximum cosine distance. A pointer so an
	// explicit 0 is honoured.
	ScoreThreshold *float32 `yaml:"score_threshold"`
	// SearchCacheTTL is the search cache lifetime in seconds.
	SearchCacheTTL int `yaml:"search_cache_ttl"`
}

// ChunkingConfig holds text splitter settings.
type ChunkingConfig struct {
	// Size is the maximum chunk length in characters.
	Size int `yaml:"size"`
	// Overlap is the overlap between consecutive chunks.
	Overlap *int `yaml:"overlap"`
}

// CacheConfig holds Redis cache settings.
type CacheConfig struct {
	// Enabled turns caching on or off. Nil keeps the default (on).
	Enabled *bool `yaml:"enabled"`
	// Host is the Redis hostname.
	Host string `yaml:"host"`
	// Port is the Redis port.
	Port int `yaml:"port"`
	// Password is the Redis AUTH password. Prefer env var REDIS_PASSWORD.
	Password string `yaml:"password"`
	// DB is the Redis logical database.
	DB *int `yaml:"db"`
	// TTL is the default entry lifetime in seconds.
	TTL int `yaml:"ttl"`
	// KeyPrefix is the first segment of every cache key.
	KeyPrefix string `yaml:"key_prefix"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds ops HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for /api/stats. Prefer env var CONVRAG_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// ManifestConfig holds file manifest settings.
type ManifestConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// ModelConfig holds chat model settings. Credentials are shared with the
// embedding block where the providers overlap (OpenAI, Azure).
type ModelConfig struct {
	// Provider is the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// Model is the model name for the selected provider. Azure uses
	// Deployment instead.
	Model string `yaml:"model"`
	// BaseURL is the Ollama host, or an OpenAI-compatible or Ark endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKey is the credential for openai, ark or gemini.
	APIKey string `yaml:"api_key"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// MaxTokens caps generated tokens per response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls randomness; nil keeps the provider default.
	Temperature *float32 `yaml:"temperature"`
}

// LangfuseConfig holds Langfuse tracing settings.
type LangfuseConfig struct {
	Host      string `yaml:"host"`
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
}

// modelField returns field only when the YAML provider selects one of
// providers, so a single model block fans out to the right env var.
func modelField(c *Config, field string, providers ...string) string {
	for _, p := range providers {
		if strings.EqualFold(c.Model.Provider, p) {
			return field
		}
	}
	return ""
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_BASE_URL", func(c *Config) string { return c.Embedding.BaseURL }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_RPS", func(c *Config) string { return float32Str(c.Embedding.RPS) }},
	{"EMBEDDING_CACHE_TTL", func(c *Config) string { return intStr(c.Embedding.CacheTTL) }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Embedding.Azure.Endpoint }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Embedding.Azure.APIKey }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Embedding.Azure.APIVersion }},
	{"TOP_K_RETRIEVAL", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RAG_SCORE_THRESHOLD", func(c *Config) string { return float32PtrStr(c.Retrieval.ScoreThreshold) }},
	{"SEARCH_CACHE_TTL", func(c *Config) string { return intStr(c.Retrieval.SearchCacheTTL) }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Chunking.Size) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intPtrStr(c.Chunking.Overlap) }},
	{"ENABLE_CACHE", func(c *Config) string { return boolPtrStr(c.Cache.Enabled) }},
	{"REDIS_HOST", func(c *Config) string { return c.Cache.Host }},
	{"REDIS_PORT", func(c *Config) string { return intStr(c.Cache.Port) }},
	{"REDIS_PASSWORD", func(c *Config) string { return c.Cache.Password }},
	{"REDIS_DB", func(c *Config) string { return intPtrStr(c.Cache.DB) }},
	{"REDIS_TTL", func(c *Config) string { return intStr(c.Cache.TTL) }},
	{"CACHE_KEY_PREFIX", func(c *Config) string { return c.Cache.KeyPrefix }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"CONVRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"CONVRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"CONVRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"CONVRAG_MANIFEST_DB", func(c *Config) string { return c.Manifest.DBPath }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"OLLAMA_HOST", func(c *Config) string { return modelField(c, c.Model.BaseURL, "ollama") }},
	{"OLLAMA_MODEL", func(c *Config) string { return modelField(c, c.Model.Model, "ollama") }},
	{"OPENAI_MODEL", func(c *Config) string { return modelField(c, c.Model.Model, "openai") }},
	{"OPENAI_BASE_URL", func(c *Config) string { return modelField(c, c.Model.BaseURL, "openai") }},
	{"OPENAI_API_KEY", func(c *Config) string { return modelField(c, c.Model.APIKey, "openai") }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return modelField(c, c.Model.Deployment, "azure") }},
	{"ARK_MODEL", func(c *Config) string { return modelField(c, c.Model.Model, "ark") }},
	{"ARK_BASE_URL", func(c *Config) string { return modelField(c, c.Model.BaseURL, "ark") }},
	{"ARK_API_KEY", func(c *Config) string { return modelField(c, c.Model.APIKey, "ark") }},
	{"GEMINI_MODEL", func(c *Config) string { return modelField(c, c.Model.Model, "gemini") }},
	{"GOOGLE_API_KEY", func(c *Config) string { return modelField(c, c.Model.APIKey, "gemini") }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32PtrStr(c.Model.Temperature) }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Langfuse.Host }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Langfuse.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Langfuse.SecretKey }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CONVRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".convrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("convrag.yaml"); err == nil {
		return "convrag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// intPtrStr converts an optional int to string, returning "" when unset.
func intPtrStr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return formatFloat(v)
}

// float32PtrStr converts an optional float32 to string, returning "" when unset.
func float32PtrStr(v *float32) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatFloat(v float32) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// boolPtrStr converts an optional bool to string, returning "" when unset.
func boolPtrStr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
