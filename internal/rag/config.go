package rag

import (
	"os"
	"strconv"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	// DefaultTopK is the number of candidates requested per search.
	DefaultTopK = 5
	// DefaultScoreThreshold is the maximum cosine distance a result may have.
	DefaultScoreThreshold float32 = 0.7
	// DefaultSearchCacheTTL is how long search results stay cached.
	DefaultSearchCacheTTL = time.Hour
)

// Config holds retrieval defaults.
type Config struct {
	// TopK applies when a request leaves TopK at zero.
	TopK int
	// ScoreThreshold applies when a request leaves ScoreThreshold nil.
	ScoreThreshold float32
	// SearchCacheTTL is the lifetime of cached search results.
	SearchCacheTTL time.Duration
}

// withDefaults fills zero-valued fields with package defaults.
func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	if c.SearchCacheTTL <= 0 {
		c.SearchCacheTTL = DefaultSearchCacheTTL
	}
	return c
}

// ConfigFromEnv resolves retrieval defaults from the environment:
//
//	TOP_K_RETRIEVAL       (default: 5)
//	RAG_SCORE_THRESHOLD   cosine distance (default: 0.7)
//	SEARCH_CACHE_TTL      seconds (default: 3600)
func ConfigFromEnv() Config {
	cfg := Config{
		TopK:           getEnvInt("TOP_K_RETRIEVAL", DefaultTopK),
		ScoreThreshold: DefaultScoreThreshold,
		SearchCacheTTL: time.Duration(getEnvInt("SEARCH_CACHE_TTL", int(DefaultSearchCacheTTL/time.Second))) * time.Second,
	}
	if v := os.Getenv("RAG_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.ScoreThreshold = float32(f)
		}
	}
	return cfg.withDefaults()
}

// QdrantConfigFromEnv resolves Qdrant connection settings:
//
//	QDRANT_HOST     (default: localhost)
//	QDRANT_PORT     gRPC port (default: 6334)
//	QDRANT_API_KEY
//	QDRANT_TLS      "true" to enable TLS
func QdrantConfigFromEnv() *QdrantConfig {
	return &QdrantConfig{
		Host:   os.Getenv("QDRANT_HOST"),
		Port:   getEnvInt("QDRANT_PORT", 6334),
		APIKey: os.Getenv("QDRANT_API_KEY"),
		UseTLS: os.Getenv("QDRANT_TLS") == "true",
	}
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
