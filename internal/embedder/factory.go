package embedder

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	defaultLocalBaseURL  = "http://localhost:8080/v1"
	defaultLocalModel    = "embedding-model"
	defaultHostedBaseURL = "https://api.openai.com/v1"
	defaultHostedModel   = "text-embedding-3-small"
	defaultAzureVersion  = "2025-04-01-preview"

	// DefaultDimension is the vector size of every conversation collection
	// unless EMBEDDING_DIMENSIONS says otherwise.
	DefaultDimension = 1024

	// DefaultCacheTTL is how long computed vectors stay cached.
	DefaultCacheTTL = 24 * time.Hour
)

// Config is the resolved embedding configuration.
type Config struct {
	// Provider selects the backend.
	Provider Provider
	// Model is the embedding model name.
	Model string
	// BaseURL is the backend base URL.
	BaseURL string
	// APIKey authenticates against the backend. Required for ProviderHosted.
	APIKey string
	// Dimension is the expected vector length. Vectors of any other length
	// are rejected with ErrDimensionMismatch.
	Dimension int
	// Azure switches the hosted backend to Azure OpenAI conventions.
	Azure bool
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// RPS caps backend requests per second. Zero disables throttling.
	RPS float64
	// CacheTTL is the lifetime of cached vectors.
	CacheTTL time.Duration
}

// ConfigFromEnv resolves a Config from the environment.
//
// Resolution order for each field:
//
//  1. EMBEDDING_PROVIDER: local (default) | openai | azure
//  2. EMBEDDING_MODEL: overrides the per-provider default model
//  3. EMBEDDING_BASE_URL, then EMBEDDING_ENDPOINT: overrides the base URL
//  4. EMBEDDING_API_KEY, then OPENAI_API_KEY (AZURE_OPENAI_API_KEY for azure)
//  5. EMBEDDING_DIMENSIONS, then EMBEDDING_DIMENSION (default: 1024)
//  6. EMBEDDING_RPS: client-side request rate limit (default: unlimited)
//  7. EMBEDDING_CACHE_TTL: seconds (default: 86400)
func ConfigFromEnv() (Config, error) {
	raw := getEnv("EMBEDDING_PROVIDER")
	provider, err := ParseProvider(raw)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Provider:  provider,
		Dimension: getEnvInt("EMBEDDING_DIMENSIONS", getEnvInt("EMBEDDING_DIMENSION", DefaultDimension)),
		RPS:       getEnvFloat("EMBEDDING_RPS", 0),
		CacheTTL:  time.Duration(getEnvInt("EMBEDDING_CACHE_TTL", int(DefaultCacheTTL/time.Second))) * time.Second,
	}

	baseURL := getEnv("EMBEDDING_BASE_URL")
	if baseURL == "" {
		baseURL = getEnv("EMBEDDING_ENDPOINT")
	}
	apiKey := getEnv("EMBEDDING_API_KEY")

	switch {
	case provider == ProviderLocal:
		cfg.BaseURL = orDefault(baseURL, defaultLocalBaseURL)
		cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultLocalModel)
		cfg.APIKey = apiKey

	case strings.EqualFold(strings.TrimSpace(raw), "azure"):
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if baseURL == "" {
			baseURL = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if baseURL == "" {
			return Config{}, fmt.Errorf("%w: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT", ErrConfiguration)
		}
		cfg.BaseURL = baseURL + "/openai"
		cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultHostedModel)
		cfg.APIKey = apiKey
		cfg.Azure = true
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", defaultAzureVersion)

	default:
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		cfg.BaseURL = orDefault(baseURL, defaultHostedBaseURL)
		cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultHostedModel)
		cfg.APIKey = apiKey
	}

	return cfg, nil
}

// NewBackend constructs the Backend selected by cfg. The hosted provider
// without an API key fails with ErrConfiguration before any request is made.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalEmbedder(&LocalConfig{
			BaseURL: orDefault(cfg.BaseURL, defaultLocalBaseURL),
			Model:   orDefault(cfg.Model, defaultLocalModel),
			APIKey:  cfg.APIKey,
		}), nil

	case ProviderHosted:
		b, err := NewHostedEmbedder(&HostedConfig{
			BaseURL:    orDefault(cfg.BaseURL, defaultHostedBaseURL),
			APIKey:     cfg.APIKey,
			Model:      orDefault(cfg.Model, defaultHostedModel),
			Dimensions: cfg.Dimension,
			Azure:      cfg.Azure,
			APIVersion: cfg.APIVersion,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", ErrConfiguration, cfg.Provider)
	}
}

// NewLocalOverride builds a local backend against a caller-supplied base URL,
// inheriting model and key from cfg. Used when a request carries its own
// embedding endpoint. The backend's Model is labelled with the endpoint, so
// its vectors are cached apart from those of the configured backend.
func NewLocalOverride(cfg Config, baseURL string) Backend {
	baseURL = strings.TrimRight(baseURL, "/")
	return endpointBackend{
		Backend: NewLocalEmbedder(&LocalConfig{
			BaseURL: baseURL,
			Model:   orDefault(cfg.Model, defaultLocalModel),
			APIKey:  cfg.APIKey,
		}),
		endpoint: baseURL,
	}
}

// endpointBackend reports "<model>@<endpoint>" as its model identifier.
type endpointBackend struct {
	Backend
	endpoint string
}

// Model returns the wrapped model name qualified by the endpoint.
func (b endpointBackend) Model() string {
	return b.Backend.Model() + "@" + b.endpoint
}

// orDefault returns v, or fallback when v is empty.
func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
