// Package embedder turns text into dense vectors. Two backends are supported:
// a local OpenAI-compatible embedding server and the hosted OpenAI (or Azure
// OpenAI) embeddings API. Both talk plain HTTP, so no SDK dependency is needed.
//
// Gateway wraps a backend with the Redis vector cache, request throttling and
// dimension checks; it is what the rest of the system calls.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider selects the embedding backend.
type Provider string

const (
	// ProviderLocal is a self-hosted OpenAI-compatible embedding server.
	ProviderLocal Provider = "local"
	// ProviderHosted is the OpenAI (or Azure OpenAI) embeddings API.
	ProviderHosted Provider = "hosted"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrConfiguration reports a configuration that can never work, such as
	// the hosted provider without an API key.
	ErrConfiguration = errors.New("embedder: invalid configuration")

	// ErrBackendUnavailable reports a transport failure, a non-2xx response,
	// or a response that does not carry one vector per input.
	ErrBackendUnavailable = errors.New("embedder: backend unavailable")

	// ErrDimensionMismatch reports a vector whose length differs from the
	// configured dimension. This is a misconfiguration, not a transient error.
	ErrDimensionMismatch = errors.New("embedder: dimension mismatch")
)

// Backend is the contract every embedding implementation satisfies.
// Implementations must be safe to call from multiple goroutines.
type Backend interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the model identifier. It is part of every cache key, so
	// two backends serving different models never share cached vectors.
	Model() string
}

// ParseProvider maps a configuration string to a Provider.
// "openai" and "azure" are accepted as aliases of the hosted provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return ProviderLocal, nil
	case "hosted", "openai", "azure":
		return ProviderHosted, nil
	default:
		return "", fmt.Errorf("%w: unknown embedding provider %q, use 'local' or 'openai'", ErrConfiguration, s)
	}
}
