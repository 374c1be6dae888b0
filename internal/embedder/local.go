package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// LocalEmbedder calls a self-hosted OpenAI-compatible embedding server at
// POST {base}/embeddings. It is safe for concurrent use. The bearer key is
// optional; most local servers run without authentication.
type LocalEmbedder struct {
	// baseURL is the server base including the API version (e.g. "http://localhost:8080/v1").
	baseURL string
	// model is the model name sent with every request.
	model string
	// apiKey is sent as a Bearer token when non-empty.
	apiKey string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// LocalConfig holds the settings for constructing a LocalEmbedder.
type LocalConfig struct {
	// BaseURL is the server base URL. A trailing slash is tolerated.
	BaseURL string
	// Model is the embedding model name.
	Model string
	// APIKey is the optional Bearer token.
	APIKey string
}

// NewLocalEmbedder constructs a LocalEmbedder from the given config.
func NewLocalEmbedder(cfg *LocalConfig) *LocalEmbedder {
	return &LocalEmbedder{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Model returns the configured model name.
func (e *LocalEmbedder) Model() string { return e.model }

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("local embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("local embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: local embedder: request failed: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	return decodeEmbeddings(resp, len(texts), "local embedder")
}
