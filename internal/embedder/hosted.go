package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HostedEmbedder calls the OpenAI (or Azure OpenAI) embeddings REST API.
// It is safe for concurrent use.
type HostedEmbedder struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1" or an Azure endpoint).
	baseURL string
	// apiKey is the Bearer token (OpenAI) or api-key header value (Azure).
	apiKey string
	// model is the embedding model name (e.g. "text-embedding-3-small").
	model string
	// dimensions is the requested vector length (0 = model default).
	dimensions int
	// azure selects Azure-style auth (api-key header) over Bearer token.
	azure bool
	// apiVersion is the Azure OpenAI API version query param (ignored for OpenAI).
	apiVersion string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// HostedConfig holds the settings for constructing a HostedEmbedder.
type HostedConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key. Required.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the requested vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version. Ignored when Azure is false.
	APIVersion string
}

// NewHostedEmbedder constructs a HostedEmbedder from the given config.
// An empty API key is rejected with ErrConfiguration.
func NewHostedEmbedder(cfg *HostedConfig) (*HostedEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: hosted embeddings require OPENAI_API_KEY or EMBEDDING_API_KEY", ErrConfiguration)
	}
	return &HostedEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Model returns the configured model name.
func (e *HostedEmbedder) Model() string { return e.model }

// embedRequest is the JSON body sent to an OpenAI-compatible embeddings endpoint.
type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// embedResponse is the JSON body returned from an OpenAI-compatible embeddings endpoint.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *HostedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("hosted embedder: marshal request: %w", err)
	}

	url := e.baseURL + "/embeddings"
	if e.azure {
		url = e.baseURL + "/deployments/" + e.model + "/embeddings?api-version=" + e.apiVersion
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("hosted embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.azure {
		req.Header.Set("api-key", e.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: hosted embedder: request failed: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	return decodeEmbeddings(resp, len(texts), "hosted embedder")
}

// maxErrorBody caps how much of a failed response body is read into an error.
const maxErrorBody = 4 << 10

// decodeEmbeddings parses an OpenAI-shaped embeddings response and returns
// vectors ordered by their index field. Every failure wraps ErrBackendUnavailable.
func decodeEmbeddings(resp *http.Response, want int, label string) ([][]float32, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var result embedResponse
		if json.Unmarshal(body, &result) == nil && result.Error != nil && result.Error.Message != "" {
			msg += ": " + result.Error.Message
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrBackendUnavailable, label, msg)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", ErrBackendUnavailable, label, err)
	}

	if len(result.Data) != want {
		return nil, fmt.Errorf("%w: %s: expected %d embeddings, got %d", ErrBackendUnavailable, label, want, len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, want)
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= want || embeddings[d.Index] != nil {
			return nil, fmt.Errorf("%w: %s: index %d out of range or repeated", ErrBackendUnavailable, label, d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}
