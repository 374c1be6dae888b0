package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If the configured model matches
// any of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateConfig is a pre-flight check run before any backend is built, so
// operators get a clear error at startup rather than a failure on the first
// embed call. It returns ErrConfiguration for settings that can never work
// and logs a warning for settings that are merely suspicious.
func ValidateConfig(cfg Config, log *slog.Logger) error {
	if cfg.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrConfiguration, cfg.Dimension)
	}

	switch cfg.Provider {
	case ProviderHosted:
		if cfg.APIKey == "" {
			return fmt.Errorf("%w: hosted embeddings require OPENAI_API_KEY or EMBEDDING_API_KEY", ErrConfiguration)
		}
		if cfg.Azure && cfg.BaseURL == "" {
			return fmt.Errorf("%w: azure embeddings require AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT", ErrConfiguration)
		}
	case ProviderLocal:
		if cfg.BaseURL == "" {
			return fmt.Errorf("%w: local embeddings require EMBEDDING_BASE_URL", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrConfiguration, cfg.Provider)
	}

	if looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. text-embedding-3-small"),
		)
	}

	return nil
}
