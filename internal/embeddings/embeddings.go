// Package embeddings provides the embedding drivers used by the retrieval
// store: OpenAI (text-embedding-3-small/large) and Ollama (nomic-embed-text
// and friends). Drivers are thin HTTP adapters; chunking and indexing live
// in the retrieval package.
package embeddings

import (
	"context"

	"github.com/dossierhq/dossier/internal/config"
	"github.com/dossierhq/dossier/internal/provider"
)

// Driver produces vector embeddings for a batch of texts.
type Driver interface {
	Kind() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ForConfig builds the configured driver. The driver set is closed, like
// the model-provider set.
func ForConfig(cfg config.EmbeddingConfig) (Driver, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, &provider.ConfigurationError{Reason: "openai embedding api key not set"}
		}
		return NewOpenAIDriver(cfg.APIKey, cfg.Model, cfg.Endpoint), nil
	case "ollama":
		return NewOllamaDriver(cfg.Endpoint, cfg.Model), nil
	default:
		return nil, &provider.ConfigurationError{Reason: "unsupported embedding provider " + cfg.Provider}
	}
}
