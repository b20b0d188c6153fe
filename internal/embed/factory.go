package embed

import (
	"context"
	"strings"
	"time"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

// ProviderType identifies an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses deterministic hash embeddings, no network.
	ProviderStatic ProviderType = "static"
)

// FactoryOptions selects and configures the embedding provider.
type FactoryOptions struct {
	Provider   string
	Model      string
	Host       string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int // 0 uses DefaultCacheSize; negative disables caching
}

// NewEmbedder builds the configured provider wrapped in an LRU cache.
// Unknown providers are rejected rather than silently substituted so an
// index is never populated with vectors from the wrong model.
func NewEmbedder(ctx context.Context, opts FactoryOptions) (Embedder, error) {
	var embedder Embedder

	switch ParseProvider(opts.Provider) {
	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderOllama:
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       opts.Host,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,
		})
		if err != nil {
			return nil, err
		}
		embedder = e

	default:
		return nil, engerr.New(engerr.ErrCodeConfigInvalid, "unknown embedding provider", nil).
			WithDetail("provider", opts.Provider).
			WithSuggestion("valid providers: ollama, static")
	}

	if opts.CacheSize >= 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}

// ParseProvider normalizes a provider name. Empty defaults to static so the
// engine works out of the box with no external services.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "static", "":
		return ProviderStatic
	default:
		return ProviderType(strings.ToLower(s))
	}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	switch ParseProvider(s) {
	case ProviderOllama, ProviderStatic:
		return true
	}
	return false
}
