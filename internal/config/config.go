// Package config loads and validates engine configuration.
//
// Resolution order (later wins):
//  1. Built-in defaults
//  2. Config file (~/.codeqa.yaml or an explicit path)
//  3. Environment variables (CODEQA_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

// Config represents the complete engine configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Storage     StorageConfig     `yaml:"storage"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Snippets    SnippetsConfig    `yaml:"snippets"`
	Performance PerformanceConfig `yaml:"performance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig configures where indexes and repository content live.
type StorageConfig struct {
	// DataDir holds per-repository vector partitions and the metadata db.
	DataDir string `yaml:"data_dir"`
	// ReposDir is the base directory where repository working trees are stored.
	// Snippet extraction resolves match paths under <repos_dir>/<repo_id>.
	ReposDir string `yaml:"repos_dir"`
}

// ChunkingConfig configures the chunker.
type ChunkingConfig struct {
	// MaxChunkTokens is the token budget per chunk.
	MaxChunkTokens int `yaml:"max_chunk_tokens"`
	// OverlapTokens is the overlap between consecutive chunks when splitting.
	OverlapTokens int `yaml:"overlap_tokens"`
	// MaxFileSizeBytes rejects larger files with FileTooLarge.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
	// WindowLines overrides the line-fallback window size. 0 derives it
	// from MaxChunkTokens.
	WindowLines int `yaml:"window_lines"`
	// OverlapLines overrides the line-fallback overlap. 0 derives it from
	// OverlapTokens.
	OverlapLines int `yaml:"overlap_lines"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	// Provider selects the backend: "ollama" or "static".
	Provider string `yaml:"provider"`
	// Model is the embedding model name for the ollama provider.
	Model string `yaml:"model"`
	// Dimensions is the vector dimensionality. Set once per deployment;
	// the metadata store pins it and rejects mismatched embedders.
	Dimensions int `yaml:"dimensions"`
	// BatchSize is texts per embedding request.
	BatchSize int `yaml:"batch_size"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// CacheSize is the LRU embedding cache capacity (entries).
	CacheSize int `yaml:"cache_size"`
	// MaxRetries bounds retry attempts on transient embedding failures.
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// RetrievalConfig configures the query path.
type RetrievalConfig struct {
	// DefaultK is the result count when the caller does not specify k.
	DefaultK int `yaml:"default_k"`
	// MaxK clamps caller-supplied k.
	MaxK int `yaml:"max_k"`
	// QueryTimeout bounds a whole query including snippet extraction.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// SnippetsConfig configures snippet extraction.
type SnippetsConfig struct {
	// ContextLines is the number of lines of context before/after a match.
	ContextLines int `yaml:"context_lines"`
	// MaxChars caps extracted snippet text.
	MaxChars int `yaml:"max_chars"`
	// PreviewLines is the number of non-blank lines in citation previews.
	PreviewLines int `yaml:"preview_lines"`
}

// PerformanceConfig configures concurrency limits.
type PerformanceConfig struct {
	// IngestWorkers bounds per-batch file processing parallelism.
	IngestWorkers int `yaml:"ingest_workers"`
	// EmbedConcurrency bounds concurrent embedding batches.
	EmbedConcurrency int `yaml:"embed_concurrency"`
	// FileTimeout bounds chunk+embed+upsert for a single file.
	FileTimeout time.Duration `yaml:"file_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".codeqa")

	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir:  filepath.Join(base, "indexes"),
			ReposDir: filepath.Join(base, "repos"),
		},
		Chunking: ChunkingConfig{
			MaxChunkTokens:   300,
			OverlapTokens:    50,
			MaxFileSizeBytes: 1 << 20, // 1 MiB
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "static",
			Model:          "nomic-embed-text",
			Dimensions:     0, // backend decides
			BatchSize:      64,
			OllamaHost:     "http://localhost:11434",
			CacheSize:      1000,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		Retrieval: RetrievalConfig{
			DefaultK:     5,
			MaxK:         20,
			QueryTimeout: 5 * time.Second,
		},
		Snippets: SnippetsConfig{
			ContextLines: 6,
			MaxChars:     1200,
			PreviewLines: 6,
		},
		Performance: PerformanceConfig{
			IngestWorkers:    runtime.NumCPU(),
			EmbedConcurrency: 4,
			FileTimeout:      30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".codeqa.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, engerr.Wrap(engerr.ErrCodeConfigNotFound, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, engerr.New(engerr.ErrCodeConfigInvalid,
					fmt.Sprintf("parse %s: %v", path, err), err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as yaml.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return engerr.Wrap(engerr.ErrCodeConfigInvalid, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.MaxChunkTokens <= 0 {
		return engerr.New(engerr.ErrCodeConfigInvalid, "chunking.max_chunk_tokens must be positive", nil)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxChunkTokens {
		return engerr.New(engerr.ErrCodeConfigInvalid,
			"chunking.overlap_tokens must be in [0, max_chunk_tokens)", nil)
	}
	if c.Chunking.MaxFileSizeBytes <= 0 {
		return engerr.New(engerr.ErrCodeConfigInvalid, "chunking.max_file_size_bytes must be positive", nil)
	}
	if c.Retrieval.MaxK <= 0 || c.Retrieval.DefaultK <= 0 {
		return engerr.New(engerr.ErrCodeConfigInvalid, "retrieval.max_k and default_k must be positive", nil)
	}
	if c.Retrieval.DefaultK > c.Retrieval.MaxK {
		return engerr.New(engerr.ErrCodeConfigInvalid, "retrieval.default_k exceeds max_k", nil)
	}
	if c.Snippets.ContextLines < 0 || c.Snippets.MaxChars <= 0 {
		return engerr.New(engerr.ErrCodeConfigInvalid, "invalid snippets configuration", nil)
	}
	if c.Performance.IngestWorkers <= 0 {
		c.Performance.IngestWorkers = 1
	}
	if c.Performance.EmbedConcurrency <= 0 {
		c.Performance.EmbedConcurrency = 1
	}
	switch c.Embeddings.Provider {
	case "ollama", "static", "":
	default:
		return engerr.New(engerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embeddings provider %q", c.Embeddings.Provider), nil)
	}
	return nil
}

// applyEnvOverrides applies CODEQA_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CODEQA_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CODEQA_REPOS_DIR"); v != "" {
		cfg.Storage.ReposDir = v
	}
	if v := os.Getenv("CODEQA_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("CODEQA_EMBED_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("CODEQA_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("CODEQA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CODEQA_MAX_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retrieval.MaxK = n
		}
	}
}
