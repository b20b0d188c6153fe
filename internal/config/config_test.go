package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 300, cfg.Chunking.MaxChunkTokens)
	assert.Equal(t, 50, cfg.Chunking.OverlapTokens)
	assert.Equal(t, int64(1<<20), cfg.Chunking.MaxFileSizeBytes)
	assert.Equal(t, 6, cfg.Snippets.ContextLines)
	assert.Equal(t, 1200, cfg.Snippets.MaxChars)
	assert.Equal(t, 5, cfg.Retrieval.DefaultK)
	assert.Equal(t, 5*time.Second, cfg.Retrieval.QueryTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Chunking.MaxChunkTokens)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codeqa.yaml")
	content := `
chunking:
  max_chunk_tokens: 512
  overlap_tokens: 64
snippets:
  context_lines: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Chunking.MaxChunkTokens)
	assert.Equal(t, 64, cfg.Chunking.OverlapTokens)
	assert.Equal(t, 3, cfg.Snippets.ContextLines)
	// Untouched sections keep defaults
	assert.Equal(t, 1200, cfg.Snippets.MaxChars)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunking: [not a map"), 0o644))

	_, err := Load(path)

	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodeConfigInvalid, engerr.GetCode(err))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CODEQA_DATA_DIR", "/tmp/elsewhere")
	t.Setenv("CODEQA_MAX_K", "50")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere", cfg.Storage.DataDir)
	assert.Equal(t, 50, cfg.Retrieval.MaxK)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk tokens", func(c *Config) { c.Chunking.MaxChunkTokens = 0 }},
		{"overlap >= budget", func(c *Config) { c.Chunking.OverlapTokens = c.Chunking.MaxChunkTokens }},
		{"negative file size", func(c *Config) { c.Chunking.MaxFileSizeBytes = -1 }},
		{"default k over max", func(c *Config) { c.Retrieval.DefaultK = c.Retrieval.MaxK + 1 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "clippy" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := NewConfig()
	cfg.Chunking.MaxChunkTokens = 256
	cfg.Chunking.OverlapTokens = 32

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, loaded.Chunking.MaxChunkTokens)
	assert.Equal(t, 32, loaded.Chunking.OverlapTokens)
}
