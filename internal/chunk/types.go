// Package chunk splits source files into addressable, size-bounded units.
//
// Chunking is syntax-aware when a tree-sitter grammar is registered for the
// file's language and falls back to fixed-size line windows otherwise. The
// fallback path never fails; it is the safety net for parse errors.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Chunk size defaults.
const (
	DefaultMaxChunkTokens = 300 // Token budget per chunk
	DefaultOverlapTokens  = 50  // Overlap between consecutive chunks
	MinChunkTokens        = 50  // Units below this are merged with neighbors
	TokensPerChar         = 4   // Rough approximation: 4 chars = 1 token

	// avgLineChars is the assumed average line width when converting a
	// token budget into a line window for line-based chunking.
	avgLineChars = 80

	// truncationMarker is mixed into the content hash of truncated chunks
	// so identical truncations re-ingest as unchanged.
	truncationMarker = "\x00truncated"
)

// StrategyKind discriminates the chunking strategy variant.
type StrategyKind int

const (
	// StrategyLineBased is the deterministic fixed-window fallback.
	StrategyLineBased StrategyKind = iota
	// StrategySyntactic chunks along syntactic boundaries.
	StrategySyntactic
)

// Strategy is the tagged variant selecting how a file was chunked.
// Language is set only for StrategySyntactic.
type Strategy struct {
	Kind     StrategyKind
	Language string
}

func (s Strategy) String() string {
	if s.Kind == StrategySyntactic {
		return "syntactic(" + s.Language + ")"
	}
	return "line-based"
}

// Chunk is a bounded, addressable unit of source text.
type Chunk struct {
	ID            string   // SHA256(path : content hash)[:16], stable across line shifts
	FilePath      string   // Relative to repository root
	Seq           int      // Sequential index within the file
	StartLine     int      // 1-indexed
	EndLine       int      // Inclusive
	Text          string   // Chunk text
	TokenEstimate int      // Approximate token count
	ContentHash   string   // Hash of Text (plus truncation marker when Truncated)
	Language      string   // go, python, typescript, ...
	Strategy      Strategy // How this chunk was produced
	Truncated     bool     // Text was cut at the token budget
}

// FileInput is the chunker input: one file's path, raw content, and an
// optional language hint. When the hint is empty the language is inferred
// from the path's extension.
type FileInput struct {
	Path     string
	Content  []byte
	Language string
}

// Options configures chunker behavior.
type Options struct {
	MaxChunkTokens   int   // Token budget per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens    int   // Overlap when splitting (default: DefaultOverlapTokens)
	MaxFileSizeBytes int64 // Files above this are rejected (default: 1 MiB)
	WindowLines      int   // Line-fallback window; 0 derives from MaxChunkTokens
	OverlapLines     int   // Line-fallback overlap; 0 derives from OverlapTokens
}

// estimateTokens estimates the number of tokens in content.
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

// hashContent computes the content hash for chunk text. Truncated chunks
// mix in a marker so a future identical truncation hashes identically while
// differing from the untruncated text's hash.
func hashContent(text string, truncated bool) string {
	h := sha256.New()
	h.Write([]byte(text))
	if truncated {
		h.Write([]byte(truncationMarker))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// chunkID derives a content-addressable chunk ID from file path and content
// hash. Same content in the same file yields the same ID regardless of line
// shifts; the same content in different files yields different IDs.
func chunkID(filePath, contentHash string) string {
	input := fmt.Sprintf("%s:%s", filePath, contentHash)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// truncateAtRuneBoundary cuts s to at most maxBytes without splitting a
// multi-byte character.
func truncateAtRuneBoundary(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// IsLikelyText reports whether data looks like decodable text. It samples
// the prefix for null bytes and requires the content to be valid UTF-8.
func IsLikelyText(data []byte) bool {
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	// Validate the whole content, tolerating a rune cut at the sample edge.
	return utf8.Valid(data)
}

// languageByExtension maps file extensions to language tags.
var languageByExtension = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".jsx":   "jsx",
	".ts":    "typescript",
	".tsx":   "tsx",
	".go":    "go",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".rs":    "rust",
	".php":   "php",
	".cs":    "csharp",
	".c":     "c",
	".h":     "c",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cpp":   "cpp",
	".swift": "swift",
	".sh":    "bash",
	".bash":  "bash",
	".zsh":   "zsh",
	".json":  "json",
	".yml":   "yaml",
	".yaml":  "yaml",
	".toml":  "toml",
	".ini":   "ini",
	".cfg":   "ini",
	".md":    "markdown",
	".rst":   "rst",
	".txt":   "text",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".sql":   "sql",
}

// DetectLanguage infers the language tag from a file path's extension.
// Returns empty string for unknown extensions.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return languageByExtension[ext]
}
