package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

// StaticDimensions is the embedding dimension of the static embedder.
const StaticDimensions = 256

// Feature weights for the hash-based vector.
const (
	identifierWeight = 0.7
	trigramWeight    = 0.3
	trigramSize      = 3
)

// keywordStopList filters out language keywords that carry no retrieval
// signal in code.
var keywordStopList = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

var identifierRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder produces deterministic hash-based embeddings. It works
// offline with no model, trading semantic quality for availability: it is
// the fallback when no embedding server is reachable.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates a normalized hash embedding for text. Empty input maps to
// the zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, engerr.New(engerr.ErrCodeInternal, "static embedder is closed", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	vector := make([]float32, StaticDimensions)

	for _, token := range codeTokens(trimmed) {
		vector[hashToIndex(token, StaticDimensions)] += identifierWeight
	}

	flat := alphanumeric(trimmed)
	for i := 0; i+trigramSize <= len(flat); i++ {
		vector[hashToIndex(flat[i:i+trigramSize], StaticDimensions)] += trigramWeight
	}

	return normalizeVector(vector), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int   { return StaticDimensions }
func (e *StaticEmbedder) ModelName() string { return "static" }

func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// codeTokens tokenizes text into lowercase identifier fragments, splitting
// camelCase and snake_case and dropping keyword noise.
func codeTokens(text string) []string {
	var tokens []string
	for _, word := range identifierRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, sub := range splitCamelCase(part) {
				lower := strings.ToLower(sub)
				if lower != "" && !keywordStopList[lower] {
					tokens = append(tokens, lower)
				}
			}
		}
	}
	return tokens
}

// splitCamelCase splits an identifier at case transitions, keeping acronym
// runs together (parseURLPath yields parse, URL, Path).
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// alphanumeric lowercases text and strips everything but letters and digits.
func alphanumeric(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashToIndex maps a string to a vector index via FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
