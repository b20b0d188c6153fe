package errors

import (
	"fmt"
)

// EngineError is the structured error type for the indexing engine.
// It provides rich context for error handling, logging, and user presentation.
type EngineError struct {
	// Code is the unique error code (e.g., "ERR_204_FILE_TOO_LARGE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with EngineError.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an EngineError from an existing error.
// The error's message becomes the EngineError message.
func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// FileTooLarge creates the rejection error for oversized input files.
func FileTooLarge(path string, size, limit int64) *EngineError {
	return New(ErrCodeFileTooLarge,
		fmt.Sprintf("file exceeds size limit: %d > %d bytes", size, limit), nil).
		WithDetail("path", path)
}

// NotTextContent creates the rejection error for binary or undecodable input.
func NotTextContent(path string) *EngineError {
	return New(ErrCodeNotText, "content is not decodable text", nil).
		WithDetail("path", path)
}

// EmbeddingUnavailable creates the terminal error after retries are exhausted.
func EmbeddingUnavailable(cause error) *EngineError {
	return New(ErrCodeEmbeddingUnavailable, "embedding backend unavailable", cause).
		WithSuggestion("check that the embedding backend is running and reachable")
}

// PathTraversal creates the fail-closed error for paths escaping a repository root.
func PathTraversal(path string) *EngineError {
	return New(ErrCodePathTraversal, "path resolves outside repository root", nil).
		WithDetail("path", path)
}

// NoRepositorySelected creates the caller input error for an empty repo set.
func NoRepositorySelected() *EngineError {
	return New(ErrCodeNoRepositorySelected, "no repository selected for search", nil).
		WithSuggestion("provide at least one repository id")
}

// NoMatchingRepositories creates the caller input error when every referenced
// repository is unknown.
func NoMatchingRepositories(ids []string) *EngineError {
	return New(ErrCodeNoMatchingRepositories,
		fmt.Sprintf("none of the %d referenced repositories exist", len(ids)), nil).
		WithSuggestion("ingest the repository first or check the repository ids")
}

// IndexInconsistency creates the fatal error for vector/metadata divergence.
func IndexInconsistency(repoID, detail string) *EngineError {
	return New(ErrCodeCorruptIndex,
		fmt.Sprintf("vector/metadata mismatch for repository %q: %s", repoID, detail), nil).
		WithDetail("repo_id", repoID).
		WithSuggestion("re-ingest the repository to rebuild its index")
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an EngineError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an EngineError.
// Returns empty string if not an EngineError.
func GetCode(err error) string {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ""
}

// HasCode reports whether err (or any error in its chain) carries the code.
func HasCode(err error, code string) bool {
	for err != nil {
		if ee, ok := err.(*EngineError); ok && ee.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
