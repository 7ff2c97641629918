package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error that leaves a component wraps exactly one of them
// (or none, which classifies as internal).
var (
	// ErrConfiguration signals an unresolvable backend, missing credentials or a
	// dimension mismatch. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransientBackend signals a timeout, rate limit or temporary unavailability
	// that outlived the retry budget of the responsible component.
	ErrTransientBackend = errors.New("transient backend error")
	// ErrDataIntegrity signals a missing referenced document or segment.
	ErrDataIntegrity = errors.New("data integrity error")
	// ErrMalformedInput signals invalid caller input or schema-violating generation output.
	ErrMalformedInput = errors.New("malformed input")
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrTaskNotFound signals a missing task.
	ErrTaskNotFound = fmt.Errorf("task %w", ErrNotFound)
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = fmt.Errorf("document %w", ErrNotFound)
	// ErrInvalidTransition signals a rejected task state change.
	ErrInvalidTransition = errors.New("invalid task state transition")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingQuotaExceeded signals an exhausted token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrCompletionProviderError signals a completion provider failure.
	ErrCompletionProviderError = errors.New("completion provider error")
	// ErrCompletionNotConfigured signals that no completion backend was configured.
	ErrCompletionNotConfigured = errors.New("completion backend not configured")
	// ErrKeywordSearchNotSupported signals that the backend lacks keyword search.
	ErrKeywordSearchNotSupported = errors.New("keyword search not supported by backend")
	// ErrSchemaViolation signals generation output that does not satisfy the
	// caller's JSON schema. Always wrapped together with ErrMalformedInput.
	ErrSchemaViolation = errors.New("output does not match schema")
)

// ErrorKind is the serialized class of an error, stored on failed tasks and
// returned to HTTP callers.
type ErrorKind string

// Error kinds.
const (
	KindConfiguration    ErrorKind = "configuration"
	KindTransientBackend ErrorKind = "transient_backend"
	KindDataIntegrity    ErrorKind = "data_integrity"
	KindMalformedInput   ErrorKind = "malformed_input"
	KindNotFound         ErrorKind = "not_found"
	KindQuotaExceeded    ErrorKind = "quota_exceeded"
	KindInternal         ErrorKind = "internal"
)

// KindOf classifies err by the first matching class in its chain.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrCompletionNotConfigured):
		return KindConfiguration
	case errors.Is(err, ErrTransientBackend), errors.Is(err, ErrRateLimited):
		return KindTransientBackend
	case errors.Is(err, ErrDataIntegrity):
		return KindDataIntegrity
	case errors.Is(err, ErrMalformedInput), errors.Is(err, ErrVectorDimMismatch):
		return KindMalformedInput
	case errors.Is(err, ErrEmbeddingQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Malformed wraps a formatted message with ErrMalformedInput.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrMalformedInput)
}

// Misconfigured wraps a formatted message with ErrConfiguration.
func Misconfigured(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConfiguration)
}
