package memex

import "github.com/kailas-cloud/memex/internal/domain"

// Errors returned by Client methods. Match them with errors.Is.
var (
	ErrConfiguration             = domain.ErrConfiguration
	ErrTransientBackend          = domain.ErrTransientBackend
	ErrDataIntegrity             = domain.ErrDataIntegrity
	ErrMalformedInput            = domain.ErrMalformedInput
	ErrSchemaViolation           = domain.ErrSchemaViolation
	ErrNotFound                  = domain.ErrNotFound
	ErrTaskNotFound              = domain.ErrTaskNotFound
	ErrInvalidTransition         = domain.ErrInvalidTransition
	ErrRateLimited               = domain.ErrRateLimited
	ErrEmbeddingQuotaExceeded    = domain.ErrEmbeddingQuotaExceeded
	ErrCompletionNotConfigured   = domain.ErrCompletionNotConfigured
	ErrKeywordSearchNotSupported = domain.ErrKeywordSearchNotSupported
)
