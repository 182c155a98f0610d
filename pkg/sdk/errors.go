package ledgerlens

import "github.com/ledgerlens/ledgerlens/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrBatchNotFound          = domain.ErrBatchNotFound
	ErrEmptyBatch             = domain.ErrEmptyBatch
	ErrInvalidTransaction     = domain.ErrInvalidTransaction
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrScoringProviderError   = domain.ErrScoringProviderError
	ErrExtractionFailed       = domain.ErrExtractionFailed
)
