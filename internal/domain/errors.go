package domain

import "errors"

var (
	// ErrBatchNotFound signals a missing batch directory.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrEmptyBatch signals a batch with zero fragments.
	ErrEmptyBatch = errors.New("batch is empty")
	// ErrInvalidTransaction signals a transaction record that cannot be normalized.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrScoringProviderError signals a match-scoring provider failure.
	ErrScoringProviderError = errors.New("scoring provider error")
	// ErrExtractionFailed signals that an evidence item yielded no fragments.
	ErrExtractionFailed = errors.New("extraction failed")
)
