package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
// Vectors are unit-normalized, so dot product equals cosine similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token usage through the
// decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// BatchFallback calls Embed once per text for providers without native batch.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

// Reranker scores (query, text) pairs with a pairwise relevance model.
type Reranker interface {
	Predict(ctx context.Context, pairs []RerankPair) ([]float64, error)
}

// RerankPair is one (query, document text) input to the reranker.
type RerankPair struct {
	Query string
	Text  string
}

// Confidence is the scoring service's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MatchResult is the scoring service's verdict on one (transaction, evidence)
// pair. Score is 0-100.
type MatchResult struct {
	Score         int
	Reason        string
	MatchedFields []string
	Confidence    Confidence
}

// MatchScorer judges whether an evidence item explains a transaction.
// Implementations must degrade malformed provider output to a zero score
// with a descriptive reason instead of failing.
type MatchScorer interface {
	Score(ctx context.Context, txn Transaction, evidence EvidenceItem) (MatchResult, error)
}

// HealthChecker verifies external provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
