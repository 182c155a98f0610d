package ledgerlens

import (
	"context"

	"go.uber.org/zap"
)

// Embedder vectorizes text. Implement it to plug in a custom embedding
// provider; vectors of one embedder must all share the same dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	storageRoot string
	batchSize   int

	apiKey  string
	baseURL string

	embeddingModel string
	dimensions     int
	scoringModel   string
	rerankModel    string

	embedder Embedder

	topKPerBatch       int
	globalTopK         int
	llmThreshold       int
	retrievalThreshold float64
	dateWindowDays     int
	minMatchScore      float64
	maxLLMItems        int
	workers            int

	chunkSize    int
	chunkOverlap int

	logger *zap.Logger
}

// WithStorageRoot sets the batch index directory. Default: "storage".
func WithStorageRoot(root string) Option {
	return optionFunc(func(c *clientConfig) {
		c.storageRoot = root
	})
}

// WithBatchSize sets how many evidence items share one batch index.
// Default: 200.
func WithBatchSize(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.batchSize = n
	})
}

// WithOpenAI configures the OpenAI-compatible provider used for embedding
// and match scoring. baseURL may be empty for api.openai.com.
func WithOpenAI(apiKey, baseURL string) Option {
	return optionFunc(func(c *clientConfig) {
		c.apiKey = apiKey
		c.baseURL = baseURL
	})
}

// WithEmbeddingModel sets the embedding model and vector dimension.
// Defaults: "text-embedding-3-small", provider-native dimension.
func WithEmbeddingModel(model string, dimensions int) Option {
	return optionFunc(func(c *clientConfig) {
		c.embeddingModel = model
		c.dimensions = dimensions
	})
}

// WithScoringModel sets the chat model used for match scoring.
// Default: "gpt-4o-mini".
func WithScoringModel(model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.scoringModel = model
	})
}

// WithRerankModel enables the cross-encoder rerank pass on retrieval.
// Disabled by default.
func WithRerankModel(model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.rerankModel = model
	})
}

// WithEmbedder sets a custom embedding provider, replacing OpenAI for
// vectorization. Scoring still needs WithOpenAI unless reconciliation
// runs retrieval-only.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithTopK sets the per-batch candidate pool and the global result count.
// Defaults: 20 per batch, 3 global.
func WithTopK(perBatch, global int) Option {
	return optionFunc(func(c *clientConfig) {
		c.topKPerBatch = perBatch
		c.globalTopK = global
	})
}

// WithThresholds sets the classification cutoffs: llm on the 0-100 model
// score, retrieval on the fused score. Defaults: 60 and 0.5.
func WithThresholds(llm int, retrieval float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.llmThreshold = llm
		c.retrievalThreshold = retrieval
	})
}

// WithRuleFilter tunes the rule filter: the date window around the
// transaction date and the minimum score evidence needs to reach the
// model. Defaults: 3 days, 2.0.
func WithRuleFilter(dateWindowDays int, minMatchScore float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.dateWindowDays = dateWindowDays
		c.minMatchScore = minMatchScore
	})
}

// WithWorkers bounds concurrent transactions and model calls. Default: 4.
func WithWorkers(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.workers = n
	})
}

// WithChunking sets the fragment chunk size and overlap in characters.
// Defaults: 1000 and 200.
func WithChunking(size, overlap int) Option {
	return optionFunc(func(c *clientConfig) {
		c.chunkSize = size
		c.chunkOverlap = overlap
	})
}

// WithLogger enables structured logging for pipeline operations.
// Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}
