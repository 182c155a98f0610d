package ledgerlens

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/extract"
	"github.com/ledgerlens/ledgerlens/internal/importer"
	"github.com/ledgerlens/ledgerlens/internal/metrics"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
	openaiProvider "github.com/ledgerlens/ledgerlens/internal/transport/openai"
	indexeruc "github.com/ledgerlens/ledgerlens/internal/usecase/indexer"
	llmscoreuc "github.com/ledgerlens/ledgerlens/internal/usecase/llmscore"
	reconcileuc "github.com/ledgerlens/ledgerlens/internal/usecase/reconcile"
	retrievaluc "github.com/ledgerlens/ledgerlens/internal/usecase/retrieval"
	rulefilteruc "github.com/ledgerlens/ledgerlens/internal/usecase/rulefilter"
)

// Client is the ledgerlens SDK entry point. It owns the full pipeline:
// extraction, indexing, retrieval, rule filtering and classification.
type Client struct {
	indexer   *indexeruc.Service
	retrieval *retrievaluc.Service
	reconcile *reconcileuc.Service
	parser    *importer.CSVParser
	topK      int
}

// New creates a ledgerlens Client rooted at the configured storage
// directory. An embedding provider is required: either WithOpenAI or
// WithEmbedder. Match scoring (the rules path) needs WithOpenAI.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		storageRoot:        "storage",
		batchSize:          200,
		embeddingModel:     "text-embedding-3-small",
		scoringModel:       "gpt-4o-mini",
		topKPerBatch:       20,
		globalTopK:         3,
		llmThreshold:       60,
		retrievalThreshold: 0.5,
		dateWindowDays:     3,
		minMatchScore:      2,
		maxLLMItems:        10,
		workers:            4,
		chunkSize:          1000,
		chunkOverlap:       200,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.apiKey == "" && cfg.embedder == nil {
		return nil, errors.New("ledgerlens: embedding provider required (use WithOpenAI or WithEmbedder)")
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics.RegisterPipelineMetrics()

	store, err := batchstore.New(cfg.storageRoot)
	if err != nil {
		return nil, fmt.Errorf("ledgerlens: open batch store: %w", err)
	}

	var embedder interface {
		domain.Embedder
		domain.BatchEmbedder
	}
	if cfg.embedder != nil {
		embedder = &customEmbedder{inner: cfg.embedder}
	} else {
		embedder = openaiProvider.NewEmbedder(&openaiProvider.EmbedderConfig{
			APIKey:     cfg.apiKey,
			BaseURL:    cfg.baseURL,
			Model:      cfg.embeddingModel,
			Dimensions: cfg.dimensions,
			Provider:   "openai",
			Logger:     logger,
		})
	}

	scorer := openaiProvider.NewScorer(&openaiProvider.ScorerConfig{
		APIKey:   cfg.apiKey,
		BaseURL:  cfg.baseURL,
		Model:    cfg.scoringModel,
		Provider: "openai",
		Logger:   logger,
	})

	var reranker domain.Reranker
	if cfg.rerankModel != "" {
		reranker = openaiProvider.NewReranker(&openaiProvider.RerankerConfig{
			APIKey:  cfg.apiKey,
			BaseURL: cfg.baseURL,
			Model:   cfg.rerankModel,
			Logger:  logger,
		})
	}

	extractor := extract.New(extract.Config{
		ChunkSize:    cfg.chunkSize,
		ChunkOverlap: cfg.chunkOverlap,
		Workers:      cfg.workers,
	}, logger)

	indexerSvc := indexeruc.New(extractor, embedder, store, cfg.batchSize, logger)
	retrievalSvc := retrievaluc.New(store, embedder, reranker,
		cfg.topKPerBatch, cfg.globalTopK, reranker != nil, logger)
	filterSvc := rulefilteruc.New(cfg.dateWindowDays, cfg.minMatchScore, logger)
	llmSvc := llmscoreuc.New(scorer, cfg.maxLLMItems, cfg.workers, logger)
	reconcileSvc := reconcileuc.New(filterSvc, llmSvc, retrievalSvc, reconcileuc.Config{
		LLMThreshold:       cfg.llmThreshold,
		RetrievalThreshold: cfg.retrievalThreshold,
		GlobalTopK:         cfg.globalTopK,
		Workers:            cfg.workers,
	}, logger)

	return &Client{
		indexer:   indexerSvc,
		retrieval: retrievalSvc,
		reconcile: reconcileSvc,
		parser:    &importer.CSVParser{},
		topK:      cfg.globalTopK,
	}, nil
}

// Ingest extracts, embeds and indexes evidence into batch directories.
// Repeated calls append new batches; existing batches are never touched.
func (c *Client) Ingest(ctx context.Context, evidence []Evidence) (IngestStats, error) {
	result, err := c.indexer.Ingest(ctx, evidenceToDomain(evidence))
	if err != nil {
		return IngestStats{}, err
	}
	return IngestStats{
		Batches:   len(result.Batches),
		Fragments: result.Fragments,
	}, nil
}

// Search runs a hybrid query across all indexed batches. The query is a
// loose field map; a field named "amount" drives the amount boost.
// topK <= 0 uses the configured global top-k.
func (c *Client) Search(ctx context.Context, query map[string]string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = c.topK
	}
	candidates, err := c.retrieval.GlobalSearch(ctx, domain.QueryFromRecord(query), topK)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(candidates))
	for i, cand := range candidates {
		results[i] = resultFromCandidate(cand)
	}
	return results, nil
}

// ReconcileRules scores evidence items directly against each transaction:
// rule filter first, then the scoring model over the survivors.
func (c *Client) ReconcileRules(
	ctx context.Context, transactions []map[string]string, evidence []Evidence,
) (Report, error) {
	txns, err := importer.ParseRecords(transactions)
	if err != nil {
		return Report{}, err
	}
	report, err := c.reconcile.ReconcileRules(ctx, txns, evidenceToDomain(evidence))
	if err != nil {
		return Report{}, err
	}
	return reportFromDomain(report), nil
}

// ReconcileRetrieval matches each transaction against the indexed batches.
// Evidence must have been ingested first.
func (c *Client) ReconcileRetrieval(
	ctx context.Context, transactions []map[string]string,
) (Report, error) {
	txns, err := importer.ParseRecords(transactions)
	if err != nil {
		return Report{}, err
	}
	report, err := c.reconcile.ReconcileRetrieval(ctx, txns)
	if err != nil {
		return Report{}, err
	}
	return reportFromDomain(report), nil
}

// ReconcileRulesCSV reads a transaction CSV (header row first) and runs
// the rules path over it.
func (c *Client) ReconcileRulesCSV(ctx context.Context, r io.Reader, evidence []Evidence) (Report, error) {
	txns, err := c.parser.Parse(r)
	if err != nil {
		return Report{}, err
	}
	report, err := c.reconcile.ReconcileRules(ctx, txns, evidenceToDomain(evidence))
	if err != nil {
		return Report{}, err
	}
	return reportFromDomain(report), nil
}

// ReconcileRetrievalCSV reads a transaction CSV and runs the retrieval
// path over it.
func (c *Client) ReconcileRetrievalCSV(ctx context.Context, r io.Reader) (Report, error) {
	txns, err := c.parser.Parse(r)
	if err != nil {
		return Report{}, err
	}
	report, err := c.reconcile.ReconcileRetrieval(ctx, txns)
	if err != nil {
		return Report{}, err
	}
	return reportFromDomain(report), nil
}

// customEmbedder adapts the public Embedder interface to the pipeline's
// batch-capable one.
type customEmbedder struct {
	inner Embedder
}

func (c *customEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: vec}, nil
}

func (c *customEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchFallback(ctx, c, texts)
}
