package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/metrics"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
)

// embedBatchSize bounds how many fragment texts go into one embedding call.
const embedBatchSize = 64

// Service ingests evidence into immutable batch indices. Each batch holds
// the fragments of up to batchSize evidence items together with a dense
// vector index and a tokenized lexical corpus over the same ordinals.
type Service struct {
	extractor Extractor
	embedder  Embedder
	store     Store
	batchSize int
	logger    *zap.Logger
}

// New creates an indexing service.
func New(extractor Extractor, embedder Embedder, store Store, batchSize int, logger *zap.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Service{
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Batches   []batchstore.Manifest
	Fragments int
}

// Ingest splits evidence items into batches, extracts and embeds their
// fragments, and persists one batch directory per group. A group with no
// extractable content still gets an empty manifest so batch ids stay dense.
func (s *Service) Ingest(ctx context.Context, items []domain.EvidenceItem) (IngestResult, error) {
	var result IngestResult

	for start := 0; start < len(items); start += s.batchSize {
		end := start + s.batchSize
		if end > len(items) {
			end = len(items)
		}

		batchID, err := s.store.NextBatchID()
		if err != nil {
			return result, fmt.Errorf("allocate batch id: %w", err)
		}

		manifest, err := s.ingestBatch(ctx, batchID, items[start:end])
		if err != nil {
			return result, err
		}

		result.Batches = append(result.Batches, manifest)
		result.Fragments += manifest.Chunks
	}

	return result, nil
}

func (s *Service) ingestBatch(ctx context.Context, batchID int, items []domain.EvidenceItem) (batchstore.Manifest, error) {
	fragments, err := s.extractor.Fragments(ctx, items)
	if err != nil {
		return batchstore.Manifest{}, fmt.Errorf("batch %d: %w", batchID, err)
	}

	if len(fragments) == 0 {
		s.logger.Info("batch has no extractable content", zap.Int("batch_id", batchID))
		return s.store.SaveEmpty(batchID)
	}

	contents := make([]string, len(fragments))
	ordinals := make([]int, len(fragments))
	corpus := make([][]string, len(fragments))
	for i := range fragments {
		contents[i] = fragments[i].Content()
		ordinals[i] = fragments[i].Ordinal()
		corpus[i] = domain.Tokenize(fragments[i].Content())
	}

	embeddings, err := s.embedAll(ctx, contents)
	if err != nil {
		return batchstore.Manifest{}, fmt.Errorf("batch %d: %w", batchID, err)
	}

	denseIdx, err := s.store.CreateDense(batchID)
	if err != nil {
		return batchstore.Manifest{}, err
	}
	if err := denseIdx.Add(ctx, ordinals, contents, embeddings); err != nil {
		return batchstore.Manifest{}, fmt.Errorf("batch %d dense index: %w", batchID, err)
	}

	manifest, err := s.store.Save(batchID, fragments, corpus)
	if err != nil {
		return batchstore.Manifest{}, err
	}

	for i := range fragments {
		metrics.FragmentsIndexedTotal.WithLabelValues(string(fragments[i].SourceType())).Inc()
	}
	s.logger.Info("batch indexed",
		zap.Int("batch_id", batchID),
		zap.Int("items", len(items)),
		zap.Int("fragments", len(fragments)),
	)
	return manifest, nil
}

// embedAll vectorizes contents in embedBatchSize slices, preserving order.
func (s *Service) embedAll(ctx context.Context, contents []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(contents))
	for start := 0; start < len(contents); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(contents) {
			end = len(contents)
		}
		res, err := s.embedder.BatchEmbed(ctx, contents[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed fragments [%d:%d]: %w", start, end, err)
		}
		embeddings = append(embeddings, res.Embeddings...)
	}
	return embeddings, nil
}
