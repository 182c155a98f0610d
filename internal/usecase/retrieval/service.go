package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
)

const (
	// candidateFactor widens the per-index candidate pool before fusion.
	candidateFactor = 3

	denseWeight  = 0.4
	sparseWeight = 0.6

	amountBoost  = 2.0
	vendorBoost  = 0.5
	dateBoost    = 0.3
	invoiceBoost = 0.4
)

// Service runs hybrid retrieval: dense and lexical scores are fused per
// batch, merged across batches, and optionally reranked with a pairwise
// relevance model. Results are deterministic for a fixed store state.
type Service struct {
	source       BatchSource
	embedder     Embedder
	reranker     domain.Reranker
	topKPerBatch int
	globalTopK   int
	rerank       bool
	logger       *zap.Logger
}

// New creates a retrieval service. Reranking is skipped when reranker is nil.
func New(source BatchSource, embedder Embedder, reranker domain.Reranker,
	topKPerBatch, globalTopK int, rerank bool, logger *zap.Logger,
) *Service {
	if topKPerBatch <= 0 {
		topKPerBatch = 20
	}
	if globalTopK <= 0 {
		globalTopK = 3
	}
	return &Service{
		source:       source,
		embedder:     embedder,
		reranker:     reranker,
		topKPerBatch: topKPerBatch,
		globalTopK:   globalTopK,
		rerank:       rerank && reranker != nil,
		logger:       logger,
	}
}

// RetrieveBatch scores one batch against the query and returns its top
// candidates, fused score descending. Ties keep ascending ordinal order.
func (s *Service) RetrieveBatch(ctx context.Context, query domain.Query, batch *batchstore.Batch, topK int) ([]domain.Candidate, error) {
	result, err := s.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	pool := topK * candidateFactor
	denseHits, err := batch.Dense.Search(ctx, result.Embedding, pool)
	if err != nil {
		return nil, fmt.Errorf("dense search batch %d: %w", batch.Manifest.BatchID, err)
	}
	denseScores := make(map[int]float64, len(denseHits))
	for _, h := range denseHits {
		denseScores[h.Ordinal] = float64(h.Similarity)
	}

	lexScores := batch.Lexical.Scores(query.Tokens())
	maxLex := 0.0
	for _, v := range lexScores {
		if v > maxLex {
			maxLex = v
		}
	}

	// Candidate pool: dense hits plus the lexical top pool, deduplicated,
	// visited in ascending ordinal order so ties resolve by batch position.
	inPool := make(map[int]bool, len(denseHits))
	for _, h := range denseHits {
		inPool[h.Ordinal] = true
	}
	for _, ordinal := range topOrdinals(lexScores, pool) {
		inPool[ordinal] = true
	}
	ordinals := make([]int, 0, len(inPool))
	for ordinal := range inPool {
		ordinals = append(ordinals, ordinal)
	}
	sort.Ints(ordinals)

	candidates := make([]domain.Candidate, 0, len(ordinals))
	for _, ordinal := range ordinals {
		if ordinal < 0 || ordinal >= len(batch.Fragments) {
			continue
		}
		candidates = append(candidates, s.scoreFragment(query, &batch.Fragments[ordinal], denseScores[ordinal], lexScores[ordinal], maxLex))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// scoreFragment fuses the dense and normalized lexical scores and applies
// the structured-field boosts.
func (s *Service) scoreFragment(query domain.Query, fragment *domain.Fragment, denseScore, lexScore, maxLex float64) domain.Candidate {
	sparseNorm := 0.0
	if maxLex > 0 {
		sparseNorm = lexScore / maxLex
	}
	base := denseWeight*denseScore + sparseWeight*sparseNorm

	details := domain.MatchDetails{BaseScore: base}
	score := base
	content := strings.ToLower(fragment.Content())

	if query.HasAmount && domain.AmountsMatch(query.Amount, fragment.Amounts(), domain.AmountTolerance) {
		details.AmountMatch = true
		score += amountBoost
	}
	if vendor := strings.ToLower(query.Vendor()); vendor != "" && strings.Contains(content, vendor) {
		details.VendorMatch = true
		score += vendorBoost
	}
	if date := strings.ToLower(query.Date()); date != "" && strings.Contains(content, date) {
		details.DateMatch = true
		score += dateBoost
	}
	if invoice := strings.ToLower(query.InvoiceNumber()); invoice != "" && strings.Contains(content, invoice) {
		details.InvoiceMatch = true
		score += invoiceBoost
	}

	return domain.Candidate{Fragment: *fragment, Score: score, Details: details}
}

// GlobalSearch retrieves from every non-empty batch, merges the candidates
// with cross-batch deduplication (best score wins), optionally reranks, and
// returns at most topK results.
func (s *Service) GlobalSearch(ctx context.Context, query domain.Query, topK int) ([]domain.Candidate, error) {
	if topK <= 0 {
		topK = s.globalTopK
	}

	batches, err := s.source.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}
	if len(batches) == 0 {
		return nil, nil
	}

	perBatch := make([][]domain.Candidate, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			cands, err := s.RetrieveBatch(gctx, query, batch, s.topKPerBatch)
			if err != nil {
				return err
			}
			perBatch[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeCandidates(perBatch)
	if len(merged) == 0 {
		return nil, nil
	}
	s.logger.Debug("merged batch candidates",
		zap.Int("batches", len(batches)),
		zap.Int("candidates", len(merged)),
	)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if s.rerank {
		if err := s.applyRerank(ctx, query, merged); err != nil {
			return nil, err
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].EffectiveScore() > merged[j].EffectiveScore()
		})
	}

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// mergeCandidates flattens per-batch results in batch order, keeping the
// highest-scoring duplicate of each fragment identity.
func mergeCandidates(perBatch [][]domain.Candidate) []domain.Candidate {
	var merged []domain.Candidate
	seen := make(map[domain.DedupeKey]int)
	for _, cands := range perBatch {
		for _, c := range cands {
			key := c.Key()
			if at, ok := seen[key]; ok {
				if c.Score > merged[at].Score {
					merged[at] = c
				}
				continue
			}
			seen[key] = len(merged)
			merged = append(merged, c)
		}
	}
	return merged
}

// applyRerank scores every (query, fragment) pair with the reranker and
// re-applies the amount boost on top of the raw relevance score.
func (s *Service) applyRerank(ctx context.Context, query domain.Query, candidates []domain.Candidate) error {
	pairs := make([]domain.RerankPair, len(candidates))
	for i, c := range candidates {
		pairs[i] = domain.RerankPair{Query: query.Text, Text: c.Fragment.Content()}
	}

	scores, err := s.reranker.Predict(ctx, pairs)
	if err != nil {
		return fmt.Errorf("rerank: %w", err)
	}
	if len(scores) != len(candidates) {
		return fmt.Errorf("rerank returned %d scores for %d candidates", len(scores), len(candidates))
	}

	for i := range candidates {
		boost := 0.0
		if candidates[i].Details.AmountMatch {
			boost = amountBoost
		}
		candidates[i].RerankScore = scores[i] + boost
		candidates[i].Reranked = true
	}
	return nil
}

// topOrdinals returns the indices of the k highest scores, descending,
// ties by ascending index.
func topOrdinals(scores []float64, k int) []int {
	ordinals := make([]int, len(scores))
	for i := range ordinals {
		ordinals[i] = i
	}
	sort.SliceStable(ordinals, func(i, j int) bool {
		return scores[ordinals[i]] > scores[ordinals[j]]
	})
	if len(ordinals) > k {
		ordinals = ordinals[:k]
	}
	return ordinals
}
