// Package llmscore runs the second-stage model scoring over filtered
// evidence and selects the single best match for a transaction.
package llmscore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerlens/ledgerlens/internal/domain"
)

// Service scores (transaction, evidence) pairs with a match scorer. A
// failed provider call zeroes that pair and scoring continues; only
// cancellation aborts the run.
type Service struct {
	scorer   domain.MatchScorer
	maxItems int
	workers  int
	logger   *zap.Logger
}

// New creates a scoring service. maxItems bounds provider calls per
// transaction; workers bounds concurrent calls.
func New(scorer domain.MatchScorer, maxItems, workers int, logger *zap.Logger) *Service {
	if maxItems <= 0 {
		maxItems = 10
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		scorer:   scorer,
		maxItems: maxItems,
		workers:  workers,
		logger:   logger,
	}
}

// BestMatch pairs the winning evidence with its verdict.
type BestMatch struct {
	Evidence domain.EvidenceItem
	Result   domain.MatchResult
}

// Best scores up to maxItems evidence items and returns the highest-scoring
// match. The comparison is strict, so among equal scores the earliest
// submitted item wins regardless of completion order. ok is false when no
// item scored above zero.
func (s *Service) Best(ctx context.Context, txn domain.Transaction, items []domain.EvidenceItem) (BestMatch, bool, error) {
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}
	if len(items) == 0 {
		return BestMatch{}, false, nil
	}

	results := make([]domain.MatchResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := s.scorer.Score(gctx, txn, item)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("scoring call failed",
					zap.String("transaction_id", txn.ID),
					zap.String("evidence_id", item.ID),
					zap.Error(err),
				)
				results[i] = domain.MatchResult{
					Reason:     fmt.Sprintf("scoring failed: %v", err),
					Confidence: domain.ConfidenceLow,
				}
				return nil
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BestMatch{}, false, fmt.Errorf("score transaction %s: %w", txn.ID, err)
	}

	best := BestMatch{}
	bestScore := 0
	found := false
	for i, result := range results {
		if result.Score > bestScore {
			bestScore = result.Score
			best = BestMatch{Evidence: items[i], Result: result}
			found = true
		}
	}
	return best, found, nil
}
