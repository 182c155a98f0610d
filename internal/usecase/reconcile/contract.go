package reconcile

import (
	"context"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/usecase/llmscore"
	"github.com/ledgerlens/ledgerlens/internal/usecase/rulefilter"
)

// Filter runs the first-stage rule match over raw evidence.
type Filter interface {
	Filter(txn domain.Transaction, items []domain.EvidenceItem) []rulefilter.ScoredEvidence
}

// Scorer runs the second-stage model scoring and picks the best evidence.
type Scorer interface {
	Best(ctx context.Context, txn domain.Transaction, items []domain.EvidenceItem) (llmscore.BestMatch, bool, error)
}

// Retriever searches the persisted batch indices.
type Retriever interface {
	GlobalSearch(ctx context.Context, query domain.Query, topK int) ([]domain.Candidate, error)
}
