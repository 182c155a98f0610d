package httpapi

import (
	"context"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/usecase/indexer"
	"github.com/ledgerlens/ledgerlens/internal/usecase/reconcile"
)

// Ingester indexes raw evidence items into batch indices.
type Ingester interface {
	Ingest(ctx context.Context, items []domain.EvidenceItem) (indexer.IngestResult, error)
}

// Searcher runs a hybrid query across all indexed batches.
type Searcher interface {
	GlobalSearch(ctx context.Context, query domain.Query, topK int) ([]domain.Candidate, error)
}

// Reconciler classifies transactions into digest and exception rows.
type Reconciler interface {
	ReconcileRules(ctx context.Context, txns []domain.Transaction, items []domain.EvidenceItem) (reconcile.Report, error)
	ReconcileRetrieval(ctx context.Context, txns []domain.Transaction) (reconcile.Report, error)
}
