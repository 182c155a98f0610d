package indexer

import (
	"context"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
	"github.com/ledgerlens/ledgerlens/internal/repository/dense"
)

// Extractor turns raw evidence items into ordered fragments.
type Extractor interface {
	Fragments(ctx context.Context, items []domain.EvidenceItem) ([]domain.Fragment, error)
}

// Embedder vectorizes fragment contents in bulk.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// Store persists batch directories.
type Store interface {
	NextBatchID() (int, error)
	CreateDense(batchID int) (*dense.Index, error)
	Save(batchID int, fragments []domain.Fragment, corpus [][]string) (batchstore.Manifest, error)
	SaveEmpty(batchID int) (batchstore.Manifest, error)
}
