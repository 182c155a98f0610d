package retrieval

import (
	"context"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
)

// BatchSource opens persisted batch indices.
type BatchSource interface {
	Load(batchID int) (*batchstore.Batch, error)
	LoadAll() ([]*batchstore.Batch, error)
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
