package indexer

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
)

// --- Mocks ---

type mockExtractor struct {
	perItem int // fragments produced per evidence item
	err     error
}

func (m *mockExtractor) Fragments(_ context.Context, items []domain.EvidenceItem) ([]domain.Fragment, error) {
	if m.err != nil {
		return nil, m.err
	}
	var frags []domain.Fragment
	for _, item := range items {
		for range m.perItem {
			frags = append(frags, domain.NewFragment(
				len(frags), domain.SourceEmailMetadata,
				"Subject: "+item.Subject+"\nBody: evidence body text goes here",
				0, "email",
				domain.Provenance{EvidenceID: item.ID, DocumentName: "Email Content"},
			))
		}
	}
	return frags, nil
}

type mockBatchEmbedder struct {
	calls int
	err   error
}

func (m *mockBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = []float32{1, 0, 0}
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings}, nil
}

func testItems(n int) []domain.EvidenceItem {
	items := make([]domain.EvidenceItem, n)
	for i := range items {
		items[i] = domain.EvidenceItem{ID: string(rune('a' + i)), Subject: "invoice"}
	}
	return items
}

func TestIngest_SingleBatch(t *testing.T) {
	store, err := batchstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := New(&mockExtractor{perItem: 1}, &mockBatchEmbedder{}, store, 200, zap.NewNop())

	result, err := svc.Ingest(context.Background(), testItems(3))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(result.Batches))
	}
	if result.Fragments != 3 {
		t.Errorf("fragments = %d, want 3", result.Fragments)
	}
	if result.Batches[0].BatchID != 1 {
		t.Errorf("batch id = %d, want 1", result.Batches[0].BatchID)
	}

	loaded, err := store.Load(1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Fragments) != 3 {
		t.Errorf("loaded %d fragments", len(loaded.Fragments))
	}
	if loaded.Lexical.Size() != 3 {
		t.Errorf("lexical size = %d", loaded.Lexical.Size())
	}
	if loaded.Dense.Count() != 3 {
		t.Errorf("dense count = %d", loaded.Dense.Count())
	}
}

func TestIngest_SplitsIntoBatches(t *testing.T) {
	store, err := batchstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := New(&mockExtractor{perItem: 1}, &mockBatchEmbedder{}, store, 2, zap.NewNop())

	result, err := svc.Ingest(context.Background(), testItems(5))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(result.Batches))
	}
	wantChunks := []int{2, 2, 1}
	for i, m := range result.Batches {
		if m.BatchID != i+1 {
			t.Errorf("batch %d id = %d", i, m.BatchID)
		}
		if m.Chunks != wantChunks[i] {
			t.Errorf("batch %d chunks = %d, want %d", i, m.Chunks, wantChunks[i])
		}
	}
}

func TestIngest_EmptyBatchGetsManifest(t *testing.T) {
	store, err := batchstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := New(&mockExtractor{perItem: 0}, &mockBatchEmbedder{}, store, 200, zap.NewNop())

	result, err := svc.Ingest(context.Background(), testItems(2))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Batches) != 1 || result.Batches[0].Chunks != 0 {
		t.Fatalf("got %+v", result.Batches)
	}

	if _, err := store.Load(1); !errors.Is(err, domain.ErrEmptyBatch) {
		t.Errorf("Load err = %v, want ErrEmptyBatch", err)
	}
}

func TestIngest_AppendsAfterExistingBatches(t *testing.T) {
	store, err := batchstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := New(&mockExtractor{perItem: 1}, &mockBatchEmbedder{}, store, 200, zap.NewNop())

	if _, err := svc.Ingest(context.Background(), testItems(1)); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Ingest(context.Background(), testItems(1))
	if err != nil {
		t.Fatal(err)
	}
	if result.Batches[0].BatchID != 2 {
		t.Errorf("batch id = %d, want 2", result.Batches[0].BatchID)
	}
}

func TestIngest_EmbedFailureAborts(t *testing.T) {
	store, err := batchstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	embErr := errors.New("provider down")
	svc := New(&mockExtractor{perItem: 1}, &mockBatchEmbedder{err: embErr}, store, 200, zap.NewNop())

	if _, err := svc.Ingest(context.Background(), testItems(1)); !errors.Is(err, embErr) {
		t.Errorf("err = %v, want embedding failure", err)
	}
}

func TestIngest_LargeBatchSplitsEmbeddingCalls(t *testing.T) {
	store, err := batchstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	embedder := &mockBatchEmbedder{}
	svc := New(&mockExtractor{perItem: 10}, embedder, store, 200, zap.NewNop())

	// 10 items x 10 fragments = 100 texts, 64 per call.
	if _, err := svc.Ingest(context.Background(), testItems(10)); err != nil {
		t.Fatal(err)
	}
	if embedder.calls != 2 {
		t.Errorf("embed calls = %d, want 2", embedder.calls)
	}
}
