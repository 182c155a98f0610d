// Package dense adapts chromem-go as the per-batch nearest-neighbor index.
// Vectors are unit-normalized upstream, so chromem's cosine similarity is a
// plain dot product. One persistent chromem DB lives inside each batch
// directory; the index is written once during ingestion and read-only after.
package dense

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "fragments"

// Hit is a nearest-neighbor match: the fragment's batch ordinal and its
// cosine similarity to the query vector.
type Hit struct {
	Ordinal    int
	Similarity float64
}

// Index wraps one batch's chromem collection.
type Index struct {
	db   *chromem.DB
	coll *chromem.Collection
}

// embeddings are always supplied explicitly, so chromem never needs to embed.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("dense index stores precomputed embeddings only")
}

// Create initializes a new persistent index at path.
func Create(path string) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("create dense index at %s: %w", path, err)
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{db: db, coll: coll}, nil
}

// Open loads an existing persistent index from path.
func Open(path string) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open dense index at %s: %w", path, err)
	}
	coll := db.GetCollection(collectionName, noEmbed)
	if coll == nil {
		return nil, fmt.Errorf("dense index at %s has no fragment collection", path)
	}
	return &Index{db: db, coll: coll}, nil
}

// Add stores one embedding per fragment ordinal. Lengths must match.
func (x *Index) Add(ctx context.Context, ordinals []int, contents []string, embeddings [][]float32) error {
	if len(ordinals) != len(embeddings) || len(ordinals) != len(contents) {
		return fmt.Errorf("mismatched input lengths: %d ordinals, %d contents, %d embeddings",
			len(ordinals), len(contents), len(embeddings))
	}
	if len(ordinals) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(ordinals))
	for i, ord := range ordinals {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(ord),
			Content:   contents[i],
			Embedding: embeddings[i],
		}
	}
	// Concurrency 1: embeddings are precomputed, chromem has nothing to parallelize.
	if err := x.coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed fragments.
func (x *Index) Count() int { return x.coll.Count() }

// Search returns up to k nearest fragments by cosine similarity,
// most similar first. k is clamped to the collection size.
func (x *Index) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	n := x.coll.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := x.coll.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query dense index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		ord, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt fragment id %q in dense index", r.ID)
		}
		hits = append(hits, Hit{Ordinal: ord, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}
