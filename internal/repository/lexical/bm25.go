// Package lexical implements Okapi BM25 term-frequency scoring over a fixed
// tokenized corpus. The corpus is immutable after construction; Scores is
// safe for concurrent readers.
package lexical

import "math"

const (
	k1      = 1.5
	b       = 0.75
	epsilon = 0.25
)

// Index is a BM25 Okapi index over a fixed corpus.
type Index struct {
	corpusSize int
	avgDocLen  float64
	docLens    []int
	// freqs[i] is the term-frequency table of document i.
	freqs []map[string]int
	idf   map[string]float64
}

// New builds a BM25 index from an already tokenized corpus. Tokens are
// matched verbatim; callers are expected to lower-case before indexing.
func New(corpus [][]string) *Index {
	idx := &Index{
		corpusSize: len(corpus),
		docLens:    make([]int, len(corpus)),
		freqs:      make([]map[string]int, len(corpus)),
		idf:        make(map[string]float64),
	}
	if len(corpus) == 0 {
		return idx
	}

	df := make(map[string]int)
	var totalLen int
	for i, doc := range corpus {
		idx.docLens[i] = len(doc)
		totalLen += len(doc)

		tf := make(map[string]int, len(doc))
		for _, tok := range doc {
			tf[tok]++
		}
		idx.freqs[i] = tf
		for tok := range tf {
			df[tok]++
		}
	}
	idx.avgDocLen = float64(totalLen) / float64(len(corpus))

	// Okapi idf can go negative for very common terms; rank them with a
	// small positive epsilon of the average idf instead.
	var idfSum float64
	var negative []string
	for tok, n := range df {
		v := math.Log((float64(idx.corpusSize) - float64(n) + 0.5) / (float64(n) + 0.5))
		idx.idf[tok] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, tok)
		}
	}
	avgIdf := idfSum / float64(len(idx.idf))
	floor := epsilon * avgIdf
	for _, tok := range negative {
		idx.idf[tok] = floor
	}

	return idx
}

// Size returns the number of documents in the corpus.
func (x *Index) Size() int { return x.corpusSize }

// Scores returns the BM25 relevance of every document for the query tokens,
// indexed by document position.
func (x *Index) Scores(tokens []string) []float64 {
	scores := make([]float64, x.corpusSize)
	if x.corpusSize == 0 {
		return scores
	}
	for _, tok := range tokens {
		idf, ok := x.idf[tok]
		if !ok {
			continue
		}
		for i, tf := range x.freqs {
			f := float64(tf[tok])
			if f == 0 {
				continue
			}
			norm := 1 - b + b*float64(x.docLens[i])/x.avgDocLen
			scores[i] += idf * (f * (k1 + 1)) / (f + k1*norm)
		}
	}
	return scores
}
