package domain

// MatchDetails is the score breakdown carried by a retrieval candidate.
type MatchDetails struct {
	BaseScore    float64
	AmountMatch  bool
	VendorMatch  bool
	DateMatch    bool
	InvoiceMatch bool
}

// Candidate is a (fragment, score) pair produced by retrieval.
// RerankScore is populated only after the cross-encoder pass.
type Candidate struct {
	Fragment    Fragment
	Score       float64
	Details     MatchDetails
	RerankScore float64
	Reranked    bool
}

// DedupeKey identifies a fragment across batches: ordinal alone is only
// unique within one batch, so document name and evidence id disambiguate.
type DedupeKey struct {
	Ordinal      int
	DocumentName string
	EvidenceID   string
}

// Key returns the composite identity used for cross-batch deduplication.
func (c Candidate) Key() DedupeKey {
	return DedupeKey{
		Ordinal:      c.Fragment.Ordinal(),
		DocumentName: c.Fragment.Provenance().DocumentName,
		EvidenceID:   c.Fragment.Provenance().EvidenceID,
	}
}

// EffectiveScore returns the rerank score when present, else the fused score.
func (c Candidate) EffectiveScore() float64 {
	if c.Reranked {
		return c.RerankScore
	}
	return c.Score
}
