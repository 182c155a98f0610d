package domain

import "time"

// SourceType classifies where a fragment's text came from.
type SourceType string

const (
	SourceText          SourceType = "text"
	SourceTable         SourceType = "table"
	SourceEmailMetadata SourceType = "email_metadata"
)

// Provenance identifies the evidence source a fragment was extracted from.
type Provenance struct {
	EvidenceID   string
	Sender       string
	Timestamp    time.Time
	DocumentName string
}

// Fragment is the smallest retrievable unit of evidence text
// (immutable value object). Ordinal is stable within its batch and doubles
// as the position in the batch's dense and lexical indices.
type Fragment struct {
	ordinal    int
	sourceType SourceType
	content    string
	pageNumber int
	method     string
	amounts    []float64
	provenance Provenance
}

// NewFragment creates a fragment. Amounts are extracted from the content.
func NewFragment(
	ordinal int, sourceType SourceType, content string,
	pageNumber int, method string, provenance Provenance,
) Fragment {
	return Fragment{
		ordinal:    ordinal,
		sourceType: sourceType,
		content:    content,
		pageNumber: pageNumber,
		method:     method,
		amounts:    ExtractAmounts(content),
		provenance: provenance,
	}
}

// ReconstructFragment creates a fragment from persisted state without
// re-extracting amounts (storage hydration).
func ReconstructFragment(
	ordinal int, sourceType SourceType, content string,
	pageNumber int, method string, amounts []float64, provenance Provenance,
) Fragment {
	return Fragment{
		ordinal:    ordinal,
		sourceType: sourceType,
		content:    content,
		pageNumber: pageNumber,
		method:     method,
		amounts:    amounts,
		provenance: provenance,
	}
}

// Ordinal returns the fragment's stable position within its batch.
func (f *Fragment) Ordinal() int { return f.ordinal }

// SourceType returns the fragment's source classification.
func (f *Fragment) SourceType() SourceType { return f.sourceType }

// Content returns the fragment text.
func (f *Fragment) Content() string { return f.content }

// PageNumber returns the originating page, 0 for non-paginated sources.
func (f *Fragment) PageNumber() int { return f.pageNumber }

// ExtractionMethod returns how the content was produced.
func (f *Fragment) ExtractionMethod() string { return f.method }

// Amounts returns the monetary values found in the content, in order.
func (f *Fragment) Amounts() []float64 { return f.amounts }

// Provenance returns the evidence-source identity.
func (f *Fragment) Provenance() Provenance { return f.provenance }

// WithOrdinal returns a copy renumbered to the given batch position.
func (f *Fragment) WithOrdinal(ordinal int) Fragment {
	c := *f
	c.ordinal = ordinal
	return c
}
