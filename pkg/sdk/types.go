package ledgerlens

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/usecase/reconcile"
)

// Attachment is a binary document attached to an evidence item.
type Attachment struct {
	Filename string
	Data     []byte
}

// Evidence is one raw evidence source: an email message with optional
// attachments. ID may be left empty; a generated one is assigned on use.
type Evidence struct {
	ID          string
	Sender      string
	Subject     string
	Body        string
	Snippet     string
	Date        time.Time
	URL         string
	Attachments []Attachment
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Batches   int
	Fragments int
}

// SearchResult is one scored evidence fragment.
type SearchResult struct {
	Ordinal      int
	Content      string
	SourceType   string
	DocumentName string
	EvidenceID   string
	Sender       string
	PageNumber   int
	Score        float64
	AmountMatch  bool
	VendorMatch  bool
	DateMatch    bool
	InvoiceMatch bool
}

// DigestRow is an accepted transaction-evidence match.
type DigestRow struct {
	TransactionID   string
	TransactionDate string
	Amount          string
	VendorName      string
	Description     string
	EvidenceID      string
	EvidenceSender  string
	DocumentName    string
	PageNumber      int
	MatchScore      float64
	MatchReason     string
	ContentPreview  string
}

// ExceptionRow is an unresolved transaction requiring human review.
type ExceptionRow struct {
	TransactionID   string
	TransactionDate string
	Amount          string
	VendorName      string
	Description     string
	BestScore       float64
	HasCandidate    bool
	Reason          string
}

// Report is the outcome of one reconciliation run. Digest and Exceptions
// together cover the input transactions exactly once, in input order.
type Report struct {
	Digest     []DigestRow
	Exceptions []ExceptionRow
}

func evidenceToDomain(items []Evidence) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, len(items))
	for i, e := range items {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		item := domain.EvidenceItem{
			ID:      e.ID,
			Sender:  e.Sender,
			Subject: e.Subject,
			Body:    e.Body,
			Snippet: e.Snippet,
			Date:    e.Date,
			URL:     e.URL,
		}
		for _, att := range e.Attachments {
			item.Attachments = append(item.Attachments, domain.Attachment{
				Filename: att.Filename,
				Data:     att.Data,
			})
		}
		out[i] = item
	}
	return out
}

func resultFromCandidate(c domain.Candidate) SearchResult {
	prov := c.Fragment.Provenance()
	return SearchResult{
		Ordinal:      c.Fragment.Ordinal(),
		Content:      c.Fragment.Content(),
		SourceType:   string(c.Fragment.SourceType()),
		DocumentName: prov.DocumentName,
		EvidenceID:   prov.EvidenceID,
		Sender:       prov.Sender,
		PageNumber:   c.Fragment.PageNumber(),
		Score:        c.EffectiveScore(),
		AmountMatch:  c.Details.AmountMatch,
		VendorMatch:  c.Details.VendorMatch,
		DateMatch:    c.Details.DateMatch,
		InvoiceMatch: c.Details.InvoiceMatch,
	}
}

func reportFromDomain(r reconcile.Report) Report {
	out := Report{}
	for _, d := range r.Digest {
		out.Digest = append(out.Digest, DigestRow(d))
	}
	for _, e := range r.Exceptions {
		out.Exceptions = append(out.Exceptions, ExceptionRow(e))
	}
	return out
}
