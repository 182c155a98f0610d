package httpapi

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
)

// ErrorCode classifies API errors for clients.
type ErrorCode string

const (
	CodeBadRequest             ErrorCode = "bad_request"
	CodeValidationFailed       ErrorCode = "validation_failed"
	CodeInvalidTransaction     ErrorCode = "invalid_transaction"
	CodeBatchNotFound          ErrorCode = "batch_not_found"
	CodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	CodeScoringProviderError   ErrorCode = "scoring_provider_error"
	CodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// AttachmentPayload carries a binary document; Data is base64 in JSON.
type AttachmentPayload struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

// EvidencePayload is the wire form of one evidence item.
type EvidencePayload struct {
	ID          string              `json:"id"`
	Sender      string              `json:"sender"`
	Subject     string              `json:"subject,omitempty"`
	Body        string              `json:"body,omitempty"`
	Snippet     string              `json:"snippet,omitempty"`
	Date        string              `json:"date,omitempty"`
	URL         string              `json:"url,omitempty"`
	Attachments []AttachmentPayload `json:"attachments,omitempty"`
}

// evidenceFromPayload validates and converts one wire item. Items without
// an id get a generated one so provenance stays traceable. Unparseable
// dates are kept as zero timestamps rather than rejected; evidence dates
// come from mail headers and are advisory.
func evidenceFromPayload(p EvidencePayload) (domain.EvidenceItem, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	item := domain.EvidenceItem{
		ID:      p.ID,
		Sender:  p.Sender,
		Subject: p.Subject,
		Body:    p.Body,
		Snippet: p.Snippet,
		URL:     p.URL,
	}
	if p.Date != "" {
		if t, ok := domain.ParseDate(p.Date); ok {
			item.Date = t
		}
	}
	for _, att := range p.Attachments {
		if att.Filename == "" {
			return domain.EvidenceItem{}, fmt.Errorf("evidence %s: attachment filename is required", p.ID)
		}
		item.Attachments = append(item.Attachments, domain.Attachment{
			Filename: att.Filename,
			Data:     att.Data,
		})
	}
	return item, nil
}

func evidenceFromPayloads(payloads []EvidencePayload) ([]domain.EvidenceItem, error) {
	items := make([]domain.EvidenceItem, 0, len(payloads))
	for _, p := range payloads {
		item, err := evidenceFromPayload(p)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// IngestRequest is the body of POST /evidence.
type IngestRequest struct {
	Items []EvidencePayload `json:"items"`
}

// BatchSummary describes one batch directory written during ingestion.
type BatchSummary struct {
	BatchID int  `json:"batch_id"`
	Chunks  int  `json:"chunks"`
	Empty   bool `json:"empty"`
}

// IngestResponse summarizes one ingestion run.
type IngestResponse struct {
	Batches   []BatchSummary `json:"batches"`
	Fragments int            `json:"fragments"`
}

func ingestResponseFrom(manifests []batchstore.Manifest, fragments int) IngestResponse {
	resp := IngestResponse{
		Batches:   make([]BatchSummary, len(manifests)),
		Fragments: fragments,
	}
	for i, m := range manifests {
		resp.Batches[i] = BatchSummary{
			BatchID: m.BatchID,
			Chunks:  m.Chunks,
			Empty:   m.Chunks == 0,
		}
	}
	return resp
}

// SearchRequest is the body of POST /search. Query is a loose field map;
// a field named "amount" drives the amount boost.
type SearchRequest struct {
	Query map[string]string `json:"query"`
	TopK  *int              `json:"top_k,omitempty"`
}

// SearchResultItem is one scored fragment in a search response.
type SearchResultItem struct {
	Ordinal      int     `json:"ordinal"`
	Content      string  `json:"content"`
	SourceType   string  `json:"source_type"`
	DocumentName string  `json:"document_name"`
	EvidenceID   string  `json:"evidence_id"`
	Sender       string  `json:"sender,omitempty"`
	PageNumber   int     `json:"page_number"`
	Score        float64 `json:"score"`
	FusedScore   float64 `json:"fused_score"`
	RerankScore  float64 `json:"rerank_score,omitempty"`
	Reranked     bool    `json:"reranked,omitempty"`
	AmountMatch  bool    `json:"amount_match"`
	VendorMatch  bool    `json:"vendor_match"`
	DateMatch    bool    `json:"date_match"`
	InvoiceMatch bool    `json:"invoice_match"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Items []SearchResultItem `json:"items"`
	Total int                `json:"total"`
}

func candidateToResult(c domain.Candidate) SearchResultItem {
	prov := c.Fragment.Provenance()
	return SearchResultItem{
		Ordinal:      c.Fragment.Ordinal(),
		Content:      c.Fragment.Content(),
		SourceType:   string(c.Fragment.SourceType()),
		DocumentName: prov.DocumentName,
		EvidenceID:   prov.EvidenceID,
		Sender:       prov.Sender,
		PageNumber:   c.Fragment.PageNumber(),
		Score:        c.EffectiveScore(),
		FusedScore:   c.Score,
		RerankScore:  c.RerankScore,
		Reranked:     c.Reranked,
		AmountMatch:  c.Details.AmountMatch,
		VendorMatch:  c.Details.VendorMatch,
		DateMatch:    c.Details.DateMatch,
		InvoiceMatch: c.Details.InvoiceMatch,
	}
}

// ReconcileRequest is the body of POST /reconcile. Mode selects the path:
// "rules" scores the provided evidence items directly, "retrieval" searches
// the indexed batches and needs no evidence in the request.
type ReconcileRequest struct {
	Mode         string              `json:"mode"`
	Transactions []map[string]string `json:"transactions"`
	Evidence     []EvidencePayload   `json:"evidence,omitempty"`
}

// TransactionPayload is the normalized form returned by the import endpoint.
type TransactionPayload struct {
	ID            string `json:"id"`
	Date          string `json:"date,omitempty"`
	Amount        string `json:"amount"`
	VendorName    string `json:"vendor_name,omitempty"`
	VendorDomain  string `json:"vendor_domain,omitempty"`
	Description   string `json:"description,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

// ImportResponse is the body returned by POST /transactions/import.
type ImportResponse struct {
	Transactions []TransactionPayload `json:"transactions"`
	Total        int                  `json:"total"`
}

func transactionToPayload(t domain.Transaction) TransactionPayload {
	return TransactionPayload{
		ID:            t.ID,
		Date:          t.RawDate,
		Amount:        t.Amount.StringFixed(2),
		VendorName:    t.VendorName,
		VendorDomain:  t.VendorDomain,
		Description:   t.Description,
		InvoiceNumber: t.InvoiceNumber,
	}
}

// HealthResponse reports per-dependency probe results.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
