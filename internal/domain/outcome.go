package domain

// DigestEntry is an accepted match: the transaction paired with the evidence
// that explains it.
type DigestEntry struct {
	TransactionID   string  `json:"transaction_id"`
	TransactionDate string  `json:"transaction_date"`
	Amount          string  `json:"amount"`
	VendorName      string  `json:"vendor_name"`
	Description     string  `json:"description"`
	EvidenceID      string  `json:"evidence_id"`
	EvidenceSender  string  `json:"evidence_sender"`
	DocumentName    string  `json:"document_name"`
	PageNumber      int     `json:"page_number"`
	MatchScore      float64 `json:"match_score"`
	MatchReason     string  `json:"match_reason"`
	ContentPreview  string  `json:"content_preview"`
}

// ExceptionEntry is an unresolved transaction requiring human review.
type ExceptionEntry struct {
	TransactionID   string  `json:"transaction_id"`
	TransactionDate string  `json:"transaction_date"`
	Amount          string  `json:"amount"`
	VendorName      string  `json:"vendor_name"`
	Description     string  `json:"description"`
	BestScore       float64 `json:"best_score"`
	HasCandidate    bool    `json:"has_candidate"`
	Reason          string  `json:"reason"`
}

// previewLen bounds the evidence excerpt carried on a digest row.
const previewLen = 300

// Preview truncates content for digest rows.
func Preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	return content[:previewLen]
}
