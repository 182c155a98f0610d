package domain

import (
	"strings"
	"time"
)

// Attachment is a binary document attached to an evidence item.
type Attachment struct {
	Filename string
	Data     []byte
}

// EvidenceItem is a raw, not-yet-indexed evidence source (an email message
// with optional attachments). The rule-filter path scores these directly;
// the retrieval path first extracts them into fragments.
type EvidenceItem struct {
	ID          string
	Sender      string
	Subject     string
	Body        string
	Snippet     string
	Date        time.Time
	URL         string
	Attachments []Attachment
}

// Searchable returns the normalized text the rule filter matches against:
// sender, subject, body and snippet concatenated.
func (e EvidenceItem) Searchable() string {
	return strings.Join([]string{
		strings.ToLower(e.Sender),
		NormalizeText(e.Subject),
		NormalizeText(e.Body),
		NormalizeText(e.Snippet),
	}, " ")
}

// SenderDomain returns the lower-cased domain of the sender address.
func (e EvidenceItem) SenderDomain() string {
	return ExtractDomain(e.Sender)
}

// BodyOrSnippet prefers the full body, falling back to the snippet.
func (e EvidenceItem) BodyOrSnippet() string {
	if e.Body != "" {
		return e.Body
	}
	return e.Snippet
}
