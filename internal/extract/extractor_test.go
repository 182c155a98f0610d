package extract

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
)

func testExtractor() *Extractor {
	return New(Config{ChunkSize: 1000, ChunkOverlap: 200, Workers: 2}, zap.NewNop())
}

func TestFragments_EmailMetadata(t *testing.T) {
	sent := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	items := []domain.EvidenceItem{
		{
			ID:      "msg-1",
			Sender:  "billing@acme.com",
			Subject: "Invoice INV-1001",
			Body:    "Please find attached invoice INV-1001 for $250.00.",
			Date:    sent,
		},
	}

	frags, err := testExtractor().Fragments(context.Background(), items)
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}

	f := frags[0]
	if f.SourceType() != domain.SourceEmailMetadata {
		t.Errorf("source type = %q", f.SourceType())
	}
	if f.PageNumber() != 0 {
		t.Errorf("page = %d, want 0", f.PageNumber())
	}
	if f.ExtractionMethod() != "email" {
		t.Errorf("method = %q, want email", f.ExtractionMethod())
	}
	want := "Subject: Invoice INV-1001\nBody: Please find attached invoice INV-1001 for $250.00."
	if f.Content() != want {
		t.Errorf("content = %q, want %q", f.Content(), want)
	}
	if len(f.Amounts()) != 1 || f.Amounts()[0] != 250 {
		t.Errorf("amounts = %v, want [250]", f.Amounts())
	}

	prov := f.Provenance()
	if prov.EvidenceID != "msg-1" || prov.Sender != "billing@acme.com" {
		t.Errorf("provenance = %+v", prov)
	}
	if prov.DocumentName != "Email Content" {
		t.Errorf("document name = %q", prov.DocumentName)
	}
	if !prov.Timestamp.Equal(sent) {
		t.Errorf("timestamp = %v, want %v", prov.Timestamp, sent)
	}
}

func TestFragments_SnippetFallback(t *testing.T) {
	items := []domain.EvidenceItem{
		{ID: "msg-2", Subject: "Receipt", Snippet: "Payment of $42.00 received with thanks."},
	}

	frags, err := testExtractor().Fragments(context.Background(), items)
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	want := "Subject: Receipt\nBody: Payment of $42.00 received with thanks."
	if frags[0].Content() != want {
		t.Errorf("content = %q", frags[0].Content())
	}
}

func TestFragments_EmptyItemProducesNothing(t *testing.T) {
	frags, err := testExtractor().Fragments(context.Background(), []domain.EvidenceItem{{ID: "bare"}})
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(frags) != 0 {
		t.Errorf("got %d fragments, want 0", len(frags))
	}
}

func TestFragments_CorruptAttachmentIsSkipped(t *testing.T) {
	items := []domain.EvidenceItem{
		{
			ID:      "msg-3",
			Sender:  "ap@vendor.io",
			Subject: "Statement",
			Body:    "Monthly statement attached for your records.",
			Attachments: []domain.Attachment{
				{Filename: "broken.pdf", Data: []byte("not a pdf at all")},
			},
		},
	}

	frags, err := testExtractor().Fragments(context.Background(), items)
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	// Metadata survives even though the attachment failed.
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].SourceType() != domain.SourceEmailMetadata {
		t.Errorf("source type = %q", frags[0].SourceType())
	}
}

func TestFragments_OrdinalsSequential(t *testing.T) {
	items := []domain.EvidenceItem{
		{ID: "a", Subject: "First message", Body: "Alpha body text."},
		{ID: "b", Subject: "Second message", Body: "Bravo body text."},
		{ID: "c", Subject: "Third message", Body: "Charlie body text."},
	}

	frags, err := testExtractor().Fragments(context.Background(), items)
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	for i, f := range frags {
		if f.Ordinal() != i {
			t.Errorf("fragment %d has ordinal %d", i, f.Ordinal())
		}
	}
	// Item order is preserved.
	ids := []string{"a", "b", "c"}
	for i, f := range frags {
		if f.Provenance().EvidenceID != ids[i] {
			t.Errorf("fragment %d from %q, want %q", i, f.Provenance().EvidenceID, ids[i])
		}
	}
}

func TestFragments_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []domain.EvidenceItem{
		{
			ID:          "msg-4",
			Subject:     "Anything",
			Body:        "Body text.",
			Attachments: []domain.Attachment{{Filename: "doc.pdf", Data: []byte("%PDF-")}},
		},
	}

	if _, err := testExtractor().Fragments(ctx, items); err == nil {
		t.Error("expected error from cancelled context")
	}
}
