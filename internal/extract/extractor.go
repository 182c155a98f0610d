package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/metrics"
)

const (
	// minFragmentLen drops chunks too short to carry any signal.
	minFragmentLen = 20
	// minPageText is the threshold below which a page's plain text is
	// considered empty and row-based extraction is tried instead.
	minPageText = 50
)

// Config tunes chunking and attachment parallelism.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int
}

// Extractor turns raw evidence items into ordered, searchable fragments.
// Attachment failures are soft: the attachment is skipped and counted,
// extraction of the remaining evidence continues.
type Extractor struct {
	splitter *Splitter
	workers  int
	logger   *zap.Logger
}

// New creates an extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Extractor{
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		workers:  workers,
		logger:   logger,
	}
}

// attachmentJob addresses one attachment of one evidence item.
type attachmentJob struct {
	item int
	att  int
}

// Fragments extracts every evidence item into fragments: one metadata
// fragment per item with a subject and body, then the fragments of each
// attachment in order. Ordinals are assigned sequentially over the result,
// so the output order is deterministic regardless of worker scheduling.
func (e *Extractor) Fragments(ctx context.Context, items []domain.EvidenceItem) ([]domain.Fragment, error) {
	var jobs []attachmentJob
	for i, item := range items {
		for a := range item.Attachments {
			jobs = append(jobs, attachmentJob{item: i, att: a})
		}
	}

	attFragments := make([][]domain.Fragment, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for j, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item := items[job.item]
			att := item.Attachments[job.att]
			frags, err := e.documentFragments(att, provenanceFor(item, att.Filename))
			if err != nil {
				metrics.ExtractionFailuresTotal.Inc()
				e.logger.Warn("attachment extraction failed",
					zap.String("evidence_id", item.ID),
					zap.String("filename", att.Filename),
					zap.Error(err),
				)
				return nil
			}
			attFragments[j] = frags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extract attachments: %w", err)
	}

	var out []domain.Fragment
	next := 0
	for i, item := range items {
		if f, ok := e.metadataFragment(item); ok {
			out = append(out, f.WithOrdinal(next))
			next++
		}
		for j, job := range jobs {
			if job.item != i {
				continue
			}
			for _, f := range attFragments[j] {
				out = append(out, f.WithOrdinal(next))
				next++
			}
		}
	}
	return out, nil
}

// metadataFragment builds the searchable fragment for the message itself.
func (e *Extractor) metadataFragment(item domain.EvidenceItem) (domain.Fragment, bool) {
	var parts []string
	if item.Subject != "" {
		parts = append(parts, "Subject: "+item.Subject)
	}
	if body := item.BodyOrSnippet(); body != "" {
		parts = append(parts, "Body: "+body)
	}
	if len(parts) == 0 {
		return domain.Fragment{}, false
	}
	prov := domain.Provenance{
		EvidenceID:   item.ID,
		Sender:       item.Sender,
		Timestamp:    item.Date,
		DocumentName: "Email Content",
	}
	return domain.NewFragment(
		0, domain.SourceEmailMetadata, strings.Join(parts, "\n"), 0, "email", prov,
	), true
}

// documentFragments extracts a PDF attachment page by page. Pages with
// enough plain text are chunked as text fragments; otherwise the page's
// positional rows are joined into table fragments.
func (e *Extractor) documentFragments(att domain.Attachment, prov domain.Provenance) ([]domain.Fragment, error) {
	if len(att.Data) == 0 {
		return nil, fmt.Errorf("%s: empty attachment: %w", att.Filename, domain.ErrExtractionFailed)
	}

	reader, err := pdf.NewReader(bytes.NewReader(att.Data), int64(len(att.Data)))
	if err != nil {
		return nil, fmt.Errorf("%s: open pdf: %w: %v", att.Filename, domain.ErrExtractionFailed, err)
	}

	var out []domain.Fragment
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		text = strings.TrimSpace(text)

		if len(text) > minPageText {
			for _, chunk := range e.splitter.Split(text) {
				chunk = strings.TrimSpace(chunk)
				if len(chunk) < minFragmentLen {
					continue
				}
				out = append(out, domain.NewFragment(
					0, domain.SourceText, chunk, pageNum, "text_extraction", prov,
				))
			}
			continue
		}

		rowText := pageRows(page)
		if len(rowText) < minFragmentLen {
			continue
		}
		for _, chunk := range e.splitter.Split(rowText) {
			chunk = strings.TrimSpace(chunk)
			if len(chunk) < minFragmentLen {
				continue
			}
			out = append(out, domain.NewFragment(
				0, domain.SourceTable, chunk, pageNum, "rows", prov,
			))
		}
	}
	return out, nil
}

// pageRows renders a page's positional text rows, one line per row with
// cells separated by " | ".
func pageRows(page pdf.Page) string {
	rows, err := page.GetTextByRow()
	if err != nil {
		return ""
	}
	var lines []string
	for _, row := range rows {
		var cells []string
		for _, word := range row.Content {
			if s := strings.TrimSpace(word.S); s != "" {
				cells = append(cells, s)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " | "))
		}
	}
	return strings.Join(lines, "\n")
}

func provenanceFor(item domain.EvidenceItem, documentName string) domain.Provenance {
	return domain.Provenance{
		EvidenceID:   item.ID,
		Sender:       item.Sender,
		Timestamp:    item.Date,
		DocumentName: documentName,
	}
}
