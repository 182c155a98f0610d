package batchstore

import (
	"time"

	"github.com/ledgerlens/ledgerlens/internal/domain"
)

// fragmentDTO is the JSON persistence shape of a domain Fragment.
type fragmentDTO struct {
	Ordinal    int       `json:"ordinal"`
	SourceType string    `json:"source_type"`
	Content    string    `json:"content"`
	PageNumber int       `json:"page_number"`
	Method     string    `json:"extraction_method"`
	Amounts    []float64 `json:"amounts,omitempty"`

	EvidenceID   string    `json:"evidence_id"`
	Sender       string    `json:"sender,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
	DocumentName string    `json:"document_name,omitempty"`
}

func toDTO(f *domain.Fragment) fragmentDTO {
	p := f.Provenance()
	return fragmentDTO{
		Ordinal:      f.Ordinal(),
		SourceType:   string(f.SourceType()),
		Content:      f.Content(),
		PageNumber:   f.PageNumber(),
		Method:       f.ExtractionMethod(),
		Amounts:      f.Amounts(),
		EvidenceID:   p.EvidenceID,
		Sender:       p.Sender,
		Timestamp:    p.Timestamp,
		DocumentName: p.DocumentName,
	}
}

func (d fragmentDTO) toDomain() domain.Fragment {
	return domain.ReconstructFragment(
		d.Ordinal,
		domain.SourceType(d.SourceType),
		d.Content,
		d.PageNumber,
		d.Method,
		d.Amounts,
		domain.Provenance{
			EvidenceID:   d.EvidenceID,
			Sender:       d.Sender,
			Timestamp:    d.Timestamp,
			DocumentName: d.DocumentName,
		},
	)
}
