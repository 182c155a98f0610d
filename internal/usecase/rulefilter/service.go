// Package rulefilter implements the cheap first-stage match over raw
// evidence: additive keyword, amount, and date criteria that cut the
// candidate set before any model call.
package rulefilter

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
)

// Criterion weights. The scale is additive: an evidence item accumulates
// points per satisfied criterion and must reach the minimum score to pass.
const (
	domainWeight        = 1.0
	vendorWeight        = 1.0
	descriptionWeight   = 0.5
	invoiceExactWeight  = 3.0
	invoiceNumberWeight = 2.0
	amountExactWeight   = 2.0
	amountCloseWeight   = 1.0
	dateWeight          = 1.0

	amountExactTolerance = 0.01
	amountCloseTolerance = 5.0

	minVendorCoreLen      = 3
	minDescriptionLen     = 5
	minDescriptionWordLen = 4
	maxDescriptionWords   = 3
	minInvoiceLen         = 2
)

var invoiceNumericRegex = regexp.MustCompile(`\d{3,}`)

// ScoredEvidence is an evidence item that passed the filter, with the
// accumulated score and the human-readable reasons behind it.
type ScoredEvidence struct {
	Item    domain.EvidenceItem
	Score   float64
	Reasons []string
}

// Service filters evidence items against a transaction.
type Service struct {
	dateWindowDays int
	minMatchScore  float64
	logger         *zap.Logger
}

// New creates a rule filter.
func New(dateWindowDays int, minMatchScore float64, logger *zap.Logger) *Service {
	if dateWindowDays <= 0 {
		dateWindowDays = 3
	}
	return &Service{
		dateWindowDays: dateWindowDays,
		minMatchScore:  minMatchScore,
		logger:         logger,
	}
}

// Filter scores every evidence item against the transaction and returns the
// ones at or above the minimum score, best first. Equal scores keep input
// order.
func (s *Service) Filter(txn domain.Transaction, items []domain.EvidenceItem) []ScoredEvidence {
	vendorName := domain.NormalizeText(txn.VendorName)
	description := domain.NormalizeText(txn.Description)
	invoice := strings.ToUpper(strings.TrimSpace(txn.InvoiceRef()))
	amount := txn.AmountFloat()

	var passed []ScoredEvidence
	for _, item := range items {
		score, reasons := s.scoreItem(txn, item, vendorName, description, invoice, amount)
		if score >= s.minMatchScore {
			passed = append(passed, ScoredEvidence{Item: item, Score: score, Reasons: reasons})
		}
	}

	sort.SliceStable(passed, func(i, j int) bool {
		return passed[i].Score > passed[j].Score
	})

	s.logger.Debug("rule filter complete",
		zap.String("transaction_id", txn.ID),
		zap.Int("evidence", len(items)),
		zap.Int("passed", len(passed)),
	)
	return passed
}

func (s *Service) scoreItem(
	txn domain.Transaction, item domain.EvidenceItem,
	vendorName, description, invoice string, amount float64,
) (float64, []string) {
	searchable := item.Searchable()
	score := 0.0
	var reasons []string

	if txn.VendorDomain != "" && txn.VendorDomain == item.SenderDomain() {
		score += domainWeight
		reasons = append(reasons, "domain_match")
	}

	if len(vendorName) > minVendorCoreLen {
		core := vendorName
		if i := strings.IndexByte(vendorName, ' '); i >= 0 {
			core = vendorName[:i]
		}
		if len(core) > minVendorCoreLen && strings.Contains(searchable, core) {
			score += vendorWeight
			reasons = append(reasons, "vendor:"+core)
		}
	}

	if len(description) > minDescriptionLen {
		checked := 0
		for _, word := range strings.Fields(description) {
			if len(word) <= minDescriptionWordLen {
				continue
			}
			if strings.Contains(searchable, word) {
				score += descriptionWeight
				reasons = append(reasons, "desc:"+word)
				break
			}
			checked++
			if checked == maxDescriptionWords {
				break
			}
		}
	}

	if len(invoice) > minInvoiceLen {
		if strings.Contains(strings.ToUpper(searchable), invoice) {
			score += invoiceExactWeight
			reasons = append(reasons, "invoice_exact")
		} else if num := invoiceNumericRegex.FindString(invoice); num != "" && strings.Contains(searchable, num) {
			score += invoiceNumberWeight
			reasons = append(reasons, "invoice_num:"+num)
		}
	}

	// First amount near the target decides; later amounts are not examined.
	for _, a := range domain.ExtractAmounts(searchable) {
		diff := math.Abs(a - amount)
		if diff <= amountExactTolerance {
			score += amountExactWeight
			reasons = append(reasons, fmt.Sprintf("amount_exact:$%.2f", a))
			break
		}
		if diff <= amountCloseTolerance {
			score += amountCloseWeight
			reasons = append(reasons, fmt.Sprintf("amount_close:$%.2f", a))
			break
		}
	}

	if !txn.Date.IsZero() && !item.Date.IsZero() {
		// Whole-day difference floors before the sign is dropped: a partial
		// day counts against evidence dated after the transaction.
		days := int(math.Floor(txn.Date.Sub(item.Date).Hours() / 24))
		if days < 0 {
			days = -days
		}
		if days <= s.dateWindowDays {
			score += dateWeight
			reasons = append(reasons, fmt.Sprintf("date_%dd", days))
		}
	}

	return score, reasons
}
