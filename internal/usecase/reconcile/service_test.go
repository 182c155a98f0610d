package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/usecase/llmscore"
	"github.com/ledgerlens/ledgerlens/internal/usecase/rulefilter"
)

// --- Mocks ---

type mockFilter struct {
	results map[string][]rulefilter.ScoredEvidence // txn id -> filtered
}

func (m *mockFilter) Filter(txn domain.Transaction, _ []domain.EvidenceItem) []rulefilter.ScoredEvidence {
	return m.results[txn.ID]
}

type mockScorer struct {
	scores map[string]int   // txn id -> best score
	errs   map[string]error // txn id -> scoring failure
	err    error
}

func (m *mockScorer) Best(_ context.Context, txn domain.Transaction, items []domain.EvidenceItem) (llmscore.BestMatch, bool, error) {
	if m.err != nil {
		return llmscore.BestMatch{}, false, m.err
	}
	if err := m.errs[txn.ID]; err != nil {
		return llmscore.BestMatch{}, false, err
	}
	score, ok := m.scores[txn.ID]
	if !ok || score == 0 {
		return llmscore.BestMatch{}, false, nil
	}
	return llmscore.BestMatch{
		Evidence: items[0],
		Result:   domain.MatchResult{Score: score, Reason: "model verdict"},
	}, true, nil
}

type mockRetriever struct {
	candidates []domain.Candidate
	errs       map[string]error // invoice reference -> search failure
	err        error
}

func (m *mockRetriever) GlobalSearch(_ context.Context, q domain.Query, _ int) ([]domain.Candidate, error) {
	if m.err != nil {
		return nil, m.err
	}
	if err := m.errs[q.InvoiceNumber()]; err != nil {
		return nil, err
	}
	return m.candidates, nil
}

// --- Fixtures ---

func txn(id string) domain.Transaction {
	return domain.Transaction{ID: id, Amount: decimal.NewFromFloat(250), VendorName: "Acme"}
}

func scored(id string) []rulefilter.ScoredEvidence {
	return []rulefilter.ScoredEvidence{
		{Item: domain.EvidenceItem{ID: id, Sender: "billing@acme.com", Subject: "Invoice"}, Score: 5},
	}
}

func candidate(score float64, amountMatch bool) domain.Candidate {
	return domain.Candidate{
		Fragment: domain.NewFragment(0, domain.SourceText, "acme invoice content", 1, "text_extraction",
			domain.Provenance{EvidenceID: "msg-1", DocumentName: "invoice.pdf"}),
		Score:   score,
		Details: domain.MatchDetails{AmountMatch: amountMatch},
	}
}

func newService(f Filter, sc Scorer, r Retriever) *Service {
	return New(f, sc, r, Config{LLMThreshold: 60, RetrievalThreshold: 0.5}, zap.NewNop())
}

// --- Rules path ---

func TestReconcileRules_EveryTransactionCoveredOnce(t *testing.T) {
	filter := &mockFilter{results: map[string][]rulefilter.ScoredEvidence{
		"T-1": scored("m-1"),
		"T-3": scored("m-3"),
	}}
	scorer := &mockScorer{scores: map[string]int{"T-1": 80, "T-3": 30}}
	svc := newService(filter, scorer, &mockRetriever{})

	txns := []domain.Transaction{txn("T-1"), txn("T-2"), txn("T-3")}
	report, err := svc.ReconcileRules(context.Background(), txns, nil)
	if err != nil {
		t.Fatalf("ReconcileRules: %v", err)
	}

	if got := len(report.Digest) + len(report.Exceptions); got != len(txns) {
		t.Fatalf("rows = %d, want %d", got, len(txns))
	}
	covered := map[string]int{}
	for _, d := range report.Digest {
		covered[d.TransactionID]++
	}
	for _, e := range report.Exceptions {
		covered[e.TransactionID]++
	}
	for _, tx := range txns {
		if covered[tx.ID] != 1 {
			t.Errorf("transaction %s covered %d times", tx.ID, covered[tx.ID])
		}
	}
}

func TestReconcileRules_ThresholdInclusive(t *testing.T) {
	filter := &mockFilter{results: map[string][]rulefilter.ScoredEvidence{"T-1": scored("m-1")}}
	scorer := &mockScorer{scores: map[string]int{"T-1": 60}}
	svc := newService(filter, scorer, &mockRetriever{})

	report, err := svc.ReconcileRules(context.Background(), []domain.Transaction{txn("T-1")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Exactly at threshold passes.
	if len(report.Digest) != 1 {
		t.Fatalf("digest = %d, want 1 (score 60 meets threshold 60)", len(report.Digest))
	}
	if report.Digest[0].MatchScore != 60 {
		t.Errorf("match score = %v", report.Digest[0].MatchScore)
	}
}

func TestReconcileRules_BelowThresholdIsException(t *testing.T) {
	filter := &mockFilter{results: map[string][]rulefilter.ScoredEvidence{"T-1": scored("m-1")}}
	scorer := &mockScorer{scores: map[string]int{"T-1": 59}}
	svc := newService(filter, scorer, &mockRetriever{})

	report, err := svc.ReconcileRules(context.Background(), []domain.Transaction{txn("T-1")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Exceptions) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(report.Exceptions))
	}
	e := report.Exceptions[0]
	if e.BestScore != 59 || !e.HasCandidate {
		t.Errorf("exception = %+v", e)
	}
}

func TestReconcileRules_NoFilteredEvidence(t *testing.T) {
	svc := newService(&mockFilter{}, &mockScorer{}, &mockRetriever{})

	report, err := svc.ReconcileRules(context.Background(), []domain.Transaction{txn("T-1")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Exceptions) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(report.Exceptions))
	}
	e := report.Exceptions[0]
	if e.HasCandidate {
		t.Error("no-evidence exception should not claim a candidate")
	}
	if e.Reason != "No evidence matched filter criteria" {
		t.Errorf("reason = %q", e.Reason)
	}
}

func TestReconcileRules_ScorerFailureIsolatedToTransaction(t *testing.T) {
	filter := &mockFilter{results: map[string][]rulefilter.ScoredEvidence{
		"T-1": scored("m-1"),
		"T-2": scored("m-2"),
	}}
	scorer := &mockScorer{
		scores: map[string]int{"T-2": 90},
		errs:   map[string]error{"T-1": errors.New("provider down")},
	}
	svc := newService(filter, scorer, &mockRetriever{})

	report, err := svc.ReconcileRules(context.Background(),
		[]domain.Transaction{txn("T-1"), txn("T-2")}, nil)
	if err != nil {
		t.Fatalf("ReconcileRules: %v", err)
	}
	if len(report.Digest) != 1 || report.Digest[0].TransactionID != "T-2" {
		t.Fatalf("digest = %+v, want T-2 resolved despite the sibling failure", report.Digest)
	}
	if len(report.Exceptions) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(report.Exceptions))
	}
	e := report.Exceptions[0]
	if e.TransactionID != "T-1" || e.HasCandidate {
		t.Errorf("exception = %+v", e)
	}
	if !strings.Contains(e.Reason, "provider down") {
		t.Errorf("reason = %q, want the provider error carried", e.Reason)
	}
}

func TestReconcileRules_CancellationAborts(t *testing.T) {
	filter := &mockFilter{results: map[string][]rulefilter.ScoredEvidence{"T-1": scored("m-1")}}
	svc := newService(filter, &mockScorer{err: context.Canceled}, &mockRetriever{})

	_, err := svc.ReconcileRules(context.Background(), []domain.Transaction{txn("T-1")}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReconcileRules_PreservesInputOrder(t *testing.T) {
	filter := &mockFilter{results: map[string][]rulefilter.ScoredEvidence{
		"T-1": scored("m-1"), "T-2": scored("m-2"), "T-3": scored("m-3"),
	}}
	scorer := &mockScorer{scores: map[string]int{"T-1": 90, "T-2": 90, "T-3": 90}}
	svc := newService(filter, scorer, &mockRetriever{})

	txns := []domain.Transaction{txn("T-1"), txn("T-2"), txn("T-3")}
	report, err := svc.ReconcileRules(context.Background(), txns, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"T-1", "T-2", "T-3"} {
		if report.Digest[i].TransactionID != want {
			t.Errorf("digest[%d] = %s, want %s", i, report.Digest[i].TransactionID, want)
		}
	}
}

// --- Retrieval path ---

func TestReconcileRetrieval_MatchAboveThreshold(t *testing.T) {
	retriever := &mockRetriever{candidates: []domain.Candidate{candidate(2.8, true)}}
	svc := newService(&mockFilter{}, &mockScorer{}, retriever)

	report, err := svc.ReconcileRetrieval(context.Background(), []domain.Transaction{txn("T-1")})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Digest) != 1 {
		t.Fatalf("digest = %d, want 1", len(report.Digest))
	}
	d := report.Digest[0]
	if d.DocumentName != "invoice.pdf" || d.EvidenceID != "msg-1" {
		t.Errorf("digest = %+v", d)
	}
	if d.MatchReason != "matched amount" {
		t.Errorf("match reason = %q", d.MatchReason)
	}
}

func TestReconcileRetrieval_NoResults(t *testing.T) {
	svc := newService(&mockFilter{}, &mockScorer{}, &mockRetriever{})

	report, err := svc.ReconcileRetrieval(context.Background(), []domain.Transaction{txn("T-1")})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Exceptions) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(report.Exceptions))
	}
	if report.Exceptions[0].Reason != "No evidence found in indexed batches" {
		t.Errorf("reason = %q", report.Exceptions[0].Reason)
	}
}

func TestReconcileRetrieval_BelowThreshold(t *testing.T) {
	retriever := &mockRetriever{candidates: []domain.Candidate{candidate(0.3, false)}}
	svc := newService(&mockFilter{}, &mockScorer{}, retriever)

	report, err := svc.ReconcileRetrieval(context.Background(), []domain.Transaction{txn("T-1")})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Exceptions) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(report.Exceptions))
	}
	if report.Exceptions[0].BestScore != 0.3 {
		t.Errorf("best score = %v", report.Exceptions[0].BestScore)
	}
}

func TestReconcileRetrieval_ThresholdInclusive(t *testing.T) {
	retriever := &mockRetriever{candidates: []domain.Candidate{candidate(0.5, false)}}
	svc := newService(&mockFilter{}, &mockScorer{}, retriever)

	report, err := svc.ReconcileRetrieval(context.Background(), []domain.Transaction{txn("T-1")})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Digest) != 1 {
		t.Errorf("digest = %d, want 1 (score 0.5 meets threshold 0.5)", len(report.Digest))
	}
}

func TestReconcileRetrieval_SearchFailureIsolatedToTransaction(t *testing.T) {
	retriever := &mockRetriever{
		candidates: []domain.Candidate{candidate(2.8, true)},
		errs:       map[string]error{"T-1": errors.New("store unreadable")},
	}
	svc := newService(&mockFilter{}, &mockScorer{}, retriever)

	report, err := svc.ReconcileRetrieval(context.Background(),
		[]domain.Transaction{txn("T-1"), txn("T-2")})
	if err != nil {
		t.Fatalf("ReconcileRetrieval: %v", err)
	}
	if len(report.Digest) != 1 || report.Digest[0].TransactionID != "T-2" {
		t.Fatalf("digest = %+v, want T-2 resolved despite the sibling failure", report.Digest)
	}
	if len(report.Exceptions) != 1 {
		t.Fatalf("exceptions = %d, want 1", len(report.Exceptions))
	}
	e := report.Exceptions[0]
	if e.TransactionID != "T-1" || e.HasCandidate {
		t.Errorf("exception = %+v", e)
	}
	if !strings.Contains(e.Reason, "store unreadable") {
		t.Errorf("reason = %q, want the search error carried", e.Reason)
	}
}

func TestReconcileRetrieval_CancellationAborts(t *testing.T) {
	svc := newService(&mockFilter{}, &mockScorer{}, &mockRetriever{err: context.DeadlineExceeded})

	_, err := svc.ReconcileRetrieval(context.Background(), []domain.Transaction{txn("T-1")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}
