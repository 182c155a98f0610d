package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	logpkg "github.com/ledgerlens/ledgerlens/internal/logger"
	"github.com/ledgerlens/ledgerlens/internal/repository/batchstore"
	"github.com/ledgerlens/ledgerlens/internal/usecase/indexer"
	"github.com/ledgerlens/ledgerlens/internal/usecase/reconcile"
)

// --- Mocks ---

type mockIngester struct {
	result   indexer.IngestResult
	err      error
	gotItems []domain.EvidenceItem
}

func (m *mockIngester) Ingest(_ context.Context, items []domain.EvidenceItem) (indexer.IngestResult, error) {
	m.gotItems = items
	return m.result, m.err
}

type mockSearcher struct {
	candidates []domain.Candidate
	err        error
	gotQuery   domain.Query
	gotTopK    int
}

func (m *mockSearcher) GlobalSearch(_ context.Context, query domain.Query, topK int) ([]domain.Candidate, error) {
	m.gotQuery = query
	m.gotTopK = topK
	return m.candidates, m.err
}

type mockReconciler struct {
	report  reconcile.Report
	err     error
	gotMode string
	gotTxns []domain.Transaction
}

func (m *mockReconciler) ReconcileRules(
	_ context.Context, txns []domain.Transaction, _ []domain.EvidenceItem,
) (reconcile.Report, error) {
	m.gotMode = "rules"
	m.gotTxns = txns
	return m.report, m.err
}

func (m *mockReconciler) ReconcileRetrieval(
	_ context.Context, txns []domain.Transaction,
) (reconcile.Report, error) {
	m.gotMode = "retrieval"
	m.gotTxns = txns
	return m.report, m.err
}

type mockChecker struct{ err error }

func (m *mockChecker) HealthCheck(context.Context) error { return m.err }

// --- Fixtures ---

func newTestRouter(
	ing Ingester, search Searcher, rec Reconciler, checks map[string]domain.HealthChecker,
) http.Handler {
	s := NewServer(ing, search, rec, checks, 3, zap.NewNop())
	r := chi.NewRouter()
	s.Register(r)
	return r
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func invoiceCandidate(ordinal int, score float64) domain.Candidate {
	frag := domain.NewFragment(ordinal, domain.SourceText,
		fmt.Sprintf("Invoice INV-%04d from Acme Corp, total $250.00", ordinal),
		1, "text_extraction",
		domain.Provenance{
			EvidenceID:   "msg-001",
			Sender:       "billing@acme.com",
			DocumentName: "invoice.pdf",
		})
	return domain.Candidate{
		Fragment: frag,
		Score:    score,
		Details:  domain.MatchDetails{AmountMatch: true},
	}
}

// --- Tests ---

func TestIngestEvidence_Created(t *testing.T) {
	ing := &mockIngester{result: indexer.IngestResult{
		Batches: []batchstore.Manifest{
			{BatchID: 1, Chunks: 12},
			{BatchID: 2, Chunks: 0},
		},
		Fragments: 12,
	}}
	handler := newTestRouter(ing, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/evidence", IngestRequest{
		Items: []EvidencePayload{
			{ID: "msg-001", Sender: "billing@acme.com", Subject: "Invoice", Date: "2024-03-05"},
			{ID: "msg-002", Sender: "noreply@other.com"},
		},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var resp IngestResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Fragments != 12 {
		t.Errorf("fragments: got %d, want 12", resp.Fragments)
	}
	if len(resp.Batches) != 2 {
		t.Fatalf("batches: got %d, want 2", len(resp.Batches))
	}
	if !resp.Batches[1].Empty {
		t.Error("batch 2 should be marked empty")
	}

	if len(ing.gotItems) != 2 {
		t.Fatalf("ingested items: got %d, want 2", len(ing.gotItems))
	}
	if ing.gotItems[0].Date.IsZero() {
		t.Error("item date should be parsed")
	}
}

func TestIngestEvidence_NoItems_400(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/evidence", IngestRequest{})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeValidationFailed {
		t.Errorf("code: got %s, want %s", resp.Code, CodeValidationFailed)
	}
}

func TestIngestEvidence_GeneratesMissingIDs(t *testing.T) {
	ing := &mockIngester{}
	handler := newTestRouter(ing, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/evidence", IngestRequest{
		Items: []EvidencePayload{{Sender: "billing@acme.com"}},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusCreated)
	}
	if len(ing.gotItems) != 1 || ing.gotItems[0].ID == "" {
		t.Errorf("item without id should get a generated one: %+v", ing.gotItems)
	}
}

func TestIngestEvidence_AttachmentNeedsFilename_400(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/evidence", IngestRequest{
		Items: []EvidencePayload{{ID: "msg-001", Attachments: []AttachmentPayload{{Data: []byte("x")}}}},
	})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeValidationFailed {
		t.Errorf("code: got %s, want %s", resp.Code, CodeValidationFailed)
	}
}

func TestIngestEvidence_ProviderFailure_502(t *testing.T) {
	ing := &mockIngester{err: fmt.Errorf("embed batch: %w", domain.ErrEmbeddingProviderError)}
	handler := newTestRouter(ing, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/evidence", IngestRequest{
		Items: []EvidencePayload{{ID: "msg-001"}},
	})

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if resp := decodeError(t, rr); resp.Code != CodeEmbeddingProviderError {
		t.Errorf("code: got %s, want %s", resp.Code, CodeEmbeddingProviderError)
	}
}

func TestSearchEvidence_OK(t *testing.T) {
	search := &mockSearcher{candidates: []domain.Candidate{invoiceCandidate(0, 2.8)}}
	handler := newTestRouter(&mockIngester{}, search, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/search", SearchRequest{
		Query: map[string]string{"vendor": "Acme Corp", "amount": "250.00"},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp SearchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Items) != 1 {
		t.Fatalf("total: got %d items %d, want 1", resp.Total, len(resp.Items))
	}
	item := resp.Items[0]
	if item.DocumentName != "invoice.pdf" || item.EvidenceID != "msg-001" {
		t.Errorf("provenance: got %s/%s", item.DocumentName, item.EvidenceID)
	}
	if !item.AmountMatch {
		t.Error("amount match flag should survive the round trip")
	}
	if item.Score != 2.8 {
		t.Errorf("score: got %v, want 2.8", item.Score)
	}

	if search.gotTopK != 3 {
		t.Errorf("default top_k: got %d, want 3", search.gotTopK)
	}
	if !search.gotQuery.HasAmount || search.gotQuery.Amount != 250 {
		t.Errorf("query amount: got %v (has %v)", search.gotQuery.Amount, search.gotQuery.HasAmount)
	}
}

func TestSearchEvidence_TopKBounds(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	for _, topK := range []int{0, -1, maxTopK + 1} {
		rr := postJSON(t, handler, "/api/v1/search", SearchRequest{
			Query: map[string]string{"vendor": "Acme"},
			TopK:  &topK,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("top_k %d: got %d, want %d", topK, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestSearchEvidence_EmptyQuery_400(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/search", SearchRequest{})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestReconcile_RulesMode(t *testing.T) {
	rec := &mockReconciler{report: reconcile.Report{
		Digest: []domain.DigestEntry{{TransactionID: "TXN-001", MatchScore: 85}},
	}}
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, rec, nil)

	rr := postJSON(t, handler, "/api/v1/reconcile", ReconcileRequest{
		Mode: "rules",
		Transactions: []map[string]string{
			{"id": "TXN-001", "amount": "250.00", "vendor": "Acme Corp"},
		},
		Evidence: []EvidencePayload{{ID: "msg-001", Sender: "billing@acme.com"}},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if rec.gotMode != "rules" {
		t.Errorf("mode: got %s, want rules", rec.gotMode)
	}
	if len(rec.gotTxns) != 1 || rec.gotTxns[0].ID != "TXN-001" {
		t.Fatalf("transactions not normalized: %+v", rec.gotTxns)
	}

	var report reconcile.Report
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Digest) != 1 || report.Digest[0].TransactionID != "TXN-001" {
		t.Errorf("digest: %+v", report.Digest)
	}
}

func TestReconcile_DefaultsToRulesMode(t *testing.T) {
	rec := &mockReconciler{}
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, rec, nil)

	rr := postJSON(t, handler, "/api/v1/reconcile", ReconcileRequest{
		Transactions: []map[string]string{{"id": "TXN-001", "amount": "10"}},
		Evidence:     []EvidencePayload{{ID: "msg-001"}},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if rec.gotMode != "rules" {
		t.Errorf("mode: got %s, want rules", rec.gotMode)
	}
}

func TestReconcile_RulesMode_RequiresEvidence(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/reconcile", ReconcileRequest{
		Mode:         "rules",
		Transactions: []map[string]string{{"id": "TXN-001", "amount": "10"}},
	})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeValidationFailed {
		t.Errorf("code: got %s, want %s", resp.Code, CodeValidationFailed)
	}
}

func TestReconcile_RetrievalMode(t *testing.T) {
	rec := &mockReconciler{}
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, rec, nil)

	rr := postJSON(t, handler, "/api/v1/reconcile", ReconcileRequest{
		Mode:         "retrieval",
		Transactions: []map[string]string{{"id": "TXN-001", "amount": "10"}},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if rec.gotMode != "retrieval" {
		t.Errorf("mode: got %s, want retrieval", rec.gotMode)
	}
}

func TestReconcile_UnknownMode_400(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/reconcile", ReconcileRequest{
		Mode:         "hybrid",
		Transactions: []map[string]string{{"id": "TXN-001", "amount": "10"}},
	})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestReconcile_InvalidTransaction_400(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	rr := postJSON(t, handler, "/api/v1/reconcile", ReconcileRequest{
		Mode:         "retrieval",
		Transactions: []map[string]string{{"amount": "10"}},
	})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeInvalidTransaction {
		t.Errorf("code: got %s, want %s", resp.Code, CodeInvalidTransaction)
	}
}

func TestReconcile_ScoringFailure_502(t *testing.T) {
	rec := &mockReconciler{err: fmt.Errorf("score: %w", domain.ErrScoringProviderError)}
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, rec, nil)

	rr := postJSON(t, handler, "/api/v1/reconcile", ReconcileRequest{
		Mode:         "rules",
		Transactions: []map[string]string{{"id": "TXN-001", "amount": "10"}},
		Evidence:     []EvidencePayload{{ID: "msg-001"}},
	})

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if resp := decodeError(t, rr); resp.Code != CodeScoringProviderError {
		t.Errorf("code: got %s, want %s", resp.Code, CodeScoringProviderError)
	}
}

func TestImportTransactions_CSV(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	csvBody := "Transaction_ID,Date,Amount,Vendor,Memo\n" +
		"TXN-001,2024-03-05,\"$1,299.99\",Acme Corp,Office supplies\n"
	req := httptest.NewRequest("POST", "/api/v1/transactions/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp ImportResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("total: got %d, want 1", resp.Total)
	}
	got := resp.Transactions[0]
	if got.ID != "TXN-001" || got.Amount != "1299.99" || got.VendorName != "Acme Corp" {
		t.Errorf("normalized transaction: %+v", got)
	}
}

func TestImportTransactions_BadRow_400(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	csvBody := "Transaction_ID,Amount\nTXN-001,10.00\n,20.00\n"
	req := httptest.NewRequest("POST", "/api/v1/transactions/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	resp := decodeError(t, rr)
	if resp.Code != CodeInvalidTransaction {
		t.Errorf("code: got %s, want %s", resp.Code, CodeInvalidTransaction)
	}
	if !strings.Contains(resp.Message, "row 3") {
		t.Errorf("message should name the failing row: %s", resp.Message)
	}
}

func TestImportTransactions_WrongContentType_415(t *testing.T) {
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/transactions/import", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusUnsupportedMediaType)
	}
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	checks := map[string]domain.HealthChecker{
		"embedding": &mockChecker{},
		"scoring":   &mockChecker{},
	}
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, checks)

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status: got %s, want healthy", resp.Status)
	}
	if resp.Checks["embedding"] != "ok" || resp.Checks["scoring"] != "ok" {
		t.Errorf("checks: %+v", resp.Checks)
	}
}

func TestHealthCheck_DependencyDown_503(t *testing.T) {
	checks := map[string]domain.HealthChecker{
		"embedding": &mockChecker{},
		"scoring":   &mockChecker{err: errors.New("connection refused")},
	}
	handler := newTestRouter(&mockIngester{}, &mockSearcher{}, &mockReconciler{}, checks)

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status: got %s, want unhealthy", resp.Status)
	}
	if resp.Checks["scoring"] != "connection refused" {
		t.Errorf("failing check should carry the error: %+v", resp.Checks)
	}
}

func TestDomainError_LogsThroughRequestLogger(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	ing := &mockIngester{err: fmt.Errorf("embed: %w", domain.ErrEmbeddingProviderError)}
	s := NewServer(ing, &mockSearcher{}, &mockReconciler{}, nil, 3, zap.NewNop())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logpkg.ContextWithLogger(req.Context(), zap.New(core))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	s.Register(r)

	rr := postJSON(t, r, "/api/v1/evidence", IngestRequest{
		Items: []EvidencePayload{{ID: "msg-001", Sender: "billing@acme.com", Subject: "Invoice"}},
	})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if observed.FilterMessage("domain error").Len() != 1 {
		t.Errorf("expected the domain error on the request logger, got %d entries", observed.Len())
	}
}
