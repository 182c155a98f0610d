package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/importer"
	logpkg "github.com/ledgerlens/ledgerlens/internal/logger"
)

const (
	// maxIngestItems bounds one ingestion request.
	maxIngestItems = 1000
	// maxTopK bounds one search request.
	maxTopK = 50
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the reconciliation pipeline over HTTP.
type Server struct {
	ingester      Ingester
	searcher      Searcher
	reconciler    Reconciler
	parser        *importer.CSVParser
	checks        map[string]domain.HealthChecker
	defaultTopK   int
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. checks maps probe names to the
// external providers reported by GET /health.
func NewServer(
	ingester Ingester,
	searcher Searcher,
	reconciler Reconciler,
	checks map[string]domain.HealthChecker,
	defaultTopK int,
	logger *zap.Logger,
) *Server {
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	s := &Server{
		ingester:    ingester,
		searcher:    searcher,
		reconciler:  reconciler,
		parser:      &importer.CSVParser{},
		checks:      checks,
		defaultTopK: defaultTopK,
		logger:      logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidTransaction, http.StatusBadRequest, CodeInvalidTransaction),
		sentinelHandler(domain.ErrBatchNotFound, http.StatusNotFound, CodeBatchNotFound),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrScoringProviderError, http.StatusBadGateway, CodeScoringProviderError),
	}
	return s
}

// Register mounts all API routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/api/v1/evidence", s.IngestEvidence)
	r.Post("/api/v1/search", s.SearchEvidence)
	r.Post("/api/v1/reconcile", s.Reconcile)
	r.Post("/api/v1/transactions/import", s.ImportTransactions)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// IngestEvidence handles POST /api/v1/evidence.
func (s *Server) IngestEvidence(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Items) == 0 || len(req.Items) > maxIngestItems {
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			fmt.Sprintf("items count must be between 1 and %d", maxIngestItems))
		return
	}

	items, err := evidenceFromPayloads(req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	result, err := s.ingester.Ingest(r.Context(), items)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponseFrom(result.Batches, result.Fragments))
}

// SearchEvidence handles POST /api/v1/search.
func (s *Server) SearchEvidence(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Query) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "query is required")
		return
	}

	topK := s.defaultTopK
	if req.TopK != nil {
		if *req.TopK <= 0 || *req.TopK > maxTopK {
			writeError(w, http.StatusBadRequest, CodeValidationFailed,
				fmt.Sprintf("top_k must be between 1 and %d", maxTopK))
			return
		}
		topK = *req.TopK
	}

	query := domain.QueryFromRecord(req.Query)
	candidates, err := s.searcher.GlobalSearch(r.Context(), query, topK)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]SearchResultItem, len(candidates))
	for i, c := range candidates {
		items[i] = candidateToResult(c)
	}

	writeJSON(w, http.StatusOK, SearchResponse{Items: items, Total: len(items)})
}

// Reconcile handles POST /api/v1/reconcile.
func (s *Server) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "transactions are required")
		return
	}

	txns, err := importer.ParseRecords(req.Transactions)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	switch req.Mode {
	case "", "rules":
		if len(req.Evidence) == 0 {
			writeError(w, http.StatusBadRequest, CodeValidationFailed,
				"evidence is required in rules mode")
			return
		}
		items, err := evidenceFromPayloads(req.Evidence)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
			return
		}
		report, err := s.reconciler.ReconcileRules(r.Context(), txns, items)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "retrieval":
		report, err := s.reconciler.ReconcileRetrieval(r.Context(), txns)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			fmt.Sprintf("unknown mode %q, expected rules or retrieval", req.Mode))
	}
}

// ImportTransactions handles POST /api/v1/transactions/import. The body is
// a raw CSV document; the response carries the normalized records so the
// caller can inspect what reconciliation would operate on.
func (s *Server) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/csv") {
		writeError(w, http.StatusUnsupportedMediaType, CodeBadRequest,
			fmt.Sprintf("unsupported content type %q, expected text/csv", ct))
		return
	}

	txns, err := s.parser.Parse(r.Body)
	if err != nil {
		// Import errors carry row numbers worth surfacing to the caller.
		code := CodeBadRequest
		if errors.Is(err, domain.ErrInvalidTransaction) {
			code = CodeInvalidTransaction
		}
		writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}

	payloads := make([]TransactionPayload, len(txns))
	for i, t := range txns {
		payloads[i] = transactionToPayload(t)
	}

	writeJSON(w, http.StatusOK, ImportResponse{Transactions: payloads, Total: len(payloads)})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string, len(s.checks))
	for name, checker := range s.checks {
		if err := checker.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			status = "unhealthy"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	httpStatus := http.StatusOK
	if status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{Status: status, Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidTransaction,
		domain.ErrBatchNotFound,
		domain.ErrEmbeddingProviderError,
		domain.ErrScoringProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// handleDomainError logs through the request-scoped logger so the entry
// carries the request id attached by the middleware.
func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContext(r.Context())
	logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
