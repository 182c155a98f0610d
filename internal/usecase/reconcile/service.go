// Package reconcile orchestrates the two reconciliation paths and
// classifies every transaction into exactly one digest or exception row.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/metrics"
)

// Config tunes classification thresholds and per-transaction parallelism.
type Config struct {
	// LLMThreshold is the minimum 0-100 model score for the rules path.
	LLMThreshold int
	// RetrievalThreshold is the minimum effective score for the retrieval path.
	RetrievalThreshold float64
	// GlobalTopK bounds retrieval results per transaction.
	GlobalTopK int
	// Workers bounds transactions processed concurrently.
	Workers int
}

// Service reconciles transactions against evidence. Every transaction ends
// in exactly one report row: a digest entry when a match clears the path's
// threshold, an exception entry otherwise.
type Service struct {
	filter    Filter
	scorer    Scorer
	retriever Retriever
	cfg       Config
	logger    *zap.Logger
}

// New creates a reconciliation service.
func New(filter Filter, scorer Scorer, retriever Retriever, cfg Config, logger *zap.Logger) *Service {
	if cfg.LLMThreshold <= 0 {
		cfg.LLMThreshold = 60
	}
	if cfg.RetrievalThreshold <= 0 {
		cfg.RetrievalThreshold = 0.5
	}
	if cfg.GlobalTopK <= 0 {
		cfg.GlobalTopK = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Service{
		filter:    filter,
		scorer:    scorer,
		retriever: retriever,
		cfg:       cfg,
		logger:    logger,
	}
}

// Report is the outcome of one reconciliation run. Digest and Exceptions
// together cover the input transactions exactly once, in input order.
type Report struct {
	Digest     []domain.DigestEntry    `json:"digest"`
	Exceptions []domain.ExceptionEntry `json:"exceptions"`
}

// rowSink collects report rows from concurrent workers, preserving the
// transaction input order on flush.
type rowSink struct {
	mu         sync.Mutex
	digests    map[int]domain.DigestEntry
	exceptions map[int]domain.ExceptionEntry
}

func newRowSink() *rowSink {
	return &rowSink{
		digests:    make(map[int]domain.DigestEntry),
		exceptions: make(map[int]domain.ExceptionEntry),
	}
}

func (r *rowSink) digest(i int, e domain.DigestEntry) {
	r.mu.Lock()
	r.digests[i] = e
	r.mu.Unlock()
}

func (r *rowSink) exception(i int, e domain.ExceptionEntry) {
	r.mu.Lock()
	r.exceptions[i] = e
	r.mu.Unlock()
}

func (r *rowSink) report(n int) Report {
	var report Report
	for i := 0; i < n; i++ {
		if e, ok := r.digests[i]; ok {
			report.Digest = append(report.Digest, e)
		}
		if e, ok := r.exceptions[i]; ok {
			report.Exceptions = append(report.Exceptions, e)
		}
	}
	return report
}

// ReconcileRules runs the rule-filter + model-scoring path over raw
// evidence items.
func (s *Service) ReconcileRules(ctx context.Context, txns []domain.Transaction, items []domain.EvidenceItem) (Report, error) {
	sink := newRowSink()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, txn := range txns {
		g.Go(func() error {
			return s.resolveByRules(gctx, i, txn, items, sink)
		})
	}
	if err := g.Wait(); err != nil {
		// Rows resolved before the failure stay in the report.
		return sink.report(len(txns)), err
	}

	report := sink.report(len(txns))
	s.logger.Info("rules reconciliation complete",
		zap.Int("transactions", len(txns)),
		zap.Int("matched", len(report.Digest)),
		zap.Int("exceptions", len(report.Exceptions)),
	)
	return report, nil
}

func (s *Service) resolveByRules(ctx context.Context, i int, txn domain.Transaction, items []domain.EvidenceItem, sink *rowSink) error {
	filtered := s.filter.Filter(txn, items)
	if len(filtered) == 0 {
		sink.exception(i, exceptionEntry(txn, 0, false, "No evidence matched filter criteria"))
		metrics.TransactionsResolvedTotal.WithLabelValues("rules", "exception").Inc()
		return nil
	}

	candidates := make([]domain.EvidenceItem, len(filtered))
	for j, se := range filtered {
		candidates[j] = se.Item
	}

	best, ok, err := s.scorer.Best(ctx, txn, candidates)
	if err != nil {
		if isCancellation(err) {
			return fmt.Errorf("transaction %s: %w", txn.ID, err)
		}
		// A provider failure on one transaction must not stop the siblings.
		s.logger.Warn("model scoring failed",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
		sink.exception(i, exceptionEntry(txn, 0, false, fmt.Sprintf("Match scoring failed: %v", err)))
		metrics.TransactionsResolvedTotal.WithLabelValues("rules", "exception").Inc()
		return nil
	}

	if ok && best.Result.Score >= s.cfg.LLMThreshold {
		sink.digest(i, domain.DigestEntry{
			TransactionID:   txn.ID,
			TransactionDate: txn.RawDate,
			Amount:          txn.Amount.String(),
			VendorName:      txn.VendorName,
			Description:     txn.Description,
			EvidenceID:      best.Evidence.ID,
			EvidenceSender:  best.Evidence.Sender,
			DocumentName:    best.Evidence.Subject,
			MatchScore:      float64(best.Result.Score),
			MatchReason:     best.Result.Reason,
			ContentPreview:  domain.Preview(best.Evidence.BodyOrSnippet()),
		})
		metrics.TransactionsResolvedTotal.WithLabelValues("rules", "digest").Inc()
		return nil
	}

	reason := "No confident match after model scoring"
	bestScore := 0.0
	if ok {
		bestScore = float64(best.Result.Score)
		reason = fmt.Sprintf("Best match score %.1f below threshold %d", bestScore, s.cfg.LLMThreshold)
	}
	sink.exception(i, exceptionEntry(txn, bestScore, ok, reason))
	metrics.TransactionsResolvedTotal.WithLabelValues("rules", "exception").Inc()
	return nil
}

// ReconcileRetrieval runs the hybrid-retrieval path over the persisted
// batch indices.
func (s *Service) ReconcileRetrieval(ctx context.Context, txns []domain.Transaction) (Report, error) {
	sink := newRowSink()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, txn := range txns {
		g.Go(func() error {
			return s.resolveByRetrieval(gctx, i, txn, sink)
		})
	}
	if err := g.Wait(); err != nil {
		// Rows resolved before the failure stay in the report.
		return sink.report(len(txns)), err
	}

	report := sink.report(len(txns))
	s.logger.Info("retrieval reconciliation complete",
		zap.Int("transactions", len(txns)),
		zap.Int("matched", len(report.Digest)),
		zap.Int("exceptions", len(report.Exceptions)),
	)
	return report, nil
}

func (s *Service) resolveByRetrieval(ctx context.Context, i int, txn domain.Transaction, sink *rowSink) error {
	query := domain.QueryFromTransaction(txn)
	candidates, err := s.retriever.GlobalSearch(ctx, query, s.cfg.GlobalTopK)
	if err != nil {
		if isCancellation(err) {
			return fmt.Errorf("transaction %s: %w", txn.ID, err)
		}
		// A provider failure on one transaction must not stop the siblings.
		s.logger.Warn("evidence retrieval failed",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
		sink.exception(i, exceptionEntry(txn, 0, false, fmt.Sprintf("Evidence retrieval failed: %v", err)))
		metrics.TransactionsResolvedTotal.WithLabelValues("retrieval", "exception").Inc()
		return nil
	}

	if len(candidates) == 0 {
		sink.exception(i, exceptionEntry(txn, 0, false, "No evidence found in indexed batches"))
		metrics.TransactionsResolvedTotal.WithLabelValues("retrieval", "exception").Inc()
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.EffectiveScore() > best.EffectiveScore() {
			best = c
		}
	}

	score := best.EffectiveScore()
	if score >= s.cfg.RetrievalThreshold {
		prov := best.Fragment.Provenance()
		sink.digest(i, domain.DigestEntry{
			TransactionID:   txn.ID,
			TransactionDate: txn.RawDate,
			Amount:          txn.Amount.String(),
			VendorName:      txn.VendorName,
			Description:     txn.Description,
			EvidenceID:      prov.EvidenceID,
			EvidenceSender:  prov.Sender,
			DocumentName:    prov.DocumentName,
			PageNumber:      best.Fragment.PageNumber(),
			MatchScore:      score,
			MatchReason:     matchReason(best.Details),
			ContentPreview:  domain.Preview(best.Fragment.Content()),
		})
		metrics.TransactionsResolvedTotal.WithLabelValues("retrieval", "digest").Inc()
		return nil
	}

	reason := fmt.Sprintf("Best retrieval score %.2f below threshold %.2f", score, s.cfg.RetrievalThreshold)
	sink.exception(i, exceptionEntry(txn, score, true, reason))
	metrics.TransactionsResolvedTotal.WithLabelValues("retrieval", "exception").Inc()
	return nil
}

// isCancellation reports whether err stems from the run being stopped
// rather than a provider failing on one transaction.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func exceptionEntry(txn domain.Transaction, bestScore float64, hasCandidate bool, reason string) domain.ExceptionEntry {
	return domain.ExceptionEntry{
		TransactionID:   txn.ID,
		TransactionDate: txn.RawDate,
		Amount:          txn.Amount.String(),
		VendorName:      txn.VendorName,
		Description:     txn.Description,
		BestScore:       bestScore,
		HasCandidate:    hasCandidate,
		Reason:          reason,
	}
}

// matchReason summarizes which structured fields backed a retrieval match.
func matchReason(d domain.MatchDetails) string {
	var fields []string
	if d.AmountMatch {
		fields = append(fields, "amount")
	}
	if d.VendorMatch {
		fields = append(fields, "vendor")
	}
	if d.DateMatch {
		fields = append(fields, "date")
	}
	if d.InvoiceMatch {
		fields = append(fields, "invoice")
	}
	if len(fields) == 0 {
		return "semantic similarity"
	}
	reason := "matched " + fields[0]
	for _, f := range fields[1:] {
		reason += ", " + f
	}
	return reason
}
