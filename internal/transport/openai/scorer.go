package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
	"github.com/ledgerlens/ledgerlens/internal/metrics"
)

const bodyPreviewLen = 2000

// Scorer judges (transaction, evidence) pairs with a chat model. Transport
// failures are returned as errors wrapped with ErrScoringProviderError;
// malformed model output degrades to a zero-score result instead.
type Scorer struct {
	client   *openai.Client
	model    string
	provider string
	breaker  *gobreaker.CircuitBreaker[openai.ChatCompletionResponse]
	logger   *zap.Logger
}

// ScorerConfig holds the scoring provider settings.
type ScorerConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Provider       string
	BreakerEnabled bool
	Logger         *zap.Logger
}

// NewScorer creates an OpenAI-compatible match scorer.
func NewScorer(cfg *ScorerConfig) *Scorer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	s := &Scorer{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		provider: cfg.Provider,
		logger:   cfg.Logger,
	}

	if cfg.BreakerEnabled {
		s.breaker = gobreaker.NewCircuitBreaker[openai.ChatCompletionResponse](gobreaker.Settings{
			Name:    "match-scoring",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 5 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				cfg.Logger.Warn("circuit breaker state change",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return s
}

// Score implements domain.MatchScorer.
func (s *Scorer) Score(ctx context.Context, txn domain.Transaction, evidence domain.EvidenceItem) (domain.MatchResult, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: scoringPrompt(txn, evidence)},
		},
		Temperature: 0,
	}

	start := time.Now()
	resp, err := s.complete(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ScoringRequestsTotal.WithLabelValues(s.provider, s.model, "error").Inc()
		return domain.MatchResult{}, fmt.Errorf("score match: %w: %v", domain.ErrScoringProviderError, err)
	}
	if len(resp.Choices) == 0 {
		metrics.ScoringRequestsTotal.WithLabelValues(s.provider, s.model, "error").Inc()
		return domain.MatchResult{}, fmt.Errorf("empty scoring response: %w", domain.ErrScoringProviderError)
	}

	metrics.ScoringRequestsTotal.WithLabelValues(s.provider, s.model, "success").Inc()
	metrics.ScoringRequestDuration.WithLabelValues(s.provider, s.model).Observe(duration.Seconds())

	result := parseMatchResult(resp.Choices[0].Message.Content)
	s.logger.Debug("match scored",
		zap.String("transaction_id", txn.ID),
		zap.String("evidence_id", evidence.ID),
		zap.Int("score", result.Score),
		zap.Duration("duration", duration),
	)
	return result, nil
}

func (s *Scorer) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.breaker == nil {
		return s.client.CreateChatCompletion(ctx, req)
	}
	return s.breaker.Execute(func() (openai.ChatCompletionResponse, error) {
		return s.client.CreateChatCompletion(ctx, req)
	})
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (s *Scorer) HealthCheck(ctx context.Context) error {
	if _, err := s.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func scoringPrompt(txn domain.Transaction, e domain.EvidenceItem) string {
	var attachments []string
	for _, a := range e.Attachments {
		attachments = append(attachments, a.Filename)
	}
	attachmentsText := "None"
	if len(attachments) > 0 {
		attachmentsText = strings.Join(attachments, ", ")
	}

	body := e.BodyOrSnippet()
	if len(body) > bodyPreviewLen {
		body = body[:bodyPreviewLen]
	}

	evidenceDate := "N/A"
	if !e.Date.IsZero() {
		evidenceDate = e.Date.Format("2006-01-02")
	}

	return fmt.Sprintf(`You are a financial transaction matching expert. Analyze if the following email matches the transaction record.

TRANSACTION RECORD:
- Transaction Number: %s
- Date: %s
- Amount: $%s
- Vendor: %s
- Description: %s

EMAIL DATA:
- From: %s
- Subject: %s
- Date: %s
- Body: %s
- Attachments: %s

TASK:
1. Determine if this email is related to the transaction
2. Check for matching: transaction number, amount, vendor name, date proximity, description
3. Assign a match score from 0-100:
   - 90-100: Definite match (all key fields match)
   - 70-89: Strong match (most fields match)
   - 50-69: Probable match (some fields match)
   - 30-49: Weak match (minimal correlation)
   - 0-29: No match

RESPONSE FORMAT (JSON only, no markdown):
{
  "score": <number 0-100>,
  "reason": "<brief explanation>",
  "matched_fields": ["field1", "field2"],
  "confidence": "<high/medium/low>"
}`,
		orNA(txn.ID),
		orNA(txn.RawDate),
		txn.Amount.StringFixed(2),
		orNA(txn.VendorName),
		orNA(txn.Description),
		orNA(e.Sender),
		orNA(e.Subject),
		evidenceDate,
		orNA(body),
		attachmentsText,
	)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

var (
	scoreRegex  = regexp.MustCompile(`"?score"?\s*:\s*(\d+)`)
	reasonRegex = regexp.MustCompile(`"?reason"?\s*:\s*"([^"]+)"`)
)

// parseMatchResult decodes the model's JSON verdict. Markdown fences are
// stripped first; a failed decode falls back to regex field salvage, and a
// failed salvage yields a zero score.
func parseMatchResult(raw string) domain.MatchResult {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	var parsed struct {
		Score         int      `json:"score"`
		Reason        string   `json:"reason"`
		MatchedFields []string `json:"matched_fields"`
		Confidence    string   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return domain.MatchResult{
			Score:         clampScore(parsed.Score),
			Reason:        parsed.Reason,
			MatchedFields: parsed.MatchedFields,
			Confidence:    parseConfidence(parsed.Confidence),
		}
	}

	result := domain.MatchResult{Reason: "Parse error", Confidence: domain.ConfidenceLow}
	if m := scoreRegex.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			result.Score = clampScore(v)
		}
	}
	if m := reasonRegex.FindStringSubmatch(text); m != nil {
		result.Reason = m[1]
	}
	return result
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func parseConfidence(s string) domain.Confidence {
	switch domain.Confidence(strings.ToLower(s)) {
	case domain.ConfidenceHigh:
		return domain.ConfidenceHigh
	case domain.ConfidenceMedium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
