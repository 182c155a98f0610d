package openai

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ledgerlens/ledgerlens/internal/domain"
)

// Reranker scores (query, document) pairs with a chat model, emulating a
// cross-encoder relevance head. Per-pair failures degrade to a zero score so
// one bad call cannot sink a whole result set.
type Reranker struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// RerankerConfig holds the reranking provider settings.
type RerankerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// NewReranker creates an OpenAI-compatible pairwise reranker.
func NewReranker(cfg *RerankerConfig) *Reranker {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Reranker{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

const rerankPrompt = `Rate how relevant the document is to the query on a scale from -10.0 (completely irrelevant) to 10.0 (perfect match).

QUERY:
%s

DOCUMENT:
%s

Respond with only the number.`

var numberRegex = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Predict implements domain.Reranker. Scores are returned in pair order.
func (r *Reranker) Predict(ctx context.Context, pairs []domain.RerankPair) ([]float64, error) {
	scores := make([]float64, len(pairs))
	for i, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, err := r.scorePair(ctx, pair)
		if err != nil {
			r.logger.Warn("rerank pair failed", zap.Int("pair", i), zap.Error(err))
			continue
		}
		scores[i] = score
	}
	return scores, nil
}

func (r *Reranker) scorePair(ctx context.Context, pair domain.RerankPair) (float64, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(rerankPrompt, pair.Query, pair.Text),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return 0, fmt.Errorf("rerank completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("empty rerank response: %w", domain.ErrScoringProviderError)
	}
	return parseRerankScore(resp.Choices[0].Message.Content)
}

// parseRerankScore pulls the first numeric token out of the model reply.
func parseRerankScore(raw string) (float64, error) {
	m := numberRegex.FindString(strings.TrimSpace(raw))
	if m == "" {
		return 0, fmt.Errorf("no numeric score in %q: %w", raw, domain.ErrScoringProviderError)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rerank score %q: %w", m, domain.ErrScoringProviderError)
	}
	return v, nil
}
