package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/llm"
	"github.com/octorules/engine/pkg/models"
	"github.com/octorules/engine/pkg/prompts"
	"github.com/octorules/engine/pkg/repositories"
	"github.com/octorules/engine/pkg/retry"
)

// ruleResponse is the JSON shape the extraction prompt asks for.
type ruleResponse struct {
	RuleText        string   `json:"rule_text"`
	RuleCategory    string   `json:"rule_category"`
	RuleSeverity    string   `json:"rule_severity"`
	Explanation     string   `json:"explanation"`
	Examples        []string `json:"examples"`
	RelatedConcepts []string `json:"related_concepts"`
}

// ExtractionStats summarizes one extraction pass.
type ExtractionStats struct {
	Extracted int // valid rules persisted
	Invalid   int // responses persisted with is_valid = false
	CacheHits int // prompts answered from the response cache
	Errors    int // comments whose extraction failed outright
}

// ExtractionService derives coding rules from review comments via the LLM.
type ExtractionService struct {
	client      llm.Client
	breaker     *llm.CircuitBreaker
	comments    repositories.ReviewCommentRepository
	rules       repositories.ExtractedRuleRepository
	stats       repositories.RuleStatisticRepository
	retryCfg    *retry.Config
	temperature float32
	logger      *zap.Logger

	// Identical prompts return the cached response instead of a second
	// provider call. Keyed by prompt hash, guarded by mu.
	mu    sync.Mutex
	cache map[[sha256.Size]byte]string
}

// NewExtractionService creates an extraction service.
func NewExtractionService(
	client llm.Client,
	comments repositories.ReviewCommentRepository,
	rules repositories.ExtractedRuleRepository,
	stats repositories.RuleStatisticRepository,
	temperature float32,
	logger *zap.Logger,
) *ExtractionService {
	return &ExtractionService{
		client:      client,
		breaker:     llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
		comments:    comments,
		rules:       rules,
		stats:       stats,
		retryCfg:    retry.DefaultConfig(),
		temperature: temperature,
		logger:      logger.Named("extraction"),
		cache:       make(map[[sha256.Size]byte]string),
	}
}

// ExtractForPullRequest runs rule extraction over every review comment of a
// pull request that has no extracted rule yet.
func (s *ExtractionService) ExtractForPullRequest(ctx context.Context, repositoryID, pullRequestID int64) (*ExtractionStats, error) {
	candidates, err := s.comments.ListPendingExtraction(ctx, pullRequestID)
	if err != nil {
		return nil, fmt.Errorf("list pending comments: %w", err)
	}

	stats := &ExtractionStats{}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.extractComment(ctx, repositoryID, candidate, stats); err != nil {
			s.logger.Error("Rule extraction failed",
				zap.Int64("comment_id", candidate.Comment.ID),
				zap.Error(err))
			stats.Errors++
		}
	}

	return stats, nil
}

func (s *ExtractionService) extractComment(ctx context.Context, repositoryID int64, candidate repositories.ExtractionCandidate, stats *ExtractionStats) error {
	comment := candidate.Comment

	cc, err := s.buildContext(ctx, candidate)
	if err != nil {
		return err
	}

	prompt := prompts.BuildRuleExtractionPrompt(cc)
	response, cached, err := s.generate(ctx, prompt)
	if err != nil {
		return err
	}
	if cached {
		stats.CacheHits++
	}

	parsed, parseErr := parseRuleResponse(response)
	if parseErr != nil {
		// One stricter retry before giving up on this comment.
		reformulated := prompts.BuildReformulationPrompt(cc)
		retryResponse, retryCached, err := s.generate(ctx, reformulated)
		if err != nil {
			return err
		}
		if retryCached {
			stats.CacheHits++
		}

		parsed, parseErr = parseRuleResponse(retryResponse)
		if parseErr != nil {
			// Keep the garbled response so the comment is not re-queued
			// on every sync; operators can inspect response_raw.
			rule := &models.ExtractedRule{
				ReviewCommentID: comment.ID,
				RuleText:        "unparseable response",
				RuleCategory:    models.CategoryGeneral,
				RuleSeverity:    models.SeverityInfo,
				LLMModel:        s.client.GetModel(),
				PromptUsed:      reformulated,
				ResponseRaw:     retryResponse,
				IsValid:         false,
			}
			if err := s.rules.Create(ctx, rule); err != nil {
				return fmt.Errorf("persist invalid rule: %w", err)
			}
			stats.Invalid++
			return nil
		}
		prompt = reformulated
		response = retryResponse
	}

	confidence := scoreConfidence(parsed)
	rule := &models.ExtractedRule{
		ReviewCommentID: comment.ID,
		RuleText:        strings.TrimSpace(parsed.RuleText),
		RuleCategory:    normalizeCategory(parsed.RuleCategory),
		RuleSeverity:    normalizeSeverity(parsed.RuleSeverity),
		ConfidenceScore: &confidence,
		LLMModel:        s.client.GetModel(),
		PromptUsed:      prompt,
		ResponseRaw:     response,
		IsValid:         parsed.RuleText != "",
	}
	if rule.RuleText == "" {
		// The model decided no rule exists in this comment.
		rule.RuleText = "no rule extracted"
		rule.ConfidenceScore = nil
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return fmt.Errorf("persist rule: %w", err)
	}

	if !rule.IsValid {
		stats.Invalid++
		return nil
	}

	if err := s.stats.RecordOccurrence(ctx, rule.ID, repositoryID, rule.ConfidenceScore); err != nil {
		return fmt.Errorf("record occurrence: %w", err)
	}
	stats.Extracted++
	return nil
}

func (s *ExtractionService) buildContext(ctx context.Context, candidate repositories.ExtractionCandidate) (prompts.CommentContext, error) {
	comment := candidate.Comment

	cc := prompts.CommentContext{
		RepositoryName: candidate.RepositoryName,
		PRTitle:        candidate.PRTitle,
		FilePath:       comment.Path,
		CommentText:    comment.Body,
	}
	if comment.Line != nil {
		cc.Line = *comment.Line
	}

	snippets, err := s.comments.SnippetsByComment(ctx, comment.ID)
	if err != nil {
		return cc, fmt.Errorf("load snippets: %w", err)
	}
	for _, snippet := range snippets {
		cc.CodeSnippets = append(cc.CodeSnippets, snippet.Content)
	}

	replies, err := s.comments.ThreadReplies(ctx, comment.PullRequestID, comment.Path, comment.Position, comment.ID)
	if err != nil {
		return cc, fmt.Errorf("load thread replies: %w", err)
	}
	cc.ThreadComments = replies

	return cc, nil
}

// generate returns the model's response for a prompt, serving repeats from
// the cache. The circuit breaker guards the provider; transient transport
// errors are retried with backoff.
func (s *ExtractionService) generate(ctx context.Context, prompt string) (string, bool, error) {
	key := sha256.Sum256([]byte(prompt))

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return cached, true, nil
	}
	s.mu.Unlock()

	if allowed, err := s.breaker.Allow(); !allowed {
		return "", false, err
	}

	var response string
	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		var genErr error
		response, genErr = s.client.GenerateResponse(ctx, prompt, prompts.ExtractionSystemMessage, s.temperature)
		return genErr
	})
	if err != nil {
		s.breaker.RecordFailure()
		return "", false, fmt.Errorf("generate response: %w", err)
	}
	s.breaker.RecordSuccess()

	s.mu.Lock()
	s.cache[key] = response
	s.mu.Unlock()

	return response, false, nil
}

// parseRuleResponse decodes the model output. A literal null is a valid
// "no rule here" answer and yields an empty ruleResponse.
func parseRuleResponse(response string) (*ruleResponse, error) {
	trimmed := strings.TrimSpace(response)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimSpace(strings.Trim(trimmed, "`"))
	if trimmed == "null" {
		return &ruleResponse{}, nil
	}

	parsed, err := llm.ParseJSONResponse[*ruleResponse](response)
	if err != nil {
		return nil, llm.NewParseError("rule response did not parse", err)
	}
	if parsed == nil {
		return &ruleResponse{}, nil
	}
	return parsed, nil
}

type keywordMapping struct {
	keyword string
	target  string
}

// categoryKeywords maps free-form category words to canonical categories.
// Ordered so overlapping inputs resolve deterministically, most specific
// keyword first.
var categoryKeywords = []keywordMapping{
	{"naming", models.CategoryNaming},
	{"name", models.CategoryNaming},
	{"perf", models.CategoryPerformance},
	{"optimization", models.CategoryPerformance},
	{"secur", models.CategorySecurity},
	{"vulnerab", models.CategorySecurity},
	{"error", models.CategoryErrorHandling},
	{"exception", models.CategoryErrorHandling},
	{"test", models.CategoryTesting},
	{"doc", models.CategoryDocumentation},
	{"comment", models.CategoryDocumentation},
	{"architect", models.CategoryArchitecture},
	{"design", models.CategoryArchitecture},
	{"structure", models.CategoryArchitecture},
	{"readab", models.CategoryReadability},
	{"clarity", models.CategoryReadability},
	{"maintain", models.CategoryMaintainability},
	{"refactor", models.CategoryMaintainability},
	{"reliab", models.CategoryReliability},
	{"robust", models.CategoryReliability},
	{"bug", models.CategoryReliability},
	{"practice", models.CategoryBestPractices},
	{"format", models.CategoryStyle},
	{"style", models.CategoryStyle},
	{"convention", models.CategoryStyle},
}

// normalizeCategory maps a model-supplied category onto the canonical set,
// falling back to general.
func normalizeCategory(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	cleaned = strings.ReplaceAll(cleaned, "-", "_")

	for _, known := range models.Categories {
		if cleaned == known {
			return known
		}
	}

	for _, m := range categoryKeywords {
		if strings.Contains(cleaned, m.keyword) {
			return m.target
		}
	}

	return models.CategoryGeneral
}

// severityKeywords maps free-form severity words to canonical severities,
// strongest keyword first.
var severityKeywords = []keywordMapping{
	{"critical", models.SeverityCritical},
	{"blocker", models.SeverityCritical},
	{"must", models.SeverityCritical},
	{"high", models.SeverityHigh},
	{"major", models.SeverityHigh},
	{"important", models.SeverityHigh},
	{"medium", models.SeverityMedium},
	{"moderate", models.SeverityMedium},
	{"should", models.SeverityMedium},
	{"low", models.SeverityLow},
	{"minor", models.SeverityLow},
	{"nit", models.SeverityLow},
	{"info", models.SeverityInfo},
	{"suggestion", models.SeverityInfo},
	{"optional", models.SeverityInfo},
}

// normalizeSeverity maps a model-supplied severity onto the canonical set,
// falling back to medium.
func normalizeSeverity(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))

	for _, m := range severityKeywords {
		if strings.Contains(cleaned, m.keyword) {
			return m.target
		}
	}

	return models.SeverityMedium
}

// scoreConfidence derives a heuristic confidence from how complete the
// model's answer is. Base 0.5, boosted by supporting detail, capped at 1.0.
func scoreConfidence(parsed *ruleResponse) float64 {
	score := 0.5

	if strings.TrimSpace(parsed.Explanation) != "" {
		score += 0.15
	}
	if len(parsed.Examples) > 0 {
		score += 0.15
	}
	if len(parsed.RelatedConcepts) > 0 {
		score += 0.1
	}
	if normalizeCategory(parsed.RuleCategory) != models.CategoryGeneral {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
