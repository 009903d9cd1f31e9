package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/database"
	"github.com/octorules/engine/pkg/models"
)

// ExtractedRuleRepository defines data access for extracted rules.
type ExtractedRuleRepository interface {
	Create(ctx context.Context, rule *models.ExtractedRule) error
	Get(ctx context.Context, id int64) (*models.ExtractedRule, error)
	List(ctx context.Context, filter models.RuleFilter) ([]models.ExtractedRule, error)
	SetValidity(ctx context.Context, id int64, valid bool) error
}

type extractedRuleRepository struct {
	db *database.DB
}

// NewExtractedRuleRepository creates a new rule store.
func NewExtractedRuleRepository(db *database.DB) ExtractedRuleRepository {
	return &extractedRuleRepository{db: db}
}

var _ ExtractedRuleRepository = (*extractedRuleRepository)(nil)

const extractedRuleColumns = `id, review_comment_id, rule_text, rule_category, rule_severity,
	confidence_score, llm_model, prompt_used, response_raw, is_valid, created_at, updated_at`

func (r *extractedRuleRepository) Create(ctx context.Context, rule *models.ExtractedRule) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO extracted_rules (review_comment_id, rule_text, rule_category, rule_severity,
			confidence_score, llm_model, prompt_used, response_raw, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		rule.ReviewCommentID,
		rule.RuleText,
		rule.RuleCategory,
		rule.RuleSeverity,
		rule.ConfidenceScore,
		rule.LLMModel,
		rule.PromptUsed,
		rule.ResponseRaw,
		rule.IsValid,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create extracted rule: %w", err)
	}
	return nil
}

func (r *extractedRuleRepository) Get(ctx context.Context, id int64) (*models.ExtractedRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM extracted_rules WHERE id = $1`, extractedRuleColumns)

	var rule models.ExtractedRule
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rule.ID,
		&rule.ReviewCommentID,
		&rule.RuleText,
		&rule.RuleCategory,
		&rule.RuleSeverity,
		&rule.ConfidenceScore,
		&rule.LLMModel,
		&rule.PromptUsed,
		&rule.ResponseRaw,
		&rule.IsValid,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extracted rule: %w", err)
	}
	return &rule, nil
}

func (r *extractedRuleRepository) List(ctx context.Context, filter models.RuleFilter) ([]models.ExtractedRule, error) {
	var conditions []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ValidOnly {
		conditions = append(conditions, "is_valid")
	}
	if filter.Category != "" {
		conditions = append(conditions, "rule_category = "+arg(filter.Category))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "rule_severity = "+arg(filter.Severity))
	}
	if filter.MinConfidence > 0 {
		conditions = append(conditions, "confidence_score >= "+arg(filter.MinConfidence))
	}
	if filter.RepositoryID > 0 {
		conditions = append(conditions, `review_comment_id IN (
			SELECT rc.id FROM review_comments rc
			JOIN pull_requests pr ON pr.id = rc.pull_request_id
			WHERE pr.repository_id = `+arg(filter.RepositoryID)+")")
	}

	query := fmt.Sprintf(`SELECT %s FROM extracted_rules`, extractedRuleColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ExtractedRule
	for rows.Next() {
		var rule models.ExtractedRule
		if err := rows.Scan(
			&rule.ID,
			&rule.ReviewCommentID,
			&rule.RuleText,
			&rule.RuleCategory,
			&rule.RuleSeverity,
			&rule.ConfidenceScore,
			&rule.LLMModel,
			&rule.PromptUsed,
			&rule.ResponseRaw,
			&rule.IsValid,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan extracted rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *extractedRuleRepository) SetValidity(ctx context.Context, id int64, valid bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE extracted_rules SET is_valid = $2, updated_at = NOW() WHERE id = $1`, id, valid)
	if err != nil {
		return fmt.Errorf("failed to set rule validity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
