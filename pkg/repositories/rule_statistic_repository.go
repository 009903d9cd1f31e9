package repositories

import (
	"context"
	"fmt"

	"github.com/octorules/engine/pkg/database"
	"github.com/octorules/engine/pkg/models"
)

// RuleStatisticRepository tracks per-repository rule occurrence counters.
type RuleStatisticRepository interface {
	// RecordOccurrence bumps the counter for (rule, repository), folding the
	// new confidence into the running average. The first occurrence creates
	// the row.
	RecordOccurrence(ctx context.Context, ruleID, repositoryID int64, confidence *float64) error
	ListByRepository(ctx context.Context, repositoryID int64) ([]models.RuleStatistic, error)
	Summary(ctx context.Context) (*models.SummaryStats, error)
}

type ruleStatisticRepository struct {
	db *database.DB
}

// NewRuleStatisticRepository creates a new statistics store.
func NewRuleStatisticRepository(db *database.DB) RuleStatisticRepository {
	return &ruleStatisticRepository{db: db}
}

var _ RuleStatisticRepository = (*ruleStatisticRepository)(nil)

func (r *ruleStatisticRepository) RecordOccurrence(ctx context.Context, ruleID, repositoryID int64, confidence *float64) error {
	// Single statement so concurrent workers cannot lose increments.
	_, err := r.db.Exec(ctx, `
		INSERT INTO rule_statistics (rule_id, repository_id, occurrence_count, first_seen, last_seen, avg_confidence, updated_at)
		VALUES ($1, $2, 1, NOW(), NOW(), $3, NOW())
		ON CONFLICT (rule_id, repository_id) DO UPDATE
		SET occurrence_count = rule_statistics.occurrence_count + 1,
		    last_seen = NOW(),
		    avg_confidence = CASE
			WHEN EXCLUDED.avg_confidence IS NULL THEN rule_statistics.avg_confidence
			WHEN rule_statistics.avg_confidence IS NULL THEN EXCLUDED.avg_confidence
			ELSE (rule_statistics.avg_confidence * rule_statistics.occurrence_count + EXCLUDED.avg_confidence)
				/ (rule_statistics.occurrence_count + 1)
		    END,
		    updated_at = NOW()`,
		ruleID, repositoryID, confidence)
	if err != nil {
		return fmt.Errorf("failed to record rule occurrence: %w", err)
	}
	return nil
}

func (r *ruleStatisticRepository) ListByRepository(ctx context.Context, repositoryID int64) ([]models.RuleStatistic, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, rule_id, repository_id, occurrence_count, first_seen, last_seen, avg_confidence, updated_at
		FROM rule_statistics
		WHERE repository_id = $1
		ORDER BY occurrence_count DESC, last_seen DESC`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule statistics: %w", err)
	}
	defer rows.Close()

	var stats []models.RuleStatistic
	for rows.Next() {
		var s models.RuleStatistic
		if err := rows.Scan(
			&s.ID,
			&s.RuleID,
			&s.RepositoryID,
			&s.OccurrenceCount,
			&s.FirstSeen,
			&s.LastSeen,
			&s.AvgConfidence,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule statistic: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *ruleStatisticRepository) Summary(ctx context.Context) (*models.SummaryStats, error) {
	summary := &models.SummaryStats{
		ByCategory: make(map[string]int64),
		BySeverity: make(map[string]int64),
	}

	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM repositories),
			(SELECT COUNT(*) FROM pull_requests),
			(SELECT COUNT(*) FROM review_comments),
			(SELECT COUNT(*) FROM extracted_rules),
			(SELECT COUNT(*) FROM extracted_rules WHERE is_valid)`).Scan(
		&summary.Repositories,
		&summary.PullRequests,
		&summary.ReviewComments,
		&summary.TotalRules,
		&summary.ValidRules,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary counts: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT rule_category, rule_severity, COUNT(*)
		FROM extracted_rules
		WHERE is_valid
		GROUP BY rule_category, rule_severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category, severity string
		var count int64
		if err := rows.Scan(&category, &severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rule breakdown: %w", err)
		}
		summary.ByCategory[category] += count
		summary.BySeverity[severity] += count
	}

	return summary, rows.Err()
}
