package repositories

import (
	"context"
	"fmt"

	"github.com/octorules/engine/pkg/database"
	"github.com/octorules/engine/pkg/models"
)

// ExtractionCandidate is a review comment joined with the context the
// extraction prompt needs.
type ExtractionCandidate struct {
	Comment        models.ReviewComment
	RepositoryName string
	PRTitle        string
}

// ReviewCommentRepository defines data access for review comments and their
// derived artifacts.
type ReviewCommentRepository interface {
	// ListPendingExtraction returns comments of a pull request that have no
	// extracted rule yet, together with prompt context.
	ListPendingExtraction(ctx context.Context, pullRequestID int64) ([]ExtractionCandidate, error)
	SnippetsByComment(ctx context.Context, commentID int64) ([]models.CodeSnippet, error)
	// ThreadReplies returns the bodies of other comments anchored at the
	// same file and position, oldest first.
	ThreadReplies(ctx context.Context, pullRequestID int64, path string, position int, excludeCommentID int64) ([]string, error)
	CountByPullRequest(ctx context.Context, pullRequestID int64) (int64, error)
}

type reviewCommentRepository struct {
	db *database.DB
}

// NewReviewCommentRepository creates a new review comment store.
func NewReviewCommentRepository(db *database.DB) ReviewCommentRepository {
	return &reviewCommentRepository{db: db}
}

var _ ReviewCommentRepository = (*reviewCommentRepository)(nil)

func (r *reviewCommentRepository) ListPendingExtraction(ctx context.Context, pullRequestID int64) ([]ExtractionCandidate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rc.id, rc.github_id, rc.pull_request_id, rc.author_login, rc.body, rc.path,
			rc.position, rc.line, rc.diff_hunk, rc.html_url, rc.created_at, rc.collected_at,
			repo.full_name, pr.title
		FROM review_comments rc
		JOIN pull_requests pr ON pr.id = rc.pull_request_id
		JOIN repositories repo ON repo.id = pr.repository_id
		WHERE rc.pull_request_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM extracted_rules er WHERE er.review_comment_id = rc.id
		  )
		ORDER BY rc.id`, pullRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending comments: %w", err)
	}
	defer rows.Close()

	var candidates []ExtractionCandidate
	for rows.Next() {
		var c ExtractionCandidate
		if err := rows.Scan(
			&c.Comment.ID,
			&c.Comment.GitHubID,
			&c.Comment.PullRequestID,
			&c.Comment.AuthorLogin,
			&c.Comment.Body,
			&c.Comment.Path,
			&c.Comment.Position,
			&c.Comment.Line,
			&c.Comment.DiffHunk,
			&c.Comment.HTMLURL,
			&c.Comment.CreatedAt,
			&c.Comment.CollectedAt,
			&c.RepositoryName,
			&c.PRTitle,
		); err != nil {
			return nil, fmt.Errorf("failed to scan extraction candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

func (r *reviewCommentRepository) SnippetsByComment(ctx context.Context, commentID int64) ([]models.CodeSnippet, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, review_comment_id, file_path, line_start, line_end, content, language, created_at
		FROM code_snippets
		WHERE review_comment_id = $1
		ORDER BY line_start`, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snippets: %w", err)
	}
	defer rows.Close()

	var snippets []models.CodeSnippet
	for rows.Next() {
		var s models.CodeSnippet
		if err := rows.Scan(
			&s.ID,
			&s.ReviewCommentID,
			&s.FilePath,
			&s.LineStart,
			&s.LineEnd,
			&s.Content,
			&s.Language,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snippet: %w", err)
		}
		snippets = append(snippets, s)
	}

	return snippets, rows.Err()
}

func (r *reviewCommentRepository) ThreadReplies(ctx context.Context, pullRequestID int64, path string, position int, excludeCommentID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT body FROM review_comments
		WHERE pull_request_id = $1 AND path = $2 AND position = $3 AND id != $4
		ORDER BY created_at NULLS LAST, id`, pullRequestID, path, position, excludeCommentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread replies: %w", err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan thread reply: %w", err)
		}
		bodies = append(bodies, body)
	}

	return bodies, rows.Err()
}

func (r *reviewCommentRepository) CountByPullRequest(ctx context.Context, pullRequestID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_comments WHERE pull_request_id = $1`, pullRequestID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count review comments: %w", err)
	}
	return count, nil
}
