package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/database"
	"github.com/octorules/engine/pkg/models"
)

// persistError classifies write failures. Integrity violations inside a
// batch mean the payload references state the store does not have; they
// surface as apperrors.ErrConsistency so callers can tell them apart from
// transport faults.
func persistError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502", "23503", "23505": // not-null, foreign key, unique
			return fmt.Errorf("%s: %w: %s", msg, apperrors.ErrConsistency, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// CommentBundle groups a review comment with the artifacts derived from it.
type CommentBundle struct {
	Comment  models.ReviewComment
	Snippets []models.CodeSnippet
	Thread   *models.CommentThread
}

// PersistResult reports what a PersistPullRequest call wrote.
type PersistResult struct {
	PullRequestID      int64
	PullRequestCreated bool
	CommentsCreated    int
	CommentsUpdated    int
}

// PullRequestRepository defines data access for pull requests and their
// comment artifacts.
type PullRequestRepository interface {
	// PersistPullRequest writes a pull request together with its review
	// comments, snippets, and threads in one transaction. Re-running with
	// the same payload refreshes rows without creating duplicates.
	PersistPullRequest(ctx context.Context, pr *models.PullRequest, bundles []CommentBundle) (*PersistResult, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*models.PullRequest, error)
	CountByRepository(ctx context.Context, repositoryID int64) (int64, error)
}

type pullRequestRepository struct {
	db *database.DB
}

// NewPullRequestRepository creates a new pull request store.
func NewPullRequestRepository(db *database.DB) PullRequestRepository {
	return &pullRequestRepository{db: db}
}

var _ PullRequestRepository = (*pullRequestRepository)(nil)

func (r *pullRequestRepository) PersistPullRequest(ctx context.Context, pr *models.PullRequest, bundles []CommentBundle) (*PersistResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result := &PersistResult{}

	err = tx.QueryRow(ctx, `
		INSERT INTO pull_requests (github_id, repository_id, number, title, body, state,
			author_login, html_url, created_at, closed_at, merged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (github_id) DO UPDATE
		SET title = EXCLUDED.title,
		    body = EXCLUDED.body,
		    state = EXCLUDED.state,
		    closed_at = EXCLUDED.closed_at,
		    merged_at = EXCLUDED.merged_at
		RETURNING id, (xmax = 0) AS created`,
		pr.GitHubID,
		pr.RepositoryID,
		pr.Number,
		pr.Title,
		pr.Body,
		pr.State,
		pr.AuthorLogin,
		pr.HTMLURL,
		pr.CreatedAt,
		pr.ClosedAt,
		pr.MergedAt,
	).Scan(&pr.ID, &result.PullRequestCreated)
	if err != nil {
		return nil, persistError(err, "failed to upsert pull request")
	}
	result.PullRequestID = pr.ID

	for i := range bundles {
		if err := r.persistBundle(ctx, tx, pr.ID, &bundles[i], result); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pull request batch: %w", err)
	}

	return result, nil
}

func (r *pullRequestRepository) persistBundle(ctx context.Context, tx pgx.Tx, pullRequestID int64, bundle *CommentBundle, result *PersistResult) error {
	comment := &bundle.Comment
	comment.PullRequestID = pullRequestID

	var created bool
	err := tx.QueryRow(ctx, `
		INSERT INTO review_comments (github_id, pull_request_id, author_login, body, path,
			position, line, diff_hunk, html_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (github_id) DO UPDATE
		SET body = EXCLUDED.body,
		    path = EXCLUDED.path,
		    position = EXCLUDED.position,
		    line = EXCLUDED.line,
		    diff_hunk = EXCLUDED.diff_hunk
		RETURNING id, (xmax = 0) AS created`,
		comment.GitHubID,
		comment.PullRequestID,
		comment.AuthorLogin,
		comment.Body,
		comment.Path,
		comment.Position,
		comment.Line,
		comment.DiffHunk,
		comment.HTMLURL,
		comment.CreatedAt,
	).Scan(&comment.ID, &created)
	if err != nil {
		return persistError(err, fmt.Sprintf("failed to upsert review comment %d", comment.GitHubID))
	}

	if created {
		result.CommentsCreated++
	} else {
		result.CommentsUpdated++
	}

	// Snippets are derived data with no stable upstream identity. Replace
	// the comment's set wholesale so re-syncs stay duplicate free.
	if _, err := tx.Exec(ctx,
		`DELETE FROM code_snippets WHERE review_comment_id = $1`, comment.ID); err != nil {
		return fmt.Errorf("failed to clear snippets for comment %d: %w", comment.ID, err)
	}

	for i := range bundle.Snippets {
		snippet := &bundle.Snippets[i]
		snippet.ReviewCommentID = comment.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO code_snippets (review_comment_id, file_path, line_start, line_end, content, language)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			snippet.ReviewCommentID,
			snippet.FilePath,
			snippet.LineStart,
			snippet.LineEnd,
			snippet.Content,
			snippet.Language,
		).Scan(&snippet.ID)
		if err != nil {
			return persistError(err, fmt.Sprintf("failed to insert snippet for comment %d", comment.ID))
		}
	}

	if bundle.Thread != nil {
		thread := bundle.Thread
		thread.PullRequestID = pullRequestID
		thread.ReviewCommentID = comment.ID
		// The first comment at a (path, position) owns the thread; later
		// comments at the same anchor are replies and leave it untouched.
		_, err := tx.Exec(ctx, `
			INSERT INTO comment_threads (pull_request_id, review_comment_id, thread_path, thread_position, is_resolved)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (pull_request_id, thread_path, thread_position) DO NOTHING`,
			thread.PullRequestID,
			thread.ReviewCommentID,
			thread.ThreadPath,
			thread.ThreadPosition,
			thread.IsResolved,
		)
		if err != nil {
			return persistError(err, fmt.Sprintf("failed to upsert thread for comment %d", comment.ID))
		}
	}

	return nil
}

func (r *pullRequestRepository) GetByGitHubID(ctx context.Context, githubID int64) (*models.PullRequest, error) {
	var pr models.PullRequest
	err := r.db.QueryRow(ctx, `
		SELECT id, github_id, repository_id, number, title, body, state,
			author_login, html_url, created_at, closed_at, merged_at, collected_at
		FROM pull_requests WHERE github_id = $1`, githubID).Scan(
		&pr.ID,
		&pr.GitHubID,
		&pr.RepositoryID,
		&pr.Number,
		&pr.Title,
		&pr.Body,
		&pr.State,
		&pr.AuthorLogin,
		&pr.HTMLURL,
		&pr.CreatedAt,
		&pr.ClosedAt,
		&pr.MergedAt,
		&pr.CollectedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}
	return &pr, nil
}

func (r *pullRequestRepository) CountByRepository(ctx context.Context, repositoryID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pull_requests WHERE repository_id = $1`, repositoryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pull requests: %w", err)
	}
	return count, nil
}
