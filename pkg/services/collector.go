// Package services contains the sync pipeline: collection, extraction, and
// orchestration.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/github"
	"github.com/octorules/engine/pkg/models"
	"github.com/octorules/engine/pkg/repositories"
)

// GitHubClient is the subset of the API client the collector needs.
// Satisfied by *github.Client; tests substitute fakes.
type GitHubClient interface {
	GetRepository(ctx context.Context, owner, name string) (*github.Repository, error)
	ListClosedPullRequests(ctx context.Context, owner, name string, fn func(github.PullRequest) error) error
	ListReviewComments(ctx context.Context, owner, name string, number int, fn func(github.ReviewComment) error) error
}

// CollectStats summarizes one collection pass over a repository.
type CollectStats struct {
	Processed int // pull requests fully persisted
	Skipped   int // pull requests at or before the checkpoint
	Errors    int // pull requests that failed to persist
	Comments  int // review comments written

	// PullRequestIDs are the database IDs of the persisted pull requests,
	// in processing order. Rule extraction follows them.
	PullRequestIDs []int64
}

// CollectorService fetches closed pull requests and persists them with their
// review comment artifacts.
type CollectorService struct {
	client GitHubClient
	repos  repositories.RepositoryRepository
	prs    repositories.PullRequestRepository
	logger *zap.Logger
}

// NewCollectorService creates a collector.
func NewCollectorService(
	client GitHubClient,
	repos repositories.RepositoryRepository,
	prs repositories.PullRequestRepository,
	logger *zap.Logger,
) *CollectorService {
	return &CollectorService{
		client: client,
		repos:  repos,
		prs:    prs,
		logger: logger.Named("collector"),
	}
}

// CollectRepository syncs one repository. Pull requests closed at or before
// the checkpoint are skipped unless force is set. The checkpoint advances
// only after a pass with no persistence errors, so failed pull requests are
// picked up again next run.
//
// onPhase, when non-nil, is invoked as the pass alternates between fetching
// a pull request's comments and persisting its batch.
func (s *CollectorService) CollectRepository(ctx context.Context, repo *models.Repository, force bool, onPhase func(JobStatus)) (*CollectStats, error) {
	if onPhase == nil {
		onPhase = func(JobStatus) {}
	}
	stats := &CollectStats{}
	syncStart := time.Now().UTC()
	checkpoint := repo.LastSyncedAt

	s.logger.Info("Collecting repository",
		zap.String("repository", repo.FullName),
		zap.Bool("force", force),
		zap.Timep("checkpoint", checkpoint))

	err := s.client.ListClosedPullRequests(ctx, repo.OwnerLogin, repo.Name, func(pr github.PullRequest) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if pr.ClosedAt == nil {
			// Listing is filtered to closed PRs; treat a missing close
			// time as not yet synced rather than dropping the record.
			s.logger.Warn("Closed pull request without closed_at",
				zap.Int64("github_id", pr.ID))
		} else if !force && checkpoint != nil && !pr.ClosedAt.After(*checkpoint) {
			stats.Skipped++
			return nil
		}

		if err := s.collectPullRequest(ctx, repo, pr, stats, onPhase); err != nil {
			// Fetch failures abort the pass; persistence failures for a
			// single PR are counted and the pass continues.
			var fetchErr *github.FetchError
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.As(err, &fetchErr) {
				return err
			}
			s.logger.Error("Failed to persist pull request",
				zap.String("repository", repo.FullName),
				zap.Int("number", pr.Number),
				zap.Error(err))
			stats.Errors++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("list pull requests for %s: %w", repo.FullName, err)
	}

	if stats.Errors == 0 {
		if err := s.repos.SetLastSyncedAt(ctx, repo.ID, syncStart); err != nil {
			return stats, fmt.Errorf("advance checkpoint for %s: %w", repo.FullName, err)
		}
	}

	s.logger.Info("Repository collection finished",
		zap.String("repository", repo.FullName),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors))

	return stats, nil
}

// collectPullRequest fetches a pull request's review comments and persists
// the whole batch atomically.
func (s *CollectorService) collectPullRequest(ctx context.Context, repo *models.Repository, pr github.PullRequest, stats *CollectStats, onPhase func(JobStatus)) error {
	var bundles []repositories.CommentBundle

	onPhase(JobFetching)
	err := s.client.ListReviewComments(ctx, repo.OwnerLogin, repo.Name, pr.Number, func(rc github.ReviewComment) error {
		bundles = append(bundles, buildCommentBundle(rc))
		return nil
	})
	if err != nil {
		return fmt.Errorf("list review comments for #%d: %w", pr.Number, err)
	}

	record := &models.PullRequest{
		GitHubID:     pr.ID,
		RepositoryID: repo.ID,
		Number:       pr.Number,
		Title:        pr.Title,
		Body:         pr.Body,
		State:        pr.State,
		AuthorLogin:  pr.User.Login,
		HTMLURL:      pr.HTMLURL,
		CreatedAt:    pr.CreatedAt,
		ClosedAt:     pr.ClosedAt,
		MergedAt:     pr.MergedAt,
	}

	onPhase(JobPersisting)
	result, err := s.prs.PersistPullRequest(ctx, record, bundles)
	if err != nil {
		return err
	}

	stats.Processed++
	stats.Comments += result.CommentsCreated + result.CommentsUpdated
	stats.PullRequestIDs = append(stats.PullRequestIDs, result.PullRequestID)
	return nil
}

// buildCommentBundle converts a wire comment into the persistence bundle,
// deriving snippets from the diff hunk and the thread anchor from the
// comment's file position.
func buildCommentBundle(rc github.ReviewComment) repositories.CommentBundle {
	position := 0
	if rc.Position != nil {
		position = *rc.Position
	}

	var diffHunk *string
	if rc.DiffHunk != "" {
		diffHunk = &rc.DiffHunk
	}

	bundle := repositories.CommentBundle{
		Comment: models.ReviewComment{
			GitHubID:    rc.ID,
			AuthorLogin: rc.User.Login,
			Body:        rc.Body,
			Path:        rc.Path,
			Position:    position,
			Line:        rc.Line,
			DiffHunk:    diffHunk,
			HTMLURL:     rc.HTMLURL,
			CreatedAt:   rc.CreatedAt,
		},
		Snippets: ExtractSnippets(rc.Path, rc.DiffHunk),
	}

	if rc.Path != "" {
		bundle.Thread = &models.CommentThread{
			ThreadPath:     rc.Path,
			ThreadPosition: position,
		}
	}

	return bundle
}
