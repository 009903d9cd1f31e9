//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/models"
	"github.com/octorules/engine/pkg/testhelpers"
)

func ptr[T any](v T) *T { return &v }

func seedRepository(t *testing.T, repos RepositoryRepository, githubID int64) *models.Repository {
	t.Helper()
	repo := &models.Repository{
		GitHubID:   githubID,
		Name:       "widgets",
		FullName:   "acme/widgets",
		OwnerLogin: "acme",
		HTMLURL:    "https://github.com/acme/widgets",
		Language:   ptr("Go"),
	}
	_, err := repos.Upsert(context.Background(), repo)
	require.NoError(t, err)
	return repo
}

func samplePR(githubID, repositoryID int64, number int) *models.PullRequest {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.PullRequest{
		GitHubID:     githubID,
		RepositoryID: repositoryID,
		Number:       number,
		Title:        "Fix flaky upload retry",
		State:        "closed",
		AuthorLogin:  "octocat",
		HTMLURL:      "https://github.com/acme/widgets/pull/1",
		CreatedAt:    ptr(now.Add(-48 * time.Hour)),
		ClosedAt:     ptr(now),
	}
}

func TestRepositoryUpsert_Idempotent(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)

	repos := NewRepositoryRepository(tdb.DB)
	ctx := context.Background()

	repo := &models.Repository{
		GitHubID:   1001,
		Name:       "widgets",
		FullName:   "acme/widgets",
		OwnerLogin: "acme",
		HTMLURL:    "https://github.com/acme/widgets",
	}

	created, err := repos.Upsert(ctx, repo)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := repo.ID

	// Second upsert with updated metadata refreshes in place.
	repo.Description = ptr("A widget service")
	created, err = repos.Upsert(ctx, repo)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, repo.ID)

	got, err := repos.Get(ctx, firstID)
	require.NoError(t, err)
	require.NotNil(t, got.Description)
	assert.Equal(t, "A widget service", *got.Description)
}

func TestPersistPullRequest_RerunCreatesNoDuplicates(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	ctx := context.Background()

	repos := NewRepositoryRepository(tdb.DB)
	prs := NewPullRequestRepository(tdb.DB)
	comments := NewReviewCommentRepository(tdb.DB)

	repo := seedRepository(t, repos, 1001)

	bundles := []CommentBundle{
		{
			Comment: models.ReviewComment{
				GitHubID:    501,
				AuthorLogin: "reviewer",
				Body:        "Wrap this error before returning.",
				Path:        "internal/upload/client.go",
				Position:    4,
				HTMLURL:     "https://github.com/acme/widgets/pull/1#discussion_r501",
			},
			Snippets: []models.CodeSnippet{
				{FilePath: "internal/upload/client.go", LineStart: 40, LineEnd: 41, Content: "return err", Language: ptr("go")},
			},
			Thread: &models.CommentThread{ThreadPath: "internal/upload/client.go", ThreadPosition: 4},
		},
	}

	pr := samplePR(2001, repo.ID, 1)
	first, err := prs.PersistPullRequest(ctx, pr, bundles)
	require.NoError(t, err)
	assert.True(t, first.PullRequestCreated)
	assert.Equal(t, 1, first.CommentsCreated)

	// Re-running the identical payload must update, not duplicate.
	rerun := samplePR(2001, repo.ID, 1)
	second, err := prs.PersistPullRequest(ctx, rerun, bundles)
	require.NoError(t, err)
	assert.False(t, second.PullRequestCreated)
	assert.Equal(t, 0, second.CommentsCreated)
	assert.Equal(t, 1, second.CommentsUpdated)
	assert.Equal(t, first.PullRequestID, second.PullRequestID)

	count, err := prs.CountByRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	commentCount, err := comments.CountByPullRequest(ctx, first.PullRequestID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), commentCount)

	// Snippets were replaced, not appended.
	candidates, err := comments.ListPendingExtraction(ctx, first.PullRequestID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	snippets, err := comments.SnippetsByComment(ctx, candidates[0].Comment.ID)
	require.NoError(t, err)
	assert.Len(t, snippets, 1)
}

func TestPersistPullRequest_FailureRollsBackWholeBatch(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	ctx := context.Background()

	repos := NewRepositoryRepository(tdb.DB)
	prs := NewPullRequestRepository(tdb.DB)
	repo := seedRepository(t, repos, 1001)

	bundles := []CommentBundle{
		{Comment: models.ReviewComment{GitHubID: 501, AuthorLogin: "a", Body: "fine", Path: "x.go", HTMLURL: "u"}},
	}

	pr := samplePR(2001, 999999, 1) // nonexistent repository breaks the FK
	_, err := prs.PersistPullRequest(ctx, pr, bundles)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConsistency)

	// Nothing from the batch was committed.
	_, err = prs.GetByGitHubID(ctx, 2001)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	count, err := prs.CountByRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestPersistPullRequest_ThreadDedup(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	ctx := context.Background()

	repos := NewRepositoryRepository(tdb.DB)
	prs := NewPullRequestRepository(tdb.DB)
	repo := seedRepository(t, repos, 1001)

	// Two comments anchored at the same (path, position) form one thread.
	bundles := []CommentBundle{
		{
			Comment: models.ReviewComment{GitHubID: 501, AuthorLogin: "a", Body: "first", Path: "x.go", Position: 7, HTMLURL: "u1"},
			Thread:  &models.CommentThread{ThreadPath: "x.go", ThreadPosition: 7},
		},
		{
			Comment: models.ReviewComment{GitHubID: 502, AuthorLogin: "b", Body: "reply", Path: "x.go", Position: 7, HTMLURL: "u2"},
			Thread:  &models.CommentThread{ThreadPath: "x.go", ThreadPosition: 7},
		},
	}

	result, err := prs.PersistPullRequest(ctx, samplePR(2001, repo.ID, 1), bundles)
	require.NoError(t, err)

	var threadCount int64
	err = tdb.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM comment_threads WHERE pull_request_id = $1`, result.PullRequestID).Scan(&threadCount)
	require.NoError(t, err)
	assert.Equal(t, int64(1), threadCount)

	// The thread belongs to the first comment at that anchor.
	var ownerGitHubID int64
	err = tdb.DB.QueryRow(ctx, `
		SELECT rc.github_id FROM comment_threads ct
		JOIN review_comments rc ON rc.id = ct.review_comment_id
		WHERE ct.pull_request_id = $1`, result.PullRequestID).Scan(&ownerGitHubID)
	require.NoError(t, err)
	assert.Equal(t, int64(501), ownerGitHubID)
}

func TestDeleteRepository_Cascades(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	ctx := context.Background()

	repos := NewRepositoryRepository(tdb.DB)
	prs := NewPullRequestRepository(tdb.DB)
	rules := NewExtractedRuleRepository(tdb.DB)
	repo := seedRepository(t, repos, 1001)

	result, err := prs.PersistPullRequest(ctx, samplePR(2001, repo.ID, 1), []CommentBundle{
		{
			Comment:  models.ReviewComment{GitHubID: 501, AuthorLogin: "a", Body: "c", Path: "x.go", HTMLURL: "u"},
			Snippets: []models.CodeSnippet{{FilePath: "x.go", LineStart: 1, LineEnd: 1, Content: "x := 1"}},
		},
	})
	require.NoError(t, err)

	comments := NewReviewCommentRepository(tdb.DB)
	candidates, err := comments.ListPendingExtraction(ctx, result.PullRequestID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	rule := &models.ExtractedRule{
		ReviewCommentID: candidates[0].Comment.ID,
		RuleText:        "Wrap errors with context.",
		RuleCategory:    models.CategoryErrorHandling,
		RuleSeverity:    models.SeverityMedium,
		LLMModel:        "test-model",
		PromptUsed:      "p",
		ResponseRaw:     "r",
		IsValid:         true,
	}
	require.NoError(t, rules.Create(ctx, rule))

	require.NoError(t, repos.Delete(ctx, repo.ID))

	for _, table := range []string{"pull_requests", "review_comments", "code_snippets", "comment_threads", "extracted_rules"} {
		var count int64
		err := tdb.DB.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		require.NoError(t, err)
		assert.Zero(t, count, "expected %s to be empty after cascade", table)
	}
}

func TestRuleFilter_List(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	ctx := context.Background()

	repos := NewRepositoryRepository(tdb.DB)
	prs := NewPullRequestRepository(tdb.DB)
	rules := NewExtractedRuleRepository(tdb.DB)
	comments := NewReviewCommentRepository(tdb.DB)
	repo := seedRepository(t, repos, 1001)

	result, err := prs.PersistPullRequest(ctx, samplePR(2001, repo.ID, 1), []CommentBundle{
		{Comment: models.ReviewComment{GitHubID: 501, AuthorLogin: "a", Body: "c1", Path: "x.go", HTMLURL: "u1"}},
		{Comment: models.ReviewComment{GitHubID: 502, AuthorLogin: "a", Body: "c2", Path: "y.go", Position: 1, HTMLURL: "u2"}},
	})
	require.NoError(t, err)

	candidates, err := comments.ListPendingExtraction(ctx, result.PullRequestID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	require.NoError(t, rules.Create(ctx, &models.ExtractedRule{
		ReviewCommentID: candidates[0].Comment.ID,
		RuleText:        "Validate inputs.",
		RuleCategory:    models.CategorySecurity,
		RuleSeverity:    models.SeverityHigh,
		ConfidenceScore: ptr(0.9),
		LLMModel:        "m", PromptUsed: "p", ResponseRaw: "r", IsValid: true,
	}))
	require.NoError(t, rules.Create(ctx, &models.ExtractedRule{
		ReviewCommentID: candidates[1].Comment.ID,
		RuleText:        "could not parse",
		RuleCategory:    models.CategoryGeneral,
		RuleSeverity:    models.SeverityMedium,
		LLMModel:        "m", PromptUsed: "p", ResponseRaw: "garbled", IsValid: false,
	}))

	valid, err := rules.List(ctx, models.RuleFilter{ValidOnly: true})
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "Validate inputs.", valid[0].RuleText)

	security, err := rules.List(ctx, models.RuleFilter{Category: models.CategorySecurity, MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Len(t, security, 1)

	none, err := rules.List(ctx, models.RuleFilter{Category: models.CategorySecurity, MinConfidence: 0.95})
	require.NoError(t, err)
	assert.Empty(t, none)

	byRepo, err := rules.List(ctx, models.RuleFilter{RepositoryID: repo.ID})
	require.NoError(t, err)
	assert.Len(t, byRepo, 2)

	otherRepo, err := rules.List(ctx, models.RuleFilter{RepositoryID: repo.ID + 1})
	require.NoError(t, err)
	assert.Empty(t, otherRepo)
}

func TestRecordOccurrence_RunningAverage(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	ctx := context.Background()

	repos := NewRepositoryRepository(tdb.DB)
	prs := NewPullRequestRepository(tdb.DB)
	rules := NewExtractedRuleRepository(tdb.DB)
	comments := NewReviewCommentRepository(tdb.DB)
	stats := NewRuleStatisticRepository(tdb.DB)
	repo := seedRepository(t, repos, 1001)

	result, err := prs.PersistPullRequest(ctx, samplePR(2001, repo.ID, 1), []CommentBundle{
		{Comment: models.ReviewComment{GitHubID: 501, AuthorLogin: "a", Body: "c", Path: "x.go", HTMLURL: "u"}},
	})
	require.NoError(t, err)

	candidates, err := comments.ListPendingExtraction(ctx, result.PullRequestID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	rule := &models.ExtractedRule{
		ReviewCommentID: candidates[0].Comment.ID,
		RuleText:        "Validate inputs.",
		RuleCategory:    models.CategorySecurity,
		RuleSeverity:    models.SeverityHigh,
		LLMModel:        "m", PromptUsed: "p", ResponseRaw: "r", IsValid: true,
	}
	require.NoError(t, rules.Create(ctx, rule))

	require.NoError(t, stats.RecordOccurrence(ctx, rule.ID, repo.ID, ptr(0.8)))
	require.NoError(t, stats.RecordOccurrence(ctx, rule.ID, repo.ID, ptr(0.6)))
	require.NoError(t, stats.RecordOccurrence(ctx, rule.ID, repo.ID, nil))

	got, err := stats.ListByRepository(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].OccurrenceCount)
	require.NotNil(t, got[0].AvgConfidence)
	// nil confidence leaves the average untouched: (0.8 + 0.6) / 2
	assert.InDelta(t, 0.7, *got[0].AvgConfidence, 0.0001)

	summary, err := stats.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Repositories)
	assert.Equal(t, int64(1), summary.TotalRules)
	assert.Equal(t, int64(1), summary.ValidRules)
	assert.Equal(t, int64(1), summary.ByCategory[models.CategorySecurity])
}
