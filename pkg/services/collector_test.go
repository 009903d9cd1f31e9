package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/github"
	"github.com/octorules/engine/pkg/models"
	"github.com/octorules/engine/pkg/repositories"
)

func timePtr(t time.Time) *time.Time { return &t }

// fakeGitHub serves canned listings and tracks calls.
type fakeGitHub struct {
	mu       sync.Mutex
	repo     *github.Repository
	prs      []github.PullRequest
	comments map[int][]github.ReviewComment
	listErr  error
	delay    time.Duration
	calls    int
}

func (f *fakeGitHub) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	if f.repo == nil {
		return nil, &github.FetchError{StatusCode: 404}
	}
	return f.repo, nil
}

func (f *fakeGitHub) ListClosedPullRequests(ctx context.Context, owner, name string, fn func(github.PullRequest) error) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.listErr != nil {
		return f.listErr
	}
	for _, pr := range f.prs {
		if err := fn(pr); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGitHub) ListReviewComments(ctx context.Context, owner, name string, number int, fn func(github.ReviewComment) error) error {
	for _, rc := range f.comments[number] {
		if err := fn(rc); err != nil {
			return err
		}
	}
	return nil
}

// memRepoStore is an in-memory RepositoryRepository.
type memRepoStore struct {
	mu    sync.Mutex
	repos map[int64]*models.Repository
}

func newMemRepoStore(repos ...*models.Repository) *memRepoStore {
	s := &memRepoStore{repos: make(map[int64]*models.Repository)}
	for _, r := range repos {
		s.repos[r.ID] = r
	}
	return s
}

func (s *memRepoStore) Upsert(ctx context.Context, repo *models.Repository) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.repos {
		if existing.GitHubID == repo.GitHubID {
			repo.ID = existing.ID
			*existing = *repo
			return false, nil
		}
	}
	repo.ID = int64(len(s.repos) + 1)
	repo.IsActive = true
	clone := *repo
	s.repos[repo.ID] = &clone
	return true, nil
}

func (s *memRepoStore) Get(ctx context.Context, id int64) (*models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *repo
	return &clone, nil
}

func (s *memRepoStore) GetByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, repo := range s.repos {
		if repo.FullName == fullName {
			clone := *repo
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *memRepoStore) List(ctx context.Context, activeOnly bool) ([]models.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Repository
	for _, repo := range s.repos {
		if !activeOnly || repo.IsActive {
			out = append(out, *repo)
		}
	}
	return out, nil
}

func (s *memRepoStore) SetLastSyncedAt(ctx context.Context, id int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	repo.LastSyncedAt = &t
	return nil
}

func (s *memRepoStore) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	repo.IsActive = active
	return nil
}

func (s *memRepoStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(s.repos, id)
	return nil
}

// memPRStore records PersistPullRequest calls.
type memPRStore struct {
	mu        sync.Mutex
	persisted []*models.PullRequest
	bundles   [][]repositories.CommentBundle
	failOn    map[int64]error // keyed by pull request GitHub ID
	nextID    int64
}

func (s *memPRStore) PersistPullRequest(ctx context.Context, pr *models.PullRequest, bundles []repositories.CommentBundle) (*repositories.PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[pr.GitHubID]; ok {
		return nil, err
	}
	s.nextID++
	pr.ID = s.nextID
	s.persisted = append(s.persisted, pr)
	s.bundles = append(s.bundles, bundles)
	return &repositories.PersistResult{
		PullRequestID:      pr.ID,
		PullRequestCreated: true,
		CommentsCreated:    len(bundles),
	}, nil
}

func (s *memPRStore) GetByGitHubID(ctx context.Context, githubID int64) (*models.PullRequest, error) {
	return nil, apperrors.ErrNotFound
}

func (s *memPRStore) CountByRepository(ctx context.Context, repositoryID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.persisted)), nil
}

func closedPR(id int64, number int, closedAt time.Time) github.PullRequest {
	return github.PullRequest{
		ID:       id,
		Number:   number,
		Title:    fmt.Sprintf("PR %d", number),
		State:    "closed",
		User:     github.User{Login: "octocat"},
		HTMLURL:  fmt.Sprintf("https://github.com/acme/widgets/pull/%d", number),
		ClosedAt: timePtr(closedAt),
	}
}

func testRepo() *models.Repository {
	return &models.Repository{
		ID:         1,
		GitHubID:   1001,
		Name:       "widgets",
		FullName:   "acme/widgets",
		OwnerLogin: "acme",
		IsActive:   true,
	}
}

func TestCollectRepository_PersistsNewPullRequests(t *testing.T) {
	now := time.Now().UTC()
	gh := &fakeGitHub{
		prs: []github.PullRequest{closedPR(201, 1, now), closedPR(202, 2, now)},
		comments: map[int][]github.ReviewComment{
			1: {{
				ID:       501,
				User:     github.User{Login: "reviewer"},
				Body:     "Wrap this error.",
				Path:     "client.go",
				Position: intPtr(4),
				DiffHunk: "@@ -1,1 +1,2 @@\n+x := 1\n",
				HTMLURL:  "u",
			}},
		},
	}
	store := newMemRepoStore(testRepo())
	prs := &memPRStore{}
	collector := NewCollectorService(gh, store, prs, zap.NewNop())

	repo, _ := store.Get(context.Background(), 1)
	stats, err := collector.CollectRepository(context.Background(), repo, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 1, stats.Comments)
	assert.Len(t, stats.PullRequestIDs, 2)

	// Snippets and thread are derived from the comment payload.
	require.Len(t, prs.bundles[0], 1)
	bundle := prs.bundles[0][0]
	assert.Equal(t, int64(501), bundle.Comment.GitHubID)
	require.Len(t, bundle.Snippets, 1)
	assert.Equal(t, "x := 1", bundle.Snippets[0].Content)
	require.NotNil(t, bundle.Thread)
	assert.Equal(t, "client.go", bundle.Thread.ThreadPath)
	assert.Equal(t, 4, bundle.Thread.ThreadPosition)

	// Checkpoint advanced after a clean pass.
	updated, _ := store.Get(context.Background(), 1)
	require.NotNil(t, updated.LastSyncedAt)
}

func TestCollectRepository_SkipsBeforeCheckpoint(t *testing.T) {
	now := time.Now().UTC()
	checkpoint := now.Add(-time.Hour)

	repo := testRepo()
	repo.LastSyncedAt = &checkpoint

	gh := &fakeGitHub{prs: []github.PullRequest{
		closedPR(201, 1, now),                     // after checkpoint: processed
		closedPR(202, 2, checkpoint.Add(-time.Hour)), // before checkpoint: skipped
		closedPR(203, 3, checkpoint),              // exactly at checkpoint: skipped
	}}
	store := newMemRepoStore(repo)
	prs := &memPRStore{}
	collector := NewCollectorService(gh, store, prs, zap.NewNop())

	stats, err := collector.CollectRepository(context.Background(), repo, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 2, stats.Skipped)
}

func TestCollectRepository_ForceIgnoresCheckpoint(t *testing.T) {
	now := time.Now().UTC()
	checkpoint := now.Add(time.Hour) // everything is before the checkpoint

	repo := testRepo()
	repo.LastSyncedAt = &checkpoint

	gh := &fakeGitHub{prs: []github.PullRequest{closedPR(201, 1, now)}}
	store := newMemRepoStore(repo)
	prs := &memPRStore{}
	collector := NewCollectorService(gh, store, prs, zap.NewNop())

	stats, err := collector.CollectRepository(context.Background(), repo, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Zero(t, stats.Skipped)
}

func TestCollectRepository_PersistFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	now := time.Now().UTC()
	gh := &fakeGitHub{prs: []github.PullRequest{closedPR(201, 1, now), closedPR(202, 2, now)}}
	store := newMemRepoStore(testRepo())
	prs := &memPRStore{failOn: map[int64]error{201: errors.New("constraint violation")}}
	collector := NewCollectorService(gh, store, prs, zap.NewNop())

	repo, _ := store.Get(context.Background(), 1)
	stats, err := collector.CollectRepository(context.Background(), repo, false, nil)
	require.NoError(t, err)

	// The failed PR is counted and the pass continues to the next one.
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Errors)

	// Failed PRs must be retried next run, so the checkpoint stays put.
	updated, _ := store.Get(context.Background(), 1)
	assert.Nil(t, updated.LastSyncedAt)
}

func TestCollectRepository_ReportsPhaseTransitions(t *testing.T) {
	now := time.Now().UTC()
	gh := &fakeGitHub{
		prs: []github.PullRequest{closedPR(201, 1, now), closedPR(202, 2, now)},
	}
	store := newMemRepoStore(testRepo())
	collector := NewCollectorService(gh, store, &memPRStore{}, zap.NewNop())

	var phases []JobStatus
	repo, _ := store.Get(context.Background(), 1)
	_, err := collector.CollectRepository(context.Background(), repo, false, func(p JobStatus) {
		phases = append(phases, p)
	})
	require.NoError(t, err)

	// Each pull request alternates between fetching its comments and
	// persisting the batch.
	assert.Equal(t, []JobStatus{JobFetching, JobPersisting, JobFetching, JobPersisting}, phases)
}

func TestCollectRepository_FetchErrorAborts(t *testing.T) {
	gh := &fakeGitHub{listErr: &github.FetchError{StatusCode: 502, Transient: true}}
	store := newMemRepoStore(testRepo())
	collector := NewCollectorService(gh, store, &memPRStore{}, zap.NewNop())

	repo, _ := store.Get(context.Background(), 1)
	_, err := collector.CollectRepository(context.Background(), repo, false, nil)
	require.Error(t, err)

	var fetchErr *github.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func intPtr(v int) *int { return &v }
