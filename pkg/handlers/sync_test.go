package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/github"
	"github.com/octorules/engine/pkg/models"
	"github.com/octorules/engine/pkg/repositories"
	"github.com/octorules/engine/pkg/services"
)

// stubGitHub satisfies services.GitHubClient without doing anything; handler
// tests never let a job reach the fetch phase.
type stubGitHub struct{}

func (stubGitHub) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	return &github.Repository{ID: 1, Name: name, FullName: owner + "/" + name}, nil
}

func (stubGitHub) ListClosedPullRequests(ctx context.Context, owner, name string, fn func(github.PullRequest) error) error {
	return nil
}

func (stubGitHub) ListReviewComments(ctx context.Context, owner, name string, number int, fn func(github.ReviewComment) error) error {
	return nil
}

type stubPRStore struct{}

func (stubPRStore) PersistPullRequest(ctx context.Context, pr *models.PullRequest, bundles []repositories.CommentBundle) (*repositories.PersistResult, error) {
	return &repositories.PersistResult{}, nil
}

func (stubPRStore) GetByGitHubID(ctx context.Context, githubID int64) (*models.PullRequest, error) {
	return nil, nil
}

func (stubPRStore) CountByRepository(ctx context.Context, repositoryID int64) (int64, error) {
	return 0, nil
}

type fixedRateLimit struct {
	limit github.RateLimit
}

func (f fixedRateLimit) RateLimit() github.RateLimit { return f.limit }

// newIdleSyncService builds a SyncService whose workers are never started,
// so enqueued jobs stay queued and status reads are deterministic.
func newIdleSyncService(repos repositories.RepositoryRepository) *services.SyncService {
	collector := services.NewCollectorService(stubGitHub{}, repos, stubPRStore{}, zap.NewNop())
	return services.NewSyncService(collector, nil, repos, 1, 4, 0, zap.NewNop())
}

func TestSyncHandler_Status(t *testing.T) {
	svc := newIdleSyncService(&mockRepositoryRepository{})
	handler := NewSyncHandler(svc, fixedRateLimit{github.RateLimit{Remaining: 4999, Limit: 5000}}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	rec := httptest.NewRecorder()
	handler.Status(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), data["workers"])
	assert.Equal(t, false, data["stopped"])

	rate, ok := data["rate_limit"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(4999), rate["remaining"])
}

func TestSyncHandler_SyncRepository_Enqueues(t *testing.T) {
	repos := &mockRepositoryRepository{repo: &models.Repository{ID: 3, FullName: "acme/widgets", IsActive: true}}
	svc := newIdleSyncService(repos)
	handler := NewSyncHandler(svc, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/3",
		jsonBody(t, SyncRequest{Force: true}))
	req.SetPathValue("id", "3")
	rec := httptest.NewRecorder()
	handler.SyncRepository(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, true, data["force"])
}

func TestSyncHandler_SyncRepository_InactiveConflict(t *testing.T) {
	repos := &mockRepositoryRepository{repo: &models.Repository{ID: 3, FullName: "acme/widgets", IsActive: false}}
	svc := newIdleSyncService(repos)
	handler := NewSyncHandler(svc, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/3", nil)
	req.SetPathValue("id", "3")
	rec := httptest.NewRecorder()
	handler.SyncRepository(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "repository_inactive")
}

func TestSyncHandler_Stop_ThenEnqueueConflicts(t *testing.T) {
	repos := &mockRepositoryRepository{repo: &models.Repository{ID: 3, FullName: "acme/widgets", IsActive: true}}
	svc := newIdleSyncService(repos)
	handler := NewSyncHandler(svc, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/stop", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/3", nil)
	req.SetPathValue("id", "3")
	rec = httptest.NewRecorder()
	handler.SyncRepository(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "sync_stopped")
}

func TestSyncHandler_RepositoryStatus(t *testing.T) {
	repos := &mockRepositoryRepository{repo: &models.Repository{ID: 3, FullName: "acme/widgets", IsActive: true}}
	svc := newIdleSyncService(repos)
	handler := NewSyncHandler(svc, nil, zap.NewNop())

	_, err := svc.EnqueueRepository(3, false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/3/status", nil)
	req.SetPathValue("id", "3")
	rec := httptest.NewRecorder()
	handler.RepositoryStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), data["repository_id"])
}

func TestSyncHandler_RepositoryStatus_NoJobs(t *testing.T) {
	svc := newIdleSyncService(&mockRepositoryRepository{})
	handler := NewSyncHandler(svc, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/9/status", nil)
	req.SetPathValue("id", "9")
	rec := httptest.NewRecorder()
	handler.RepositoryStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncHandler_JobNotFound(t *testing.T) {
	svc := newIdleSyncService(&mockRepositoryRepository{})
	handler := NewSyncHandler(svc, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/0c7f2f9e-0000-0000-0000-000000000000", nil)
	req.SetPathValue("id", "0c7f2f9e-0000-0000-0000-000000000000")
	rec := httptest.NewRecorder()
	handler.Job(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
