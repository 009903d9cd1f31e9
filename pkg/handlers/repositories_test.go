package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/models"
)

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

// mockRepositoryRepository is a mock for RepositoryRepository.
type mockRepositoryRepository struct {
	repos     []models.Repository
	repo      *models.Repository
	getErr    error
	deleteErr error

	deletedID      int64
	lastActiveOnly bool
}

func (m *mockRepositoryRepository) Upsert(ctx context.Context, repo *models.Repository) (bool, error) {
	return true, nil
}

func (m *mockRepositoryRepository) Get(ctx context.Context, id int64) (*models.Repository, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.repo, nil
}

func (m *mockRepositoryRepository) GetByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	return m.repo, nil
}

func (m *mockRepositoryRepository) List(ctx context.Context, activeOnly bool) ([]models.Repository, error) {
	m.lastActiveOnly = activeOnly
	return m.repos, nil
}

func (m *mockRepositoryRepository) SetLastSyncedAt(ctx context.Context, id int64, t time.Time) error {
	return nil
}

func (m *mockRepositoryRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return nil
}

func (m *mockRepositoryRepository) Delete(ctx context.Context, id int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedID = id
	return nil
}

func TestRepositoryHandler_List(t *testing.T) {
	repos := &mockRepositoryRepository{repos: []models.Repository{
		{ID: 1, FullName: "acme/widgets", IsActive: true},
		{ID: 2, FullName: "acme/gadgets", IsActive: false},
	}}
	handler := NewRepositoryHandler(nil, repos, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/repositories?active=true", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, repos.lastActiveOnly)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, data, 2)
}

func TestRepositoryHandler_Get_NotFound(t *testing.T) {
	repos := &mockRepositoryRepository{getErr: apperrors.ErrNotFound}
	handler := NewRepositoryHandler(nil, repos, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/repositories/99", nil)
	req.SetPathValue("id", "99")
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestRepositoryHandler_Delete(t *testing.T) {
	repos := &mockRepositoryRepository{}
	handler := NewRepositoryHandler(nil, repos, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/repositories/5", nil)
	req.SetPathValue("id", "5")
	rec := httptest.NewRecorder()
	handler.Delete(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(5), repos.deletedID)
}

func TestRepositoryHandler_Delete_InvalidID(t *testing.T) {
	handler := NewRepositoryHandler(nil, &mockRepositoryRepository{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/repositories/not-a-number", nil)
	req.SetPathValue("id", "not-a-number")
	rec := httptest.NewRecorder()
	handler.Delete(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRepositoryHandler_Enroll_BadBody(t *testing.T) {
	handler := NewRepositoryHandler(nil, &mockRepositoryRepository{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/repositories",
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.Enroll(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestRepositoryHandler_Enroll_MissingFields(t *testing.T) {
	handler := NewRepositoryHandler(nil, &mockRepositoryRepository{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/repositories",
		jsonBody(t, EnrollRequest{Owner: "acme"}))
	rec := httptest.NewRecorder()
	handler.Enroll(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_fields")
}

func TestRepositoryHandler_Enroll_BadFullName(t *testing.T) {
	handler := NewRepositoryHandler(nil, &mockRepositoryRepository{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/repositories",
		jsonBody(t, EnrollRequest{FullName: "no-slash"}))
	rec := httptest.NewRecorder()
	handler.Enroll(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_full_name")
}
