package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/repositories"
	"github.com/octorules/engine/pkg/services"
)

// EnrollRequest is the POST body for enrolling a repository.
type EnrollRequest struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

// RepositoryHandler handles repository enrollment HTTP requests.
type RepositoryHandler struct {
	sync   *services.SyncService
	repos  repositories.RepositoryRepository
	logger *zap.Logger
}

// NewRepositoryHandler creates a new repository handler.
func NewRepositoryHandler(sync *services.SyncService, repos repositories.RepositoryRepository, logger *zap.Logger) *RepositoryHandler {
	return &RepositoryHandler{sync: sync, repos: repos, logger: logger}
}

// RegisterRoutes registers the repository routes.
func (h *RepositoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/repositories", h.Enroll)
	mux.HandleFunc("GET /api/v1/repositories", h.List)
	mux.HandleFunc("GET /api/v1/repositories/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/repositories/{id}", h.Delete)
}

// Enroll registers a repository for synchronization. The target may be given
// as owner+name or as a single full_name ("owner/name").
func (h *RepositoryHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	owner, name := req.Owner, req.Name
	if req.FullName != "" {
		parts := strings.SplitN(req.FullName, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_full_name", "full_name must be owner/name"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		owner, name = parts[0], parts[1]
	}
	if owner == "" || name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_fields", "owner and name are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	repo, created, err := h.sync.EnrollRepository(r.Context(), owner, name)
	if err != nil {
		h.logger.Error("Failed to enroll repository",
			zap.String("owner", owner),
			zap.String("name", name),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "enroll_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: repo}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List returns enrolled repositories. Pass ?active=true to filter.
func (h *RepositoryHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	repos, err := h.repos.List(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("Failed to list repositories", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list repositories"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: repos}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get returns a single enrolled repository by internal ID.
func (h *RepositoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	repo, err := h.repos.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Repository not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to get repository", zap.Int64("repository_id", id), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to get repository"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: repo}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete removes a repository and all of its synced data.
func (h *RepositoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.repos.Delete(r.Context(), id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Repository not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to delete repository", zap.Int64("repository_id", id), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to delete repository"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *RepositoryHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_repository_id", "Invalid repository ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}
