package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/github"
	"github.com/octorules/engine/pkg/services"
)

// SyncRequest is the optional POST body for triggering syncs.
type SyncRequest struct {
	Force bool `json:"force"`
}

// SyncStatusResponse is the GET /api/v1/sync/status payload.
type SyncStatusResponse struct {
	services.SyncStatus
	RateLimit *github.RateLimit `json:"rate_limit,omitempty"`
}

// RateLimitSource reports the most recently observed API quota.
type RateLimitSource interface {
	RateLimit() github.RateLimit
}

// SyncHandler handles sync orchestration HTTP requests.
type SyncHandler struct {
	sync      *services.SyncService
	rateLimit RateLimitSource
	logger    *zap.Logger
}

// NewSyncHandler creates a new sync handler. rateLimit may be nil.
func NewSyncHandler(sync *services.SyncService, rateLimit RateLimitSource, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, rateLimit: rateLimit, logger: logger}
}

// RegisterRoutes registers the sync routes.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sync", h.SyncAll)
	mux.HandleFunc("POST /api/v1/sync/stop", h.Stop)
	mux.HandleFunc("GET /api/v1/sync/status", h.Status)
	mux.HandleFunc("POST /api/v1/sync/{id}", h.SyncRepository)
	mux.HandleFunc("GET /api/v1/sync/{id}/status", h.RepositoryStatus)
	mux.HandleFunc("GET /api/v1/jobs", h.Jobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.Job)
}

// SyncAll queues a sync job for every active repository.
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	req := h.decodeRequest(r)

	jobs, err := h.sync.EnqueueAll(req.Force)
	if err != nil {
		// Partial enqueue still reports the jobs that made it in.
		h.logger.Error("Failed to enqueue sync for all repositories", zap.Error(err))
		h.writeEnqueueError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: jobs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SyncRepository queues a sync job for one repository by internal ID.
func (h *SyncHandler) SyncRepository(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_repository_id", "Invalid repository ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	req := h.decodeRequest(r)

	job, err := h.sync.EnqueueRepository(id, req.Force)
	if err != nil {
		h.logger.Warn("Failed to enqueue sync",
			zap.Int64("repository_id", id),
			zap.Error(err))
		h.writeEnqueueError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: job}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Stop signals the sync service to wind down and waits for in-flight work.
func (h *SyncHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.sync.Stop()

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "sync service stopped"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Status returns the service-wide sync counters and the last observed API
// rate limit.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	response := SyncStatusResponse{SyncStatus: h.sync.Status()}
	if h.rateLimit != nil {
		limit := h.rateLimit.RateLimit()
		response.RateLimit = &limit
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RepositoryStatus returns the most recent sync job for one repository.
func (h *SyncHandler) RepositoryStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_repository_id", "Invalid repository ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	job, err := h.sync.LastJobForRepository(id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "No sync jobs for repository"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to get repository sync status", zap.Int64("repository_id", id), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to get sync status"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: job}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Jobs returns snapshots of all known sync jobs.
func (h *SyncHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: h.sync.Jobs()}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Job returns a snapshot of one sync job by UUID.
func (h *SyncHandler) Job(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_job_id", "Invalid job ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	job, err := h.sync.Job(id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Sync job not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to get sync job", zap.String("job_id", id.String()), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to get sync job"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: job}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// decodeRequest parses an optional JSON body; an empty or absent body means
// default options.
func (h *SyncHandler) decodeRequest(r *http.Request) SyncRequest {
	var req SyncRequest
	if r.Body == nil {
		return req
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return SyncRequest{}
	}
	return req
}

func (h *SyncHandler) writeEnqueueError(w http.ResponseWriter, err error) {
	var (
		status  int
		code    string
		message string
	)
	switch {
	case errors.Is(err, apperrors.ErrSyncStopped):
		status, code, message = http.StatusConflict, "sync_stopped", "Sync service has been stopped"
	case errors.Is(err, apperrors.ErrRepoNotEnrolled):
		status, code, message = http.StatusConflict, "repository_inactive", "Repository is not enrolled for sync"
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "Repository not found"
	case strings.Contains(err.Error(), "queue is full"):
		status, code, message = http.StatusTooManyRequests, "queue_full", err.Error()
	default:
		status, code, message = http.StatusInternalServerError, "internal_error", err.Error()
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
