package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/models"
	"github.com/octorules/engine/pkg/repositories"
)

// RuleValidityRequest is the PATCH body for marking a rule valid or invalid.
type RuleValidityRequest struct {
	IsValid bool `json:"is_valid"`
}

// RuleHandler handles extracted rule HTTP requests.
type RuleHandler struct {
	rules  repositories.ExtractedRuleRepository
	stats  repositories.RuleStatisticRepository
	logger *zap.Logger
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(rules repositories.ExtractedRuleRepository, stats repositories.RuleStatisticRepository, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{rules: rules, stats: stats, logger: logger}
}

// RegisterRoutes registers the rule and statistics routes.
func (h *RuleHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/rules", h.List)
	mux.HandleFunc("GET /api/v1/rules/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/rules/{id}/validity", h.SetValidity)
	mux.HandleFunc("GET /api/v1/repositories/{id}/rules", h.RepositoryRules)
	mux.HandleFunc("GET /api/v1/statistics/summary", h.Summary)
	mux.HandleFunc("GET /api/v1/statistics/repositories/{id}", h.RepositoryStatistics)
}

// List returns extracted rules filtered by query parameters.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRuleFilter(r)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rules, err := h.rules.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list rules", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list rules"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rules}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get returns one extracted rule by ID.
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_rule_id", "Invalid rule ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Rule not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to get rule", zap.Int64("rule_id", id), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to get rule"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rule}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetValidity overrides the validity flag on a rule, typically after human
// review of an extraction.
func (h *RuleHandler) SetValidity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_rule_id", "Invalid rule ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req RuleValidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.rules.SetValidity(r.Context(), id, req.IsValid); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Rule not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to update rule validity", zap.Int64("rule_id", id), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to update rule"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RepositoryRules returns rules extracted from one repository's review
// comments, honoring the same query filters as List.
func (h *RuleHandler) RepositoryRules(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_repository_id", "Invalid repository ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	filter, err := parseRuleFilter(r)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	filter.RepositoryID = id

	rules, err := h.rules.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list repository rules", zap.Int64("repository_id", id), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list rules"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rules}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Summary returns pipeline-wide counts and rule breakdowns.
func (h *RuleHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.Summary(r.Context())
	if err != nil {
		h.logger.Error("Failed to build summary statistics", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to build summary"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: summary}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RepositoryStatistics returns per-rule occurrence stats for one repository.
func (h *RuleHandler) RepositoryStatistics(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_repository_id", "Invalid repository ID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	stats, err := h.stats.ListByRepository(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list repository statistics", zap.Int64("repository_id", id), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list statistics"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: stats}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func parseRuleFilter(r *http.Request) (models.RuleFilter, error) {
	q := r.URL.Query()
	filter := models.RuleFilter{
		Category:  q.Get("category"),
		Severity:  q.Get("severity"),
		ValidOnly: q.Get("valid_only") == "true",
	}

	if raw := q.Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return filter, errors.New("min_confidence must be a number between 0 and 1")
		}
		filter.MinConfidence = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = v
	}

	return filter, nil
}
