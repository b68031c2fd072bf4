package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/store"
)

const (
	defaultLoadLimit = 50
	maxLoadLimit     = 500
	progressTimeout  = 3 * time.Second
)

// ProgressHandler exposes read-only load progress endpoints.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListLoads handles GET /v1/loads?status=&limit=&offset=. It returns a JSON
// object {"loads": [...]} on success, 400 for invalid filters, 503 when the
// repo is unavailable, or 500 if the repository call fails.
func (h *ProgressHandler) ListLoads(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultLoadLimit, maxLoadLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.LoadRunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	runs, err := h.repo.ListLoads(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list loads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list loads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loads": toLoadDTOs(runs),
	})
}

// GetLoad handles GET /v1/loads/{load_id}. 404 when the repository reports
// store.ErrNotFound.
func (h *ProgressHandler) GetLoad(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	loadID, err := parseLoadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetLoad(ctx, loadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "load not found")
			return
		}
		h.logger.Error("get load failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"load": toLoadDTO(run)})
}

func parseLoadID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "load_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("load_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid load_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.LoadRunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success", "done":
		return store.RunSuccess, nil
	case "error", "failed", "failure":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toLoadDTOs(in []store.LoadRun) []loadDTO {
	out := make([]loadDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toLoadDTO(run))
	}
	return out
}

func toLoadDTO(run store.LoadRun) loadDTO {
	return loadDTO{
		LoadID:        run.ID.String(),
		URL:           run.URL,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		UpdatedAt:     run.UpdatedAt,
		FinishedAt:    run.FinishedAt,
		TotalBytes:    run.TotalBytes,
		BytesReceived: run.BytesReceived,
		Percent:       run.Percent,
		Error:         run.ErrorMessage,
	}
}

type loadDTO struct {
	LoadID        string     `json:"load_id"`
	URL           string     `json:"url"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	TotalBytes    int64      `json:"total_bytes"`
	BytesReceived int64      `json:"bytes_received"`
	Percent       int        `json:"percent"`
	Error         *string    `json:"error,omitempty"`
}
