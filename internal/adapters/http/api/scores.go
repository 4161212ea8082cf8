// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bidwise/matchd/internal/adapters/leaderboard"
)

// ScoresHandler handles score calculation and lookup requests.
type ScoresHandler struct {
	deps Dependencies
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps Dependencies) *ScoresHandler {
	return &ScoresHandler{deps: deps}
}

// HandleCalculate handles POST /scores/{user_id} requests.
func (h *ScoresHandler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	rec, err := h.deps.CalculateScore(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleGet handles GET /scores/{user_id} requests. It only reads the
// cache; a miss is a 404, never a computation.
func (h *ScoresHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	rec, ok := h.deps.CachedScore(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
)

type topScoresResponse struct {
	Freelancers []leaderboard.Entry `json:"freelancers"`
	Count       int                 `json:"count"`
}

// HandleTop handles GET /scores/top requests. The limit query parameter
// defaults to 10 and must stay within 1..100.
func (h *ScoresHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTopLimit {
			writeError(w, http.StatusBadRequest, "invalid_request", errInvalidLimit)
			return
		}
		limit = n
	}

	entries, err := h.deps.TopScores(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, topScoresResponse{Freelancers: entries, Count: len(entries)})
}

type bulkScoreRequest struct {
	UserIDs []string `json:"user_ids"`
}

type bulkScoreResponse struct {
	Results []ScoreOutcome `json:"results"`
}

// HandleBulk handles POST /scores/bulk requests.
func (h *ScoresHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkScoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", errMissingUserIDs)
		return
	}
	for _, id := range req.UserIDs {
		if strings.TrimSpace(id) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", errEmptyUserID)
			return
		}
	}

	writeJSON(w, http.StatusOK, bulkScoreResponse{Results: h.deps.BulkCalculate(r.Context(), req.UserIDs)})
}
