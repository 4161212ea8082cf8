// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"

	"github.com/bidwise/matchd/internal/domain/matching"
)

// MatchHandler handles job matching requests.
type MatchHandler struct {
	deps Dependencies
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(deps Dependencies) *MatchHandler {
	return &MatchHandler{deps: deps}
}

// matchRequest mirrors the OpenAPI schema for POST /matches.
type matchRequest struct {
	JobID          string   `json:"job_id"`
	JobDescription string   `json:"job_description"`
	RequiredSkills []string `json:"required_skills"`
	TopK           int      `json:"top_k"`
}

// HandleMatch handles POST /matches requests.
func (h *MatchHandler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.deps.MatchJob(r.Context(), matching.JobRequest{
		JobID:          req.JobID,
		Description:    req.JobDescription,
		RequiredSkills: req.RequiredSkills,
		TopK:           req.TopK,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
