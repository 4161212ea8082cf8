// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strings"
)

// IndexHandler handles semantic index maintenance requests.
type IndexHandler struct {
	deps Dependencies
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(deps Dependencies) *IndexHandler {
	return &IndexHandler{deps: deps}
}

// HandleIndex handles POST /index/{user_id} requests.
func (h *IndexHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	if err := h.deps.IndexFreelancer(r.Context(), userID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "indexed"})
}

type bulkIndexRequest struct {
	UserIDs []string `json:"user_ids"`
}

type bulkIndexResponse struct {
	Results []IndexOutcome `json:"results"`
}

// HandleBulk handles POST /index/bulk requests.
func (h *IndexHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkIndexRequest
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

	writeJSON(w, http.StatusOK, bulkIndexResponse{Results: h.deps.BulkIndex(r.Context(), req.UserIDs)})
}

// HandleDelete handles DELETE /index/{user_id} requests. Deleting an absent
// entry still returns 204.
func (h *IndexHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	if err := h.deps.DeleteFromIndex(r.Context(), userID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleReindex handles POST /index/reindex requests.
func (h *IndexHandler) HandleReindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.ReindexAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reindexed": n})
}
