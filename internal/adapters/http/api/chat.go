package api

import (
	"net/http"
	"strings"

	"github.com/bidwise/matchd/internal/domain/chat"
)

// ChatHandler handles conversational assistant requests.
type ChatHandler struct {
	deps Dependencies
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(deps Dependencies) *ChatHandler {
	return &ChatHandler{deps: deps}
}

// HandleChat handles POST /chat requests.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", errEmptyMessage)
		return
	}

	resp, err := h.deps.Chat(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type clearConversationResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
}

// HandleClear handles DELETE /chat/{conversation_id} requests.
func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("conversation_id")

	if err := h.deps.ClearConversation(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearConversationResponse{Status: "cleared", ConversationID: id})
}
