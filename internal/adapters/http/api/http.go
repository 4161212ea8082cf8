// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bidwise/matchd/internal/adapters/leaderboard"
	"github.com/bidwise/matchd/internal/app"
	"github.com/bidwise/matchd/internal/domain/chat"
	"github.com/bidwise/matchd/internal/domain/matching"
	"github.com/bidwise/matchd/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Scoring operations.
	CalculateScore(ctx context.Context, userID string) (model.ScoreRecord, error)
	CachedScore(userID string) (model.ScoreRecord, bool)
	BulkCalculate(ctx context.Context, userIDs []string) []ScoreOutcome
	TopScores(ctx context.Context, limit int) ([]leaderboard.Entry, error)

	// Chat operations.
	Chat(ctx context.Context, req chat.Request) (chat.Response, error)
	ClearConversation(conversationID string) error

	// Matching operations.
	MatchJob(ctx context.Context, req matching.JobRequest) (model.MatchResult, error)

	// Index operations.
	IndexFreelancer(ctx context.Context, userID string) error
	BulkIndex(ctx context.Context, userIDs []string) []IndexOutcome
	DeleteFromIndex(ctx context.Context, userID string) error
	ReindexAll(ctx context.Context) (int, error)
}

// ScoreOutcome and IndexOutcome mirror the bulk result shapes returned by
// the service.
type (
	ScoreOutcome = app.ScoreOutcome
	IndexOutcome = app.IndexOutcome
)

// Server wires HTTP routes for the business API.
type Server struct {
	scoresHandler *ScoresHandler
	chatHandler   *ChatHandler
	matchHandler  *MatchHandler
	indexHandler  *IndexHandler
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		scoresHandler: NewScoresHandler(deps),
		chatHandler:   NewChatHandler(deps),
		matchHandler:  NewMatchHandler(deps),
		indexHandler:  NewIndexHandler(deps),
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /scores/bulk", MetricsMiddleware(s.scoresHandler.HandleBulk, "scores_bulk"))
	mux.HandleFunc("GET /scores/top", MetricsMiddleware(s.scoresHandler.HandleTop, "scores_top"))
	mux.HandleFunc("POST /scores/{user_id}", MetricsMiddleware(s.scoresHandler.HandleCalculate, "scores_calculate"))
	mux.HandleFunc("GET /scores/{user_id}", MetricsMiddleware(s.scoresHandler.HandleGet, "scores_get"))

	mux.HandleFunc("POST /matches", MetricsMiddleware(s.matchHandler.HandleMatch, "matches"))

	mux.HandleFunc("POST /chat", MetricsMiddleware(s.chatHandler.HandleChat, "chat"))
	mux.HandleFunc("DELETE /chat/{conversation_id}", MetricsMiddleware(s.chatHandler.HandleClear, "chat_clear"))

	mux.HandleFunc("POST /index/bulk", MetricsMiddleware(s.indexHandler.HandleBulk, "index_bulk"))
	mux.HandleFunc("POST /index/reindex", MetricsMiddleware(s.indexHandler.HandleReindex, "index_reindex"))
	mux.HandleFunc("POST /index/{user_id}", MetricsMiddleware(s.indexHandler.HandleIndex, "index_upsert"))
	mux.HandleFunc("DELETE /index/{user_id}", MetricsMiddleware(s.indexHandler.HandleDelete, "index_delete"))

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates domain sentinels into HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrProviderUnavailable),
		errors.Is(err, model.ErrScoreUnavailable),
		errors.Is(err, model.ErrMatchUnavailable),
		errors.Is(err, model.ErrChatUnavailable),
		errors.Is(err, model.ErrIndexUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", model.ErrValidation, err)
	}
	return nil
}
