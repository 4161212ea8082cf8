// Package chat answers platform questions with completions grounded in the
// freelancer index.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bidwise/matchd/internal/adapters/index"
	"github.com/bidwise/matchd/internal/adapters/provider"
	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/pkg/logger"
	"github.com/bidwise/matchd/pkg/metrics"
)

// Default chat configuration constants.
const (
	defaultMaxTurns    = 20
	defaultRetrievalK  = 5
	defaultSourceLimit = 3
)

// retrievalHints are the message words that trigger a freelancer lookup
// before answering.
var retrievalHints = []string{"find", "hire", "developer", "freelancer", "designer", "expert"}

const defaultKnowledge = `You are the assistant for a freelancing marketplace.
Freelancers carry a quality score from 0 to 100 bucketed into tiers:
elite (90+), excellent (80+), good (70+), average (50+), new (below 50).
Clients post jobs; the platform matches freelancers by skills and by
semantic similarity between the job and their profiles.`

const promptInstructions = `Answer questions about the platform, help with
navigation and usage, and recommend freelancers only from the provided
list. Be concise. Do not invent features or people.`

// Request is one user chat turn. A blank ConversationID starts a new
// conversation.
type Request struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// Source names an indexed freelancer that grounded the answer.
type Source struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

// Response is the assistant's reply for one turn.
type Response struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	Sources        []Source `json:"sources,omitempty"`
}

// turn is one stored conversation exchange entry.
type turn struct {
	role    string
	content string
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRetrieval sets how many indexed freelancers ground an answer.
func WithRetrieval(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.retrievalK = k
		}
	}
}

// WithMaxTurns caps how much history a conversation retains.
func WithMaxTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithKnowledge replaces the built-in platform primer in the system prompt.
func WithKnowledge(text string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(text) != "" {
			e.knowledge = text
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine turns user messages into grounded assistant replies. Retrieval
// failures degrade to an ungrounded answer; only generation failures fail
// the turn.
type Engine struct {
	gen      provider.Generator
	embedder provider.Embedder
	idx      index.Index

	retrievalK int
	maxTurns   int
	knowledge  string
	log        logger.Logger

	mu     sync.Mutex
	convos map[string][]turn
}

// NewEngine creates a chat engine over the generator, embedder, and index.
func NewEngine(gen provider.Generator, embedder provider.Embedder, idx index.Index, opts ...Option) *Engine {
	e := &Engine{
		gen:        gen,
		embedder:   embedder,
		idx:        idx,
		retrievalK: defaultRetrievalK,
		maxTurns:   defaultMaxTurns,
		knowledge:  defaultKnowledge,
		log:        logger.Named("chat"),
		convos:     make(map[string][]turn),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Chat answers one user turn, retrieving freelancer context when the
// message asks for people.
func (e *Engine) Chat(ctx context.Context, req Request) (Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Response{}, fmt.Errorf("%w: message must not be empty", model.ErrValidation)
	}

	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = uuid.NewString()
	}

	var hits []index.Hit
	if wantsFreelancers(message) {
		hits = e.retrieve(ctx, message)
	}

	answer, err := e.gen.Generate(ctx, e.systemPrompt(hits), message)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %v", model.ErrChatUnavailable, err)
	}

	e.remember(convID, message, answer)
	metrics.RecordChatTurn()

	return Response{
		ConversationID: convID,
		Message:        answer,
		Sources:        sources(hits),
	}, nil
}

// ClearConversation drops the stored history for a conversation.
func (e *Engine) ClearConversation(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.convos[id]; !ok {
		return fmt.Errorf("%w: conversation %s", model.ErrNotFound, id)
	}
	delete(e.convos, id)
	return nil
}

// ActiveConversations returns how many conversations hold history.
func (e *Engine) ActiveConversations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.convos)
}

// History returns the stored turn count for a conversation.
func (e *Engine) History(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.convos[id])
}

func (e *Engine) retrieve(ctx context.Context, message string) []index.Hit {
	vec, err := e.embedder.Embed(ctx, message)
	if err != nil {
		e.log.Warn(ctx, "chat retrieval embed failed", logger.Error(err))
		return nil
	}
	hits, err := e.idx.Query(ctx, vec, e.retrievalK, nil)
	if err != nil {
		e.log.Warn(ctx, "chat retrieval query failed", logger.Error(err))
		return nil
	}
	return hits
}

func (e *Engine) systemPrompt(hits []index.Hit) string {
	var b strings.Builder
	b.WriteString(e.knowledge)
	if len(hits) > 0 {
		b.WriteString("\n\n=== AVAILABLE FREELANCERS ===\n")
		for i, h := range hits {
			if i >= defaultSourceLimit {
				break
			}
			fmt.Fprintf(&b, "Freelancer %d:\n- ID: %s\n- Skills: %s\n- Experience: %s\n",
				i+1,
				h.Entry.UserID,
				strings.Join(h.Entry.Metadata.Skills, ", "),
				h.Entry.Metadata.ExperienceLevel.String(),
			)
		}
	}
	b.WriteString("\n\n=== INSTRUCTIONS ===\n")
	b.WriteString(promptInstructions)
	return b.String()
}

func (e *Engine) remember(convID, message, answer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := append(e.convos[convID],
		turn{role: "user", content: message},
		turn{role: "assistant", content: answer},
	)
	if len(history) > e.maxTurns {
		history = history[len(history)-e.maxTurns:]
	}
	e.convos[convID] = history
}

func wantsFreelancers(message string) bool {
	lowered := strings.ToLower(message)
	for _, hint := range retrievalHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

func sources(hits []index.Hit) []Source {
	if len(hits) == 0 {
		return nil
	}
	out := make([]Source, 0, defaultSourceLimit)
	for i, h := range hits {
		if i >= defaultSourceLimit {
			break
		}
		out = append(out, Source{UserID: h.Entry.UserID, Similarity: h.Similarity})
	}
	return out
}
