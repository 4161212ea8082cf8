// Package event defines the inbound and outbound domain events and their
// wire format. Inbound payloads are decoded into a small closed set of
// tagged variants, each validated at decode time.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bidwise/matchd/internal/domain/model"
)

// Type identifies a domain event on the wire. Inbound types double as
// broker routing keys.
type Type string

const (
	// Inbound.
	TypeFreelancerRegistered Type = "freelancer.registered"
	TypeFreelancerUpdated    Type = "freelancer.updated"
	TypeFreelancerDeleted    Type = "freelancer.deleted"
	TypeJobPosted            Type = "job.posted"

	// Outbound.
	TypeScoreCalculated       Type = "score.calculated"
	TypeMatchesFound          Type = "matches.found"
	TypeFreelancerIndexed     Type = "freelancer.indexed"
	TypeFreelancerIndexFailed Type = "freelancer.index_failed"
)

// Inbound is a decoded, validated domain event.
type Inbound interface {
	// Type returns the event type tag.
	Type() Type

	// Key returns the entity this event is about (user_id or job_id).
	// Used for per-key serialization and logging.
	Key() string

	// Fingerprint returns a stable identity of (type, key, payload) used
	// to short-circuit exact broker redeliveries after success.
	Fingerprint() string
}

// FreelancerPayload is the snapshot carried by freelancer.* events.
// Only UserID is required; the remaining fields, when present, refresh the
// local projection before indexing.
type FreelancerPayload struct {
	UserID          string   `json:"user_id"`
	Skills          []string `json:"skills,omitempty"`
	ExperienceLevel string   `json:"experience_level,omitempty"`
	ProfileText     string   `json:"profile_text,omitempty"`
}

// Snapshot converts the payload to a FreelancerRecord when it carries one.
// It returns false when the event only references the user by id.
func (p FreelancerPayload) Snapshot(at time.Time) (model.FreelancerRecord, bool) {
	if len(p.Skills) == 0 && p.ExperienceLevel == "" && p.ProfileText == "" {
		return model.FreelancerRecord{}, false
	}
	return model.FreelancerRecord{
		UserID:          p.UserID,
		Skills:          model.NormalizeSkills(p.Skills),
		ExperienceLevel: model.ParseExperienceLevel(p.ExperienceLevel),
		ProfileText:     p.ProfileText,
		UpdatedAt:       at,
	}, true
}

// FreelancerRegistered announces a new freelancer to index and score.
type FreelancerRegistered struct {
	FreelancerPayload
	fingerprint string
}

func (e FreelancerRegistered) Type() Type          { return TypeFreelancerRegistered }
func (e FreelancerRegistered) Key() string         { return e.UserID }
func (e FreelancerRegistered) Fingerprint() string { return e.fingerprint }

// FreelancerUpdated announces a profile change to re-index and re-score.
type FreelancerUpdated struct {
	FreelancerPayload
	fingerprint string
}

func (e FreelancerUpdated) Type() Type          { return TypeFreelancerUpdated }
func (e FreelancerUpdated) Key() string         { return e.UserID }
func (e FreelancerUpdated) Fingerprint() string { return e.fingerprint }

// FreelancerDeleted announces a removal to de-index.
type FreelancerDeleted struct {
	UserID      string `json:"user_id"`
	fingerprint string
}

func (e FreelancerDeleted) Type() Type          { return TypeFreelancerDeleted }
func (e FreelancerDeleted) Key() string         { return e.UserID }
func (e FreelancerDeleted) Fingerprint() string { return e.fingerprint }

// JobPosted asks for freelancer matches for a new job.
type JobPosted struct {
	JobID          string   `json:"job_id"`
	ClientID       string   `json:"client_id,omitempty"`
	JobDescription string   `json:"job_description"`
	RequiredSkills []string `json:"required_skills"`
	TopK           int      `json:"top_k,omitempty"`
	fingerprint    string
}

func (e JobPosted) Type() Type          { return TypeJobPosted }
func (e JobPosted) Key() string         { return e.JobID }
func (e JobPosted) Fingerprint() string { return e.fingerprint }

// envelope is the wire shape shared by all events.
type envelope struct {
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Decode parses and validates an inbound event body.
// Malformed bodies and missing required fields wrap model.ErrValidation;
// such events are rejected permanently, never redelivered.
func Decode(body []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: undecodable body: %v", model.ErrValidation, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", model.ErrValidation)
	}

	fp := fingerprint(env.EventType, env.Data)

	switch Type(env.EventType) {
	case TypeFreelancerRegistered:
		var p FreelancerPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if err := requireField("user_id", p.UserID); err != nil {
			return nil, err
		}
		return FreelancerRegistered{FreelancerPayload: p, fingerprint: fp}, nil

	case TypeFreelancerUpdated:
		var p FreelancerPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if err := requireField("user_id", p.UserID); err != nil {
			return nil, err
		}
		return FreelancerUpdated{FreelancerPayload: p, fingerprint: fp}, nil

	case TypeFreelancerDeleted:
		var p FreelancerDeleted
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if err := requireField("user_id", p.UserID); err != nil {
			return nil, err
		}
		p.fingerprint = fp
		return p, nil

	case TypeJobPosted:
		var p JobPosted
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if err := requireField("job_id", p.JobID); err != nil {
			return nil, err
		}
		if err := requireField("job_description", p.JobDescription); err != nil {
			return nil, err
		}
		p.fingerprint = fp
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown event_type %q", model.ErrValidation, env.EventType)
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: undecodable data: %v", model.ErrValidation, err)
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: missing %s", model.ErrValidation, name)
	}
	return nil
}

// fingerprint hashes (event_type, payload) so an exact redelivery maps to
// the same identity while a changed payload does not.
func fingerprint(eventType string, data json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Outbound is an event emitted by this service.
type Outbound struct {
	EventType Type
	Data      any
}

// Encode renders the outbound wire shape.
func (o Outbound) Encode(now time.Time) ([]byte, error) {
	data, err := json.Marshal(o.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.EventType, err)
	}
	return json.Marshal(envelope{
		EventType: string(o.EventType),
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	})
}

// ScoreCalculated is the payload of score.calculated.
type ScoreCalculated struct {
	UserID    string             `json:"user_id"`
	Score     float64            `json:"score"`
	Tier      string             `json:"tier"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// MatchesFound is the payload of matches.found.
type MatchesFound struct {
	JobID      string        `json:"job_id"`
	ClientID   string        `json:"client_id,omitempty"`
	MatchCount int           `json:"match_count"`
	Matches    []model.Match `json:"matches"`
}

// FreelancerIndexed is the payload of freelancer.indexed.
type FreelancerIndexed struct {
	UserID string `json:"user_id"`
}

// FreelancerIndexFailed is the payload of freelancer.index_failed.
type FreelancerIndexFailed struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}
