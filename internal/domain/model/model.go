// Package model contains domain records passed between layers.
package model

import (
	"strings"
	"time"
)

// ExperienceLevel is the ordered seniority scale for freelancers.
type ExperienceLevel int

const (
	ExperienceUnknown ExperienceLevel = iota
	ExperienceEntry
	ExperienceIntermediate
	ExperienceExpert
)

// ParseExperienceLevel maps the wire representation to the ordered enum.
// Unrecognized values map to ExperienceUnknown.
func ParseExperienceLevel(s string) ExperienceLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "entry":
		return ExperienceEntry
	case "intermediate":
		return ExperienceIntermediate
	case "expert":
		return ExperienceExpert
	default:
		return ExperienceUnknown
	}
}

func (l ExperienceLevel) String() string {
	switch l {
	case ExperienceEntry:
		return "entry"
	case ExperienceIntermediate:
		return "intermediate"
	case ExperienceExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// FreelancerRecord is the projection of a freelancer held by this service.
// The system of record lives in the user service; this is a derived view.
type FreelancerRecord struct {
	UserID          string
	Skills          []string
	ExperienceLevel ExperienceLevel
	ProfileText     string
	UpdatedAt       time.Time
}

// IndexEntry is what the semantic index stores per freelancer.
type IndexEntry struct {
	UserID    string
	Embedding []float32
	Metadata  EntryMetadata
}

// EntryMetadata carries the structured signals stored alongside an embedding.
type EntryMetadata struct {
	Skills          []string
	ExperienceLevel ExperienceLevel
}

// ScoreRecord is a computed freelancer quality score with its breakdown.
type ScoreRecord struct {
	UserID     string             `json:"user_id"`
	Score      float64            `json:"score"`
	Tier       string             `json:"tier"`
	Breakdown  map[string]float64 `json:"breakdown"`
	ComputedAt time.Time          `json:"computed_at"`
	TTL        time.Duration      `json:"ttl"`
}

// Tier buckets a score into a coarse quality label.
func Tier(score float64) string {
	switch {
	case score >= 90:
		return "elite"
	case score >= 80:
		return "excellent"
	case score >= 70:
		return "good"
	case score >= 50:
		return "average"
	default:
		return "new"
	}
}

// Match is a single ranked candidate inside a MatchResult.
type Match struct {
	UserID        string   `json:"user_id"`
	MatchScore    float64  `json:"match_score"`
	Similarity    float64  `json:"similarity"`
	MatchedSkills []string `json:"matched_skills"`
	MissingSkills []string `json:"missing_skills"`
}

// MatchResult is the ranked candidate list for a posted job.
// Matches are ordered by MatchScore descending, ties broken by UserID ascending.
type MatchResult struct {
	JobID      string    `json:"job_id"`
	Matches    []Match   `json:"matches"`
	ComputedAt time.Time `json:"computed_at"`
}

// EmbeddingText is what gets embedded for this freelancer: the profile
// text when present, otherwise a synthesis of the structured signals.
func (r FreelancerRecord) EmbeddingText() string {
	if text := strings.TrimSpace(r.ProfileText); text != "" {
		return text
	}
	var b strings.Builder
	b.WriteString(r.ExperienceLevel.String())
	b.WriteString(" freelancer")
	if len(r.Skills) > 0 {
		b.WriteString(" skilled in ")
		b.WriteString(strings.Join(r.Skills, ", "))
	}
	return b.String()
}

// NormalizeSkills lowercases, trims, and dedupes a skill list while keeping
// the original order of first occurrence.
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SkillOverlap returns |required ∩ held| / |required| on [0,1], plus the
// matched and missing required skills in their given order. An empty
// required set yields a full overlap.
func SkillOverlap(required, held []string) (overlap float64, matched, missing []string) {
	req := NormalizeSkills(required)
	if len(req) == 0 {
		return 1, nil, nil
	}
	have := make(map[string]struct{}, len(held))
	for _, s := range NormalizeSkills(held) {
		have[s] = struct{}{}
	}
	for _, s := range req {
		if _, ok := have[s]; ok {
			matched = append(matched, s)
		} else {
			missing = append(missing, s)
		}
	}
	return float64(len(matched)) / float64(len(req)), matched, missing
}
