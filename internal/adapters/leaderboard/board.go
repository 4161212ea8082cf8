// Package leaderboard keeps the freelancers ordered by their latest score.
//
// Ordering: score DESC, then user id ASC (deterministic). Equal scores
// share a rank.
package leaderboard

import "context"

// Entry is one leaderboard row.
type Entry struct {
	Rank   int     `json:"rank"`
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
	Tier   string  `json:"tier"`
}

// Board provides read/write access to the ranking state. Implementations
// must be safe for concurrent use.
type Board interface {
	// Update sets the freelancer's current score, replacing any previous
	// one. Scores move in both directions on re-score.
	Update(ctx context.Context, userID string, score float64) error

	// Remove drops the freelancer; removing an unknown id is a no-op.
	Remove(ctx context.Context, userID string) error

	// Rank returns the freelancer's current row, or ErrNotFound.
	Rank(ctx context.Context, userID string) (Entry, error)

	// Top returns the best n rows in rank order, fewer when the board
	// holds fewer. n below one is ErrInvalidLimit.
	Top(ctx context.Context, n int) ([]Entry, error)

	// Len returns the number of ranked freelancers.
	Len() int
}
