package leaderboard

import "errors"

// Sentinel errors for leaderboard lookups.
var (
	ErrNotFound     = errors.New("freelancer not ranked")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)
