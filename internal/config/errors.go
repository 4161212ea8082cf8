package config

import "errors"

// Sentinel errors surfaced by Load; callers branch with errors.Is.
var (
	// ErrInvalidConfig marks a configuration that parsed but failed
	// validation (empty addr, non-positive bounds, zero weight sets).
	ErrInvalidConfig = errors.New("invalid config")

	// ErrLoadConfig marks a file or environment layer that could not be
	// read or unmarshaled.
	ErrLoadConfig = errors.New("load config failed")
)
