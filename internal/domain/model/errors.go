package model

import "errors"

// Failure taxonomy shared across engines, adapters, and the HTTP surface.
var (
	// ErrValidation marks malformed input or events. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrProviderUnavailable marks an embedding provider failure that
	// survived the retry policy.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrIndexUnavailable marks an unreachable semantic index backend.
	ErrIndexUnavailable = errors.New("semantic index unavailable")

	// ErrScoreUnavailable marks a score computation that could not finish.
	ErrScoreUnavailable = errors.New("score unavailable")

	// ErrMatchUnavailable marks a match computation that could not finish.
	ErrMatchUnavailable = errors.New("match unavailable")

	// ErrChatUnavailable marks an assistant turn that could not complete.
	ErrChatUnavailable = errors.New("chat unavailable")

	// ErrNotFound marks a miss on a read-only lookup. A normal outcome,
	// not a fault.
	ErrNotFound = errors.New("not found")
)
