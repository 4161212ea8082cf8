package api

import "errors"

// Sentinel kinds for API errors.
var (
	errMissingUserIDs = errors.New("user_ids must not be empty")
	errEmptyUserID    = errors.New("user_ids must not contain empty ids")
	errInvalidLimit   = errors.New("limit must be between 1 and 100")
	errEmptyMessage   = errors.New("message must not be empty")
)
