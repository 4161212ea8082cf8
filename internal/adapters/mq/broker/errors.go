package broker

import "errors"

// Sentinel kinds for broker errors.
var (
	ErrClosed        = errors.New("broker closed")
	ErrPublishFailed = errors.New("publish not confirmed")
)
