package stream

import "errors"

// Stream client errors.
var (
	// ErrInvalidConfig is returned when the client configuration is invalid.
	ErrInvalidConfig = errors.New("stream: invalid config")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("stream: client already started")

	// ErrStopped is returned by operations on a stopped client.
	ErrStopped = errors.New("stream: client stopped")

	// ErrNotSnapshot is returned by Refresh when the client is not in
	// snapshot mode.
	ErrNotSnapshot = errors.New("stream: client is not in snapshot mode")

	// ErrUnsupportedKind is returned when no session can be built for a kind.
	ErrUnsupportedKind = errors.New("stream: unsupported transport kind")
)
