package transport

import "errors"

// Transport errors.
var (
	// ErrUnknownKind is returned when a transport name or value is not recognised.
	ErrUnknownKind = errors.New("transport: unknown kind")
)
