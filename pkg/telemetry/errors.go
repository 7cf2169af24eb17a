package telemetry

import "errors"

var (
	// ErrInvalidConfig is returned when a sink configuration is invalid.
	ErrInvalidConfig = errors.New("telemetry: invalid config")

	// ErrClosed is returned when an operation is attempted on a closed sink.
	ErrClosed = errors.New("telemetry: closed")
)
