package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when advertising is started twice.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrInvalidPort is returned when the port number is out of range.
	ErrInvalidPort = errors.New("discovery: invalid port (must be 1-65535)")

	// ErrInvalidInstanceName is returned for an empty instance name.
	ErrInvalidInstanceName = errors.New("discovery: invalid instance name")

	// ErrServiceNotFound is returned when no matching service answered.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrNoAddresses is returned when a service answered without addresses.
	ErrNoAddresses = errors.New("discovery: service has no addresses")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")

	// ErrInvalidTXTRecord is returned when a TXT record has invalid format.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record format")
)
