package session

import "errors"

// Session package errors.
var (
	// ErrClosed is returned when starting a session that was already closed.
	ErrClosed = errors.New("session: closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrInvalidURL is returned when an endpoint URL is empty or not ws/wss.
	ErrInvalidURL = errors.New("session: invalid endpoint URL")

	// ErrDial is wrapped around handshake failures.
	ErrDial = errors.New("session: dial failed")

	// ErrUnexpectedClose is wrapped around read errors that were not caused
	// by Close.
	ErrUnexpectedClose = errors.New("session: connection closed unexpectedly")

	// ErrNegotiation is wrapped around offer/answer and description failures.
	ErrNegotiation = errors.New("session: negotiation failed")

	// ErrICE is reported when the ICE connection fails or disconnects.
	ErrICE = errors.New("session: ice connection lost")
)
