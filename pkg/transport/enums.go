package transport

import (
	"fmt"
	"strings"
)

// Kind identifies the transport used to deliver video frames.
type Kind int

const (
	// KindAuto prefers WebRTC when the runtime can create peer connections and
	// falls back to WebSocket. It is resolved before a session is created.
	KindAuto Kind = iota
	// KindWebSocket streams encoded images over a binary WebSocket.
	KindWebSocket
	// KindWebRTC receives one inbound video track over a peer connection.
	KindWebRTC
	// KindSnapshot fetches single images over HTTP. It is a degraded mode with
	// no session and no reconnection logic.
	KindSnapshot
)

// String returns the string representation of the transport kind.
func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindWebSocket:
		return "websocket"
	case KindWebRTC:
		return "webrtc"
	case KindSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// IsValid returns true if the kind is a known value.
func (k Kind) IsValid() bool {
	return k >= KindAuto && k <= KindSnapshot
}

// IsSession returns true if the kind is backed by a live transport session.
func (k Kind) IsSession() bool {
	return k == KindWebSocket || k == KindWebRTC
}

// ParseKind parses a transport name. Matching is case-insensitive and
// accepts "ws" and "rtc" as short forms.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return KindAuto, nil
	case "websocket", "ws":
		return KindWebSocket, nil
	case "webrtc", "rtc":
		return KindWebRTC, nil
	case "snapshot", "image":
		return KindSnapshot, nil
	default:
		return KindAuto, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
