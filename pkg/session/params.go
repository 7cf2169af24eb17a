package session

import "time"

// Session timing defaults.
const (
	// DefaultHeartbeatInterval is how often a WebSocket session sends a ping
	// while open.
	DefaultHeartbeatInterval = 15 * time.Second

	// DefaultMinRenderInterval caps the rendered frame rate near 60 Hz.
	// Frames arriving closer together than this are delivered as paced
	// frames without a payload.
	DefaultMinRenderInterval = 16 * time.Millisecond

	// DefaultDialTimeout bounds the WebSocket handshake.
	DefaultDialTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a single control message write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultEventBuffer is the capacity of a session's event channel.
	DefaultEventBuffer = 64
)

// DefaultSTUNServers is used when a WebRTC session is configured without
// any ICE servers.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}
