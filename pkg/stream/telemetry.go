package stream

// DebugSnapshot is the structured diagnostic view of a client. A
// TelemetrySink receives a new one whenever any field changes.
type DebugSnapshot struct {
	RequestedTransport string  `json:"requestedTransport"`
	ResolvedTransport  string  `json:"resolvedTransport"`
	Connecting         bool    `json:"connecting"`
	Connected          bool    `json:"connected"`
	LastError          string  `json:"lastError,omitempty"`
	ReconnectAttempts  int     `json:"reconnectAttempts"`
	Quality            int     `json:"quality"`
	FPS                float64 `json:"fps"`
	BandwidthKbps      float64 `json:"bandwidthKbps"`
	LatencyMs          float64 `json:"latencyMs"`
	FrameCount         int64   `json:"frameCount"`
}

// TelemetrySink consumes debug snapshots. Publish is called from the
// client's event loop and must not block.
type TelemetrySink interface {
	Publish(snapshot DebugSnapshot)
}

// TelemetryFunc adapts a function to TelemetrySink.
type TelemetryFunc func(DebugSnapshot)

// Publish implements TelemetrySink.
func (f TelemetryFunc) Publish(s DebugSnapshot) { f(s) }

// Diagnostics extends DebugSnapshot with client internals.
type Diagnostics struct {
	DebugSnapshot

	State           ConnectionState `json:"-"`
	StateName       string          `json:"state"`
	SessionID       string          `json:"sessionId,omitempty"`
	SessionsCreated int             `json:"sessionsCreated"`
	Downgraded      bool            `json:"downgraded"`
	DroppedFrames   uint64          `json:"droppedFrames"`
	DecodeErrors    uint64          `json:"decodeErrors"`
}
