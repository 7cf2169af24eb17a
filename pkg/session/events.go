package session

import (
	"time"

	"github.com/backkem/roverfeed/pkg/media"
	"github.com/pion/webrtc/v4"
)

// EventType identifies a session lifecycle or media event.
type EventType int

const (
	// EventOpened is raised once when the video socket is open.
	EventOpened EventType = iota
	// EventFrame carries one WebSocket frame.
	EventFrame
	// EventTrack carries the first inbound WebRTC track.
	EventTrack
	// EventSample reports one reassembled WebRTC media sample.
	EventSample
	// EventLatency carries a one-way latency estimate from a heartbeat reply.
	EventLatency
	// EventError reports a transient transport or negotiation error.
	EventError
	// EventRecovered reports that ICE reached connected or completed.
	EventRecovered
	// EventClosed reports that the transport closed without Close being called.
	EventClosed
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventFrame:
		return "frame"
	case EventTrack:
		return "track"
	case EventSample:
		return "sample"
	case EventLatency:
		return "latency"
	case EventError:
		return "error"
	case EventRecovered:
		return "recovered"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsMedia returns true for events that prove media is flowing.
func (t EventType) IsMedia() bool {
	return t == EventFrame || t == EventTrack || t == EventSample
}

// Event is emitted by a session on its Events channel. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType
	SessionID string
	At        time.Time

	Frame      *media.Frame        // EventFrame
	Track      *webrtc.TrackRemote // EventTrack
	SampleSize int                 // EventSample
	Latency    time.Duration       // EventLatency
	Err        error               // EventError, EventClosed
}
