package session

import (
	"encoding/json"
	"time"
)

// Message types on the video socket and the signaling socket.
const (
	MsgFrame        = "frame"
	MsgPing         = "ping"
	MsgPong         = "pong"
	MsgQuality      = "quality"
	MsgOffer        = "offer"
	MsgAnswer       = "answer"
	MsgICECandidate = "ice-candidate"
)

// VideoMessage is any JSON text message on the video socket. Binary
// messages carry the encoded frames.
type VideoMessage struct {
	Type            string `json:"type"`
	Quality         int    `json:"quality,omitempty"`
	Size            int    `json:"size,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	ClientTimestamp int64  `json:"client_timestamp,omitempty"`
}

// SignalingMessage is the envelope on the signaling socket.
type SignalingMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OneWayLatency estimates one-way latency from a heartbeat reply that echoes
// sentMs, received at nowMs. Negative results from clock skew clamp to zero.
func OneWayLatency(sentMs, nowMs int64) time.Duration {
	rtt := nowMs - sentMs
	if rtt <= 0 {
		return 0
	}
	return time.Duration(rtt) * time.Millisecond / 2
}

func isNullPayload(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	return string(raw) == "null"
}
