// Package media defines the frame types that flow from a transport session
// through the stream client to the caller.
package media

import "time"

// FrameMetadata is announced by the server ahead of each binary frame on the
// WebSocket transport. It is folded into the stream statistics and then
// discarded.
type FrameMetadata struct {
	// Quality is the encoder quality the frame was produced with.
	Quality int `json:"quality"`

	// Size is the encoded size in bytes as reported by the server.
	Size int `json:"size"`

	// Timestamp is the server capture timestamp in milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Frame is one encoded video frame received from a transport.
//
// Metadata is nil for legacy frames (a binary payload with no preceding
// announcement). Paced frames arrived faster than the render interval; their
// Payload has been released and only Size remains for accounting.
type Frame struct {
	Payload    []byte
	Size       int
	Metadata   *FrameMetadata
	ReceivedAt time.Time
	Paced      bool
}

// IsLegacy reports whether the frame arrived without metadata.
func (f *Frame) IsLegacy() bool {
	return f.Metadata == nil
}
