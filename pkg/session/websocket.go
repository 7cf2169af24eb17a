package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/roverfeed/pkg/media"
	"github.com/backkem/roverfeed/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// WebSocketConfig configures a WebSocketSession.
type WebSocketConfig struct {
	// URL is the video endpoint (ws:// or wss://).
	URL string

	// HeartbeatInterval is the ping period. Default: DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// MinRenderInterval is the minimum spacing of frames that carry a
	// payload. Default: DefaultMinRenderInterval.
	MinRenderInterval time.Duration

	// DialTimeout bounds the handshake. Default: DefaultDialTimeout.
	DialTimeout time.Duration

	// EventBuffer is the event channel capacity. Default: DefaultEventBuffer.
	EventBuffer int

	// Dialer is used for the handshake. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *WebSocketConfig) Validate() error {
	return ValidateURL(c.URL)
}

func (c *WebSocketConfig) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MinRenderInterval <= 0 {
		c.MinRenderInterval = DefaultMinRenderInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// WebSocketSession receives encoded image frames over one binary socket.
//
// The server announces each frame with a JSON text message carrying its
// metadata and then sends the payload as a binary message. A binary message
// with no announcement is a legacy frame and is delivered without metadata.
type WebSocketSession struct {
	base
	config WebSocketConfig
	log    logging.LeveledLogger

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex
	open    atomic.Bool

	// qualityMu orders the directive sent on open against SetQuality.
	qualityMu sync.Mutex
	quality   int

	// Owned by the read loop.
	pending    *media.FrameMetadata
	lastRender time.Time
}

// NewWebSocketSession creates a session. It does not connect until Start.
func NewWebSocketSession(config WebSocketConfig) (*WebSocketSession, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &WebSocketSession{
		base:   newBase(transport.KindWebSocket, config.EventBuffer),
		config: config,
	}
	s.log = config.LoggerFactory.NewLogger("session-ws")
	return s, nil
}

// Start implements Session.
func (s *WebSocketSession) Start(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if !s.goTracked(s.run) {
		return ErrClosed
	}
	return nil
}

// IsOpen returns true while the socket is open.
func (s *WebSocketSession) IsOpen() bool {
	return s.open.Load()
}

// SetQuality implements Session. Before the socket opens the value is kept
// and sent by the session itself once connected.
func (s *WebSocketSession) SetQuality(quality int) {
	s.qualityMu.Lock()
	defer s.qualityMu.Unlock()
	s.quality = quality
	if s.open.Load() {
		s.sendQuality(quality)
	}
}

// applyQuality sends the kept directive after the socket opens.
func (s *WebSocketSession) applyQuality() {
	s.qualityMu.Lock()
	defer s.qualityMu.Unlock()
	if s.quality != 0 {
		s.sendQuality(s.quality)
	}
}

func (s *WebSocketSession) sendQuality(quality int) {
	if err := s.writeJSON(VideoMessage{Type: MsgQuality, Quality: quality}); err != nil {
		s.log.Debugf("quality %d not sent: %v", quality, err)
	}
}

// Close implements Session.
func (s *WebSocketSession) Close() error {
	if !s.shutdown() {
		return nil
	}
	s.open.Store(false)

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	var err error
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = conn.Close()
	}

	s.wg.Wait()
	s.log.Debugf("session %s closed", s.id)
	return err
}

func (s *WebSocketSession) run() {
	dialCtx, cancel := context.WithTimeout(s.ctx, s.config.DialTimeout)
	conn, _, err := s.config.Dialer.DialContext(dialCtx, s.config.URL, nil)
	cancel()
	if err != nil {
		if !s.isClosing() {
			s.emit(Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrDial, err)})
		}
		return
	}

	s.connMu.Lock()
	if s.isClosing() {
		s.connMu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.connMu.Unlock()

	s.open.Store(true)
	s.log.Infof("connected to %s", s.config.URL)
	s.emit(Event{Type: EventOpened})
	s.applyQuality()

	s.goTracked(s.heartbeat)
	s.readLoop(conn)
}

func (s *WebSocketSession) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.open.Store(false)
			if s.isClosing() {
				return
			}
			s.log.Warnf("read: %v", err)
			s.emit(Event{Type: EventClosed, Err: fmt.Errorf("%w: %v", ErrUnexpectedClose, err)})
			return
		}

		switch mt {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *WebSocketSession) handleText(data []byte) {
	var msg VideoMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warnf("malformed text message: %v", err)
		return
	}

	switch msg.Type {
	case MsgFrame:
		if s.pending != nil {
			s.log.Debug("frame announcement replaced before payload arrived")
		}
		s.pending = &media.FrameMetadata{
			Quality:   msg.Quality,
			Size:      msg.Size,
			Timestamp: msg.Timestamp,
		}
	case MsgPong:
		now := time.Now()
		s.emit(Event{
			Type:    EventLatency,
			At:      now,
			Latency: OneWayLatency(msg.ClientTimestamp, now.UnixMilli()),
		})
	default:
		s.log.Debugf("ignoring message type %q", msg.Type)
	}
}

func (s *WebSocketSession) handleBinary(data []byte) {
	now := time.Now()
	frame := &media.Frame{
		Size:       len(data),
		Metadata:   s.pending,
		ReceivedAt: now,
	}
	s.pending = nil

	if !s.lastRender.IsZero() && now.Sub(s.lastRender) < s.config.MinRenderInterval {
		// Counted for metrics only; the payload is dropped here.
		frame.Paced = true
	} else {
		frame.Payload = data
		s.lastRender = now
	}

	s.emit(Event{Type: EventFrame, At: now, Frame: frame})
}

func (s *WebSocketSession) heartbeat() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case now := <-ticker.C:
			if !s.open.Load() {
				return
			}
			msg := VideoMessage{Type: MsgPing, ClientTimestamp: now.UnixMilli()}
			if err := s.writeJSON(msg); err != nil {
				s.log.Debugf("heartbeat: %v", err)
			}
		}
	}
}

func (s *WebSocketSession) writeJSON(v any) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return conn.WriteJSON(v)
}

// ValidateURL checks that raw is a ws or wss URL.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	return nil
}
