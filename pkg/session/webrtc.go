package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/backkem/roverfeed/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

const (
	// maxLatePackets is how many packets the sample builder holds while
	// waiting for a missing one.
	maxLatePackets = 64

	// callbackBuffer queues events raised from pion callbacks.
	callbackBuffer = 16
)

// WebRTCConfig configures a WebRTCSession.
type WebRTCConfig struct {
	// SignalingURL is the signaling endpoint (ws:// or wss://).
	SignalingURL string

	// STUNServers are the ICE server URLs. Default: DefaultSTUNServers.
	// An explicit empty, non-nil slice disables ICE servers.
	STUNServers []string

	// DialTimeout bounds the signaling handshake. Default: DefaultDialTimeout.
	DialTimeout time.Duration

	// EventBuffer is the event channel capacity. Default: DefaultEventBuffer.
	EventBuffer int

	// Dialer is used for the signaling handshake. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// API creates the peer connection. If nil, an API with the default codecs
	// and interceptors is built.
	API *webrtc.API

	// LoggerFactory is the factory for creating loggers. It is also handed
	// to pion through the SettingEngine.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *WebRTCConfig) Validate() error {
	return ValidateURL(c.SignalingURL)
}

func (c *WebRTCConfig) applyDefaults() {
	if c.STUNServers == nil {
		c.STUNServers = DefaultSTUNServers
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

// NewReceiveAPI builds a pion API that can receive the default video codecs
// with the default NACK and RTCP report interceptors.
func NewReceiveAPI(loggerFactory logging.LoggerFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if loggerFactory != nil {
		se.LoggerFactory = loggerFactory
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// WebRTCSession negotiates a receive-only peer connection over a signaling
// socket and reports the first inbound video track.
//
// The session is the offerer. Remote candidates that arrive before the
// answer are queued and applied once the remote description is set.
type WebRTCSession struct {
	base
	config WebRTCConfig
	log    logging.LeveledLogger

	connMu sync.Mutex
	conn   *websocket.Conn
	pc     *webrtc.PeerConnection

	writeMu sync.Mutex

	// callbacks carries events from pion callbacks to the pump goroutine
	// so they keep their order without blocking pion.
	callbacks chan Event

	// Owned by the signaling read loop.
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit

	trackOnce sync.Once
}

// NewWebRTCSession creates a session. It does not connect until Start.
func NewWebRTCSession(config WebRTCConfig) (*WebRTCSession, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &WebRTCSession{
		base:      newBase(transport.KindWebRTC, config.EventBuffer),
		config:    config,
		callbacks: make(chan Event, callbackBuffer),
	}
	s.log = config.LoggerFactory.NewLogger("session-webrtc")
	return s, nil
}

// Start implements Session.
func (s *WebRTCSession) Start(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if !s.goTracked(s.run) || !s.goTracked(s.pump) {
		return ErrClosed
	}
	return nil
}

// SetQuality implements Session. The WebRTC path has no quality channel, so
// this does nothing.
func (s *WebRTCSession) SetQuality(int) {}

// Close implements Session. It closes the signaling socket and the peer
// connection, then waits for the session's goroutines.
func (s *WebRTCSession) Close() error {
	if !s.shutdown() {
		return nil
	}

	s.connMu.Lock()
	conn, pc := s.conn, s.pc
	s.connMu.Unlock()

	var errs []error
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	if pc != nil {
		errs = append(errs, pc.Close())
	}

	s.wg.Wait()
	s.log.Debugf("session %s closed", s.id)
	return errors.Join(errs...)
}

func (s *WebRTCSession) run() {
	dialCtx, cancel := context.WithTimeout(s.ctx, s.config.DialTimeout)
	conn, _, err := s.config.Dialer.DialContext(dialCtx, s.config.SignalingURL, nil)
	cancel()
	if err != nil {
		s.fail(fmt.Errorf("%w: signaling: %v", ErrDial, err))
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

	if err := s.negotiate(); err != nil {
		s.fail(err)
		return
	}
	s.readSignaling(conn)
}

// negotiate creates the peer connection and sends the offer.
func (s *WebRTCSession) negotiate() error {
	api := s.config.API
	if api == nil {
		var err error
		api, err = NewReceiveAPI(s.config.LoggerFactory)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNegotiation, err)
		}
	}

	var iceServers []webrtc.ICEServer
	if len(s.config.STUNServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: s.config.STUNServers}}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("%w: peer connection: %v", ErrNegotiation, err)
	}

	s.connMu.Lock()
	if s.isClosing() {
		s.connMu.Unlock()
		_ = pc.Close()
		return nil
	}
	s.pc = pc
	s.connMu.Unlock()

	pc.OnICECandidate(s.onLocalCandidate)
	pc.OnICEConnectionStateChange(s.onICEState)
	pc.OnTrack(s.onTrack)

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("%w: transceiver: %v", ErrNegotiation, err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: local description: %v", ErrNegotiation, err)
	}

	if err := s.send(MsgOffer, offer); err != nil {
		return fmt.Errorf("%w: send offer: %v", ErrNegotiation, err)
	}
	s.log.Debug("offer sent")
	return nil
}

func (s *WebRTCSession) readSignaling(conn *websocket.Conn) {
	for {
		var msg SignalingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if s.isClosing() {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.log.Warnf("malformed signaling message: %v", err)
				continue
			}
			s.log.Warnf("signaling read: %v", err)
			s.emit(Event{Type: EventClosed, Err: fmt.Errorf("%w: signaling: %v", ErrUnexpectedClose, err)})
			return
		}

		if err := s.handleSignaling(msg); err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *WebRTCSession) handleSignaling(msg SignalingMessage) error {
	s.connMu.Lock()
	pc := s.pc
	s.connMu.Unlock()
	if pc == nil {
		return nil
	}

	switch msg.Type {
	case MsgAnswer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &answer); err != nil {
			return fmt.Errorf("%w: answer: %v", ErrNegotiation, err)
		}
		if err := pc.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("%w: remote description: %v", ErrNegotiation, err)
		}
		s.remoteSet = true
		for _, c := range s.pendingCandidates {
			if err := pc.AddICECandidate(c); err != nil {
				s.log.Warnf("buffered candidate: %v", err)
			}
		}
		s.pendingCandidates = nil
		s.log.Debug("answer applied")

	case MsgICECandidate:
		if isNullPayload(msg.Payload) {
			return nil
		}
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			s.log.Warnf("malformed candidate: %v", err)
			return nil
		}
		if !s.remoteSet {
			s.pendingCandidates = append(s.pendingCandidates, c)
			return nil
		}
		if err := pc.AddICECandidate(c); err != nil {
			s.log.Warnf("add candidate: %v", err)
		}

	default:
		s.log.Debugf("ignoring signaling message %q", msg.Type)
	}
	return nil
}

func (s *WebRTCSession) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil || s.isClosing() {
		return
	}
	if err := s.send(MsgICECandidate, c.ToJSON()); err != nil {
		s.log.Debugf("send candidate: %v", err)
	}
}

func (s *WebRTCSession) onICEState(state webrtc.ICEConnectionState) {
	s.log.Debugf("ice connection state: %s", state)

	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
		s.emitAsync(Event{Type: EventError, Err: fmt.Errorf("%w: %s", ErrICE, state)})
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		s.emitAsync(Event{Type: EventRecovered})
	}
}

func (s *WebRTCSession) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	first := false
	s.trackOnce.Do(func() { first = true })
	if !first {
		s.log.Debugf("ignoring extra track %s", track.ID())
		return
	}

	s.log.Infof("track %s (%s)", track.ID(), track.Codec().MimeType)
	s.goTracked(func() {
		if !s.emit(Event{Type: EventTrack, Track: track}) {
			return
		}
		s.readTrack(track)
	})
}

// readTrack drains RTP from the track and reports each reassembled sample.
func (s *WebRTCSession) readTrack(track *webrtc.TrackRemote) {
	codec := track.Codec()
	depacketizer := depacketizerFor(codec.MimeType)

	var sb *samplebuilder.SampleBuilder
	if depacketizer != nil {
		sb = samplebuilder.New(maxLatePackets, depacketizer, codec.ClockRate)
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosing() {
				s.log.Debugf("read rtp: %v", err)
			}
			return
		}

		if sb == nil {
			if !s.emit(Event{Type: EventSample, SampleSize: len(pkt.Payload)}) {
				return
			}
			continue
		}

		sb.Push(pkt)
		for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
			if !s.emit(Event{Type: EventSample, SampleSize: len(sample.Data)}) {
				return
			}
		}
	}
}

func depacketizerFor(mimeType string) rtp.Depacketizer {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}
	case strings.ToLower(webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}
	case strings.ToLower(webrtc.MimeTypeH264):
		return &codecs.H264Packet{}
	default:
		return nil
	}
}

// emitAsync queues an event raised from a pion callback.
func (s *WebRTCSession) emitAsync(ev Event) {
	ev.At = time.Now()
	select {
	case s.callbacks <- ev:
	case <-s.closeCh:
	default:
		s.log.Warnf("dropping %s event, callback queue full", ev.Type)
	}
}

func (s *WebRTCSession) pump() {
	for {
		select {
		case ev := <-s.callbacks:
			if !s.emit(ev) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *WebRTCSession) fail(err error) {
	if s.isClosing() {
		return
	}
	s.log.Warnf("%v", err)
	s.emit(Event{Type: EventError, Err: err})
}

func (s *WebRTCSession) send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return conn.WriteJSON(SignalingMessage{Type: msgType, Payload: raw})
}
