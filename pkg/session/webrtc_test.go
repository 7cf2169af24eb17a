package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/transport/v3/test"
	"github.com/pion/webrtc/v4"
)

func startWebRTC(t *testing.T, url string) *WebRTCSession {
	t.Helper()
	s, err := NewWebRTCSession(WebRTCConfig{SignalingURL: url, STUNServers: []string{}})
	if err != nil {
		t.Fatalf("NewWebRTCSession() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWebRTCSendsRecvOnlyOffer(t *testing.T) {
	offers := make(chan webrtc.SessionDescription, 1)
	url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			var msg SignalingMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != MsgOffer {
				continue
			}
			var offer webrtc.SessionDescription
			if err := json.Unmarshal(msg.Payload, &offer); err == nil {
				offers <- offer
			}
		}
	})

	s := startWebRTC(t, url)
	if s.Kind().String() != "webrtc" {
		t.Errorf("Kind() = %v, want webrtc", s.Kind())
	}

	select {
	case offer := <-offers:
		if offer.Type != webrtc.SDPTypeOffer {
			t.Errorf("offer type = %v, want %v", offer.Type, webrtc.SDPTypeOffer)
		}
		if !strings.Contains(offer.SDP, "m=video") {
			t.Error("offer has no video section")
		}
		if !strings.Contains(offer.SDP, "a=recvonly") {
			t.Error("offer is not receive-only")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no offer received")
	}

	// Quality is a no-op on this transport.
	s.SetQuality(50)
}

func TestWebRTCSignalingClosed(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		var msg SignalingMessage
		_ = conn.ReadJSON(&msg)
		// Candidates before the answer are buffered, null ones ignored.
		_ = conn.WriteJSON(SignalingMessage{Type: MsgICECandidate, Payload: json.RawMessage("null")})
		_ = conn.WriteJSON(SignalingMessage{
			Type:    MsgICECandidate,
			Payload: json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host","sdpMid":"0"}`),
		})
	})

	s := startWebRTC(t, url)

	ev := waitEvent(t, s, EventClosed)
	if !errors.Is(ev.Err, ErrUnexpectedClose) {
		t.Errorf("closed error = %v, want %v", ev.Err, ErrUnexpectedClose)
	}
	if got := len(s.pendingCandidates); got != 1 {
		t.Errorf("buffered candidates = %d, want 1", got)
	}
}

func TestWebRTCBadAnswer(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		var msg SignalingMessage
		_ = conn.ReadJSON(&msg)
		_ = conn.WriteJSON(SignalingMessage{
			Type:    MsgAnswer,
			Payload: json.RawMessage(`{"type":"answer","sdp":"garbage"}`),
		})
		_, _, _ = conn.ReadMessage()
	})

	s := startWebRTC(t, url)

	ev := waitEvent(t, s, EventError)
	if !errors.Is(ev.Err, ErrNegotiation) {
		t.Errorf("error = %v, want %v", ev.Err, ErrNegotiation)
	}
}

func TestWebRTCDialError(t *testing.T) {
	s := startWebRTC(t, "ws://127.0.0.1:1/signaling")

	ev := waitEvent(t, s, EventError)
	if !errors.Is(ev.Err, ErrDial) {
		t.Errorf("error = %v, want %v", ev.Err, ErrDial)
	}
}

func TestWebRTCCloseReleasesGoroutines(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	offered := make(chan struct{})
	srv, url := wsServer(func(conn *websocket.Conn) {
		var msg SignalingMessage
		if err := conn.ReadJSON(&msg); err == nil {
			close(offered)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	s, err := NewWebRTCSession(WebRTCConfig{SignalingURL: url, STUNServers: []string{}})
	if err != nil {
		t.Fatalf("NewWebRTCSession() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-offered:
	case <-time.After(5 * time.Second):
		t.Fatal("no offer received")
	}

	if err := s.Close(); err != nil {
		t.Logf("Close() error = %v", err)
	}
}

// loopbackAPI gathers host candidates on loopback so the test does not
// depend on the machine having another interface.
func loopbackAPI(t *testing.T) *webrtc.API {
	t.Helper()
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("RegisterDefaultCodecs() error = %v", err)
	}
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))
}

func TestWebRTCSendsLocalCandidates(t *testing.T) {
	candidates := make(chan webrtc.ICECandidateInit, 16)
	url := newWSServer(t, func(conn *websocket.Conn) {
		offered := false
		for {
			var msg SignalingMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case MsgOffer:
				offered = true
			case MsgICECandidate:
				if !offered {
					t.Error("candidate sent before the offer")
				}
				var c webrtc.ICECandidateInit
				if err := json.Unmarshal(msg.Payload, &c); err != nil {
					t.Errorf("candidate payload %s: %v", msg.Payload, err)
					continue
				}
				select {
				case candidates <- c:
				default:
				}
			}
		}
	})

	s, err := NewWebRTCSession(WebRTCConfig{
		SignalingURL: url,
		STUNServers:  []string{},
		API:          loopbackAPI(t),
	})
	if err != nil {
		t.Fatalf("NewWebRTCSession() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	select {
	case c := <-candidates:
		if !strings.HasPrefix(c.Candidate, "candidate:") {
			t.Errorf("candidate = %q, want a candidate: line", c.Candidate)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no ice-candidate message received")
	}
}

func TestWebRTCICEStateEvents(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	s := startWebRTC(t, url)

	tests := []struct {
		state   webrtc.ICEConnectionState
		emits   bool
		want    EventType
		wantErr bool
	}{
		{webrtc.ICEConnectionStateChecking, false, 0, false},
		{webrtc.ICEConnectionStateDisconnected, true, EventError, true},
		{webrtc.ICEConnectionStateConnected, true, EventRecovered, false},
		{webrtc.ICEConnectionStateFailed, true, EventError, true},
		{webrtc.ICEConnectionStateCompleted, true, EventRecovered, false},
		{webrtc.ICEConnectionStateClosed, false, 0, false},
	}

	for _, tc := range tests {
		s.onICEState(tc.state)

		if !tc.emits {
			select {
			case ev := <-s.Events():
				t.Errorf("%s: unexpected %v event", tc.state, ev.Type)
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		ev := nextEvent(t, s)
		if ev.Type != tc.want {
			t.Errorf("%s: event = %v, want %v", tc.state, ev.Type, tc.want)
			continue
		}
		if ev.SessionID != s.ID() {
			t.Errorf("%s: session id = %q, want %q", tc.state, ev.SessionID, s.ID())
		}
		if tc.wantErr && !errors.Is(ev.Err, ErrICE) {
			t.Errorf("%s: error = %v, want %v", tc.state, ev.Err, ErrICE)
		}
	}
}

func TestDepacketizerFor(t *testing.T) {
	for _, mime := range []string{webrtc.MimeTypeVP8, webrtc.MimeTypeVP9, webrtc.MimeTypeH264, "VIDEO/vp8"} {
		if depacketizerFor(mime) == nil {
			t.Errorf("depacketizerFor(%q) = nil", mime)
		}
	}
	if depacketizerFor(webrtc.MimeTypeOpus) != nil {
		t.Error("depacketizerFor(opus) != nil")
	}
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EventOpened, "opened"},
		{EventFrame, "frame"},
		{EventTrack, "track"},
		{EventSample, "sample"},
		{EventLatency, "latency"},
		{EventError, "error"},
		{EventRecovered, "recovered"},
		{EventClosed, "closed"},
		{EventType(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.typ.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", int(tc.typ), got, tc.want)
		}
	}

	if !EventTrack.IsMedia() || EventOpened.IsMedia() {
		t.Error("IsMedia() mismatch")
	}
}
