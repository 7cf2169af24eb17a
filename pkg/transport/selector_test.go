package transport

import (
	"testing"
	"time"
)

func capability(v bool) CapabilityFunc {
	return func() bool { return v }
}

func TestResolveConcreteKinds(t *testing.T) {
	for _, capable := range []bool{true, false} {
		s := NewSelector(SelectorConfig{Capability: capability(capable)})
		for _, k := range []Kind{KindWebSocket, KindWebRTC, KindSnapshot} {
			for i := 0; i < 3; i++ {
				if got := s.Resolve(k); got != k {
					t.Errorf("Resolve(%v) capable=%v = %v, want %v", k, capable, got, k)
				}
			}
		}
	}
}

func TestResolveAuto(t *testing.T) {
	tests := []struct {
		name    string
		capable bool
		want    Kind
	}{
		{"capable", true, KindWebRTC},
		{"not capable", false, KindWebSocket},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSelector(SelectorConfig{Capability: capability(tc.capable)})
			if got := s.Resolve(KindAuto); got != tc.want {
				t.Errorf("Resolve(Auto) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCapabilityCached(t *testing.T) {
	calls := 0
	s := NewSelector(SelectorConfig{Capability: func() bool {
		calls++
		return true
	}})

	for i := 0; i < 5; i++ {
		s.Resolve(KindAuto)
	}
	if calls != 1 {
		t.Errorf("capability probed %d times, want 1", calls)
	}
}

func TestDowngradeAndReset(t *testing.T) {
	s := NewSelector(SelectorConfig{Capability: capability(true)})

	s.Downgrade()
	if got := s.Resolve(KindAuto); got != KindWebSocket {
		t.Errorf("Resolve(Auto) after Downgrade = %v, want %v", got, KindWebSocket)
	}
	if got := s.Resolve(KindWebRTC); got != KindWebRTC {
		t.Errorf("Resolve(WebRTC) after Downgrade = %v, want %v", got, KindWebRTC)
	}

	s.Reset()
	if got := s.Resolve(KindAuto); got != KindWebRTC {
		t.Errorf("Resolve(Auto) after Reset = %v, want %v", got, KindWebRTC)
	}
}

func TestArmFallbackOnlyForAutoWebRTC(t *testing.T) {
	s := NewSelector(SelectorConfig{Capability: capability(true), FallbackTimeout: time.Hour})

	cases := []struct {
		requested, resolved Kind
		want                bool
	}{
		{KindAuto, KindWebRTC, true},
		{KindAuto, KindWebSocket, false},
		{KindWebRTC, KindWebRTC, false},
		{KindWebSocket, KindWebSocket, false},
	}
	for _, tc := range cases {
		got := s.ArmFallback(tc.requested, tc.resolved)
		if got != tc.want {
			t.Errorf("ArmFallback(%v, %v) = %v, want %v", tc.requested, tc.resolved, got, tc.want)
		}
		if armed := s.FallbackC() != nil; armed != tc.want {
			t.Errorf("FallbackC() armed = %v, want %v", armed, tc.want)
		}
		s.CancelFallback()
	}
}

func TestFallbackFires(t *testing.T) {
	s := NewSelector(SelectorConfig{Capability: capability(true), FallbackTimeout: 20 * time.Millisecond})

	if !s.ArmFallback(KindAuto, KindWebRTC) {
		t.Fatal("ArmFallback() = false, want true")
	}

	select {
	case <-s.FallbackC():
	case <-time.After(time.Second):
		t.Fatal("fallback timer did not fire")
	}
}

func TestCancelFallback(t *testing.T) {
	s := NewSelector(SelectorConfig{Capability: capability(true), FallbackTimeout: 20 * time.Millisecond})

	s.ArmFallback(KindAuto, KindWebRTC)
	c := s.FallbackC()
	s.CancelFallback()

	if s.FallbackC() != nil {
		t.Error("FallbackC() != nil after cancel")
	}
	select {
	case <-c:
		t.Error("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"auto", KindAuto, false},
		{"", KindAuto, false},
		{"WebSocket", KindWebSocket, false},
		{"ws", KindWebSocket, false},
		{"webrtc", KindWebRTC, false},
		{"snapshot", KindSnapshot, false},
		{"carrier-pigeon", KindAuto, true},
	}

	for _, tc := range tests {
		got, err := ParseKind(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestKindText(t *testing.T) {
	for _, k := range []Kind{KindAuto, KindWebSocket, KindWebRTC, KindSnapshot} {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error = %v", k, err)
		}
		var back Kind
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if back != k {
			t.Errorf("text round trip %v -> %v", k, back)
		}
	}

	if _, err := Kind(42).MarshalText(); err == nil {
		t.Error("MarshalText(42) error = nil, want error")
	}
}
