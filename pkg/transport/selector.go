// Package transport resolves the requested transport kind to a concrete one
// and owns the auto-fallback timer that downgrades a stalled WebRTC
// negotiation to WebSocket.
package transport

import (
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// DefaultFallbackTimeout is how long an automatically chosen WebRTC session
// may go without media before the selector downgrades to WebSocket.
const DefaultFallbackTimeout = 5000 * time.Millisecond

// CapabilityFunc reports whether WebRTC peer connections can be created.
type CapabilityFunc func() bool

// ProbeWebRTC creates and immediately closes a peer connection.
func ProbeWebRTC() bool {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return false
	}
	_ = pc.Close()
	return true
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	// FallbackTimeout is the no-media deadline for Auto -> WebRTC.
	// If zero, DefaultFallbackTimeout is used.
	FallbackTimeout time.Duration

	// Capability reports WebRTC support. If nil, ProbeWebRTC is used.
	// The result is evaluated once and cached.
	Capability CapabilityFunc

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Selector chooses the transport for a stream client.
//
// Resolve is safe for concurrent use. The fallback timer methods are meant to
// be called from a single owner (the client's event loop), which selects on
// FallbackC.
type Selector struct {
	config SelectorConfig
	log    logging.LeveledLogger

	capOnce sync.Once
	capable bool

	mu         sync.Mutex
	downgraded bool
	fallback   *time.Timer
}

// NewSelector creates a selector.
func NewSelector(config SelectorConfig) *Selector {
	if config.FallbackTimeout <= 0 {
		config.FallbackTimeout = DefaultFallbackTimeout
	}
	if config.Capability == nil {
		config.Capability = ProbeWebRTC
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Selector{
		config: config,
		log:    config.LoggerFactory.NewLogger("selector"),
	}
}

// Capable reports whether WebRTC is available in this environment.
func (s *Selector) Capable() bool {
	s.capOnce.Do(func() {
		s.capable = s.config.Capability()
		s.log.Debugf("webrtc capability: %v", s.capable)
	})
	return s.capable
}

// Resolve maps a requested kind to the kind a session will be created for.
// Concrete kinds resolve to themselves. Auto resolves to WebRTC when capable
// and not downgraded, otherwise to WebSocket.
func (s *Selector) Resolve(requested Kind) Kind {
	if requested != KindAuto {
		return requested
	}

	s.mu.Lock()
	downgraded := s.downgraded
	s.mu.Unlock()

	if downgraded || !s.Capable() {
		return KindWebSocket
	}
	return KindWebRTC
}

// ArmFallback starts the one-shot no-media timer when an Auto request
// resolved to WebRTC. Any previous timer is stopped. Returns true if armed.
func (s *Selector) ArmFallback(requested, resolved Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if requested != KindAuto || resolved != KindWebRTC {
		return false
	}
	s.fallback = time.NewTimer(s.config.FallbackTimeout)
	s.log.Debugf("fallback armed for %v", s.config.FallbackTimeout)
	return true
}

// FallbackC returns the channel of the armed timer, or nil when disarmed.
// A nil channel blocks forever in a select.
func (s *Selector) FallbackC() <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback == nil {
		return nil
	}
	return s.fallback.C
}

// CancelFallback stops the timer. Safe to call when not armed.
func (s *Selector) CancelFallback() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

// Downgrade makes Auto resolve to WebSocket until Reset and disarms the timer.
func (s *Selector) Downgrade() {
	s.mu.Lock()
	s.stopLocked()
	s.downgraded = true
	s.mu.Unlock()
	s.log.Info("auto transport downgraded to websocket")
}

// Downgraded reports whether Auto is pinned to WebSocket.
func (s *Selector) Downgraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downgraded
}

// Reset clears a previous downgrade and disarms the timer.
func (s *Selector) Reset() {
	s.mu.Lock()
	s.stopLocked()
	s.downgraded = false
	s.mu.Unlock()
}

func (s *Selector) stopLocked() {
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
}
