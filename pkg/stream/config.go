package stream

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/backkem/roverfeed/pkg/decoder"
	"github.com/backkem/roverfeed/pkg/reconnect"
	"github.com/backkem/roverfeed/pkg/session"
	"github.com/backkem/roverfeed/pkg/transport"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// Quality directive bounds.
const (
	MinQuality = 20
	MaxQuality = 95
)

// ClampQuality limits q to [MinQuality, MaxQuality].
func ClampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}

// Delayer computes the wait before a reconnection attempt.
// *reconnect.Policy implements it.
type Delayer interface {
	Delay(attempt int) time.Duration
}

// SessionFactory builds an unstarted session for a concrete transport kind.
type SessionFactory func(kind transport.Kind) (session.Session, error)

// Config configures a Client. Endpoints are per client; there is no shared
// default endpoint.
type Config struct {
	// Transport is the requested transport. Default: auto.
	Transport transport.Kind `yaml:"transport"`

	// VideoURL is the WebSocket video endpoint.
	VideoURL string `yaml:"video_url"`

	// SignalingURL is the WebRTC signaling endpoint. With Transport auto and
	// no signaling URL, auto always resolves to WebSocket.
	SignalingURL string `yaml:"signaling_url"`

	// SnapshotURL is the still image endpoint for the snapshot mode.
	SnapshotURL string `yaml:"snapshot_url"`

	// STUNServers are the ICE servers for WebRTC.
	STUNServers []string `yaml:"stun_servers"`

	// FallbackTimeout is how long auto waits for WebRTC media before
	// switching to WebSocket. Default: transport.DefaultFallbackTimeout.
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`

	// HeartbeatInterval is the WebSocket ping period.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MinRenderInterval is the WebSocket pacing interval.
	MinRenderInterval time.Duration `yaml:"min_render_interval"`

	// DialTimeout bounds each socket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Quality is the initial quality directive. Zero leaves the server's
	// default untouched.
	Quality int `yaml:"quality"`

	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory `yaml:"-"`

	// TelemetrySink receives a DebugSnapshot whenever it changes. Optional.
	TelemetrySink TelemetrySink `yaml:"-"`

	// ReconnectPolicy computes retry delays. Default: reconnect.NewPolicy.
	ReconnectPolicy Delayer `yaml:"-"`

	// Decoder turns WebSocket and snapshot payloads into images.
	// Default: decoder.New().
	Decoder decoder.FrameDecoder `yaml:"-"`

	// WebRTCCapable overrides the WebRTC capability probe.
	WebRTCCapable transport.CapabilityFunc `yaml:"-"`

	// SessionFactory overrides how sessions are built. When set, endpoint
	// URLs are not required.
	SessionFactory SessionFactory `yaml:"-"`

	// HTTPClient is used by the snapshot mode. Optional.
	HTTPClient *http.Client `yaml:"-"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Transport.IsValid() {
		return fmt.Errorf("%w: transport %d", ErrInvalidConfig, int(c.Transport))
	}
	if c.Quality != 0 && (c.Quality < MinQuality || c.Quality > MaxQuality) {
		return fmt.Errorf("%w: quality %d outside [%d, %d]", ErrInvalidConfig, c.Quality, MinQuality, MaxQuality)
	}
	if c.FallbackTimeout < 0 || c.HeartbeatInterval < 0 || c.MinRenderInterval < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return c.validateEndpoints(c.Transport)
}

// validateEndpoints checks that kind has the endpoint it needs.
func (c *Config) validateEndpoints(kind transport.Kind) error {
	if kind == transport.KindSnapshot {
		if c.SnapshotURL == "" {
			return fmt.Errorf("%w: snapshot transport needs snapshot_url", ErrInvalidConfig)
		}
		return nil
	}
	if c.SessionFactory != nil {
		return nil
	}

	switch kind {
	case transport.KindAuto, transport.KindWebSocket:
		if c.VideoURL == "" {
			return fmt.Errorf("%w: %s transport needs video_url", ErrInvalidConfig, kind)
		}
	case transport.KindWebRTC:
		if c.SignalingURL == "" {
			return fmt.Errorf("%w: webrtc transport needs signaling_url", ErrInvalidConfig)
		}
	}

	if c.VideoURL != "" {
		if err := session.ValidateURL(c.VideoURL); err != nil {
			return fmt.Errorf("%w: video_url: %w", ErrInvalidConfig, err)
		}
	}
	if c.SignalingURL != "" {
		if err := session.ValidateURL(c.SignalingURL); err != nil {
			return fmt.Errorf("%w: signaling_url: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.FallbackTimeout == 0 {
		c.FallbackTimeout = transport.DefaultFallbackTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = session.DefaultHeartbeatInterval
	}
	if c.MinRenderInterval == 0 {
		c.MinRenderInterval = session.DefaultMinRenderInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = session.DefaultDialTimeout
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.ReconnectPolicy == nil {
		c.ReconnectPolicy = reconnect.NewPolicy(nil)
	}
	if c.Decoder == nil {
		c.Decoder = decoder.New()
	}
	if c.WebRTCCapable == nil && c.SessionFactory == nil && c.SignalingURL == "" {
		c.WebRTCCapable = func() bool { return false }
	}
	if c.SessionFactory == nil {
		c.SessionFactory = c.defaultSessionFactory()
	}
}

func (c *Config) defaultSessionFactory() SessionFactory {
	return func(kind transport.Kind) (session.Session, error) {
		switch kind {
		case transport.KindWebSocket:
			return session.NewWebSocketSession(session.WebSocketConfig{
				URL:               c.VideoURL,
				HeartbeatInterval: c.HeartbeatInterval,
				MinRenderInterval: c.MinRenderInterval,
				DialTimeout:       c.DialTimeout,
				LoggerFactory:     c.LoggerFactory,
			})
		case transport.KindWebRTC:
			return session.NewWebRTCSession(session.WebRTCConfig{
				SignalingURL:  c.SignalingURL,
				STUNServers:   c.STUNServers,
				DialTimeout:   c.DialTimeout,
				LoggerFactory: c.LoggerFactory,
			})
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
		}
	}
}

// LoadConfig reads a YAML configuration file. Durations are written as Go
// duration strings ("5s", "16ms") and the transport by name.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("stream: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration document and validates it.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
