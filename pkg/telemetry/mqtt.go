// Package telemetry provides sinks for stream client debug snapshots.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pion/logging"

	"github.com/backkem/roverfeed/pkg/stream"
)

// MQTT defaults.
const (
	DefaultTopic          = "roverfeed/telemetry"
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
	disconnectQuiesceMs   = 250
)

// MQTTConfig configures an MQTTSink.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// ClientID identifies this client to the broker.
	ClientID string

	// Topic receives the JSON snapshots. Default: DefaultTopic.
	Topic string

	// QoS is the MQTT quality of service (0-2).
	QoS byte

	// Retained sets the retain flag so late subscribers see the last snapshot.
	Retained bool

	// ConnectTimeout bounds the initial connect wait. The client keeps
	// retrying in the background after it expires.
	ConnectTimeout time.Duration

	// PublishTimeout bounds each publish acknowledgement wait.
	PublishTimeout time.Duration

	// Client overrides the paho client. Broker and ClientID are ignored when set.
	Client mqtt.Client

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *MQTTConfig) Validate() error {
	if c.Client == nil && c.Broker == "" {
		return fmt.Errorf("%w: broker required", ErrInvalidConfig)
	}
	if c.QoS > 2 {
		return fmt.Errorf("%w: qos %d", ErrInvalidConfig, c.QoS)
	}
	return nil
}

func (c *MQTTConfig) applyDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// MQTTSink publishes debug snapshots as JSON to an MQTT topic.
//
// Publish never blocks: snapshots go to a single-slot queue drained by a
// worker goroutine, and a newer snapshot replaces one not yet sent.
type MQTTSink struct {
	config MQTTConfig
	client mqtt.Client
	log    logging.LeveledLogger

	queue   chan stream.DebugSnapshot
	closeCh chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	published uint64
	failed    uint64
}

var _ stream.TelemetrySink = (*MQTTSink)(nil)

// NewMQTTSink connects to the broker and starts the publish worker.
func NewMQTTSink(config MQTTConfig) (*MQTTSink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &MQTTSink{
		config:  config,
		log:     config.LoggerFactory.NewLogger("telemetry-mqtt"),
		queue:   make(chan stream.DebugSnapshot, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.client = config.Client
	if s.client == nil {
		s.client = mqtt.NewClient(s.clientOptions())
	}

	token := s.client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		s.log.Warnf("broker %s not reachable yet, retrying in background", config.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", config.Broker, err)
	}

	go s.run()
	return s, nil
}

func (s *MQTTSink) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.config.Broker)
	opts.SetClientID(s.config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.log.Infof("connected to %s", s.config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warnf("connection lost: %v", err)
	})
	return opts
}

// Publish implements stream.TelemetrySink.
func (s *MQTTSink) Publish(snapshot stream.DebugSnapshot) {
	select {
	case <-s.closeCh:
		return
	default:
	}

	for {
		select {
		case s.queue <- snapshot:
			return
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-s.queue:
		default:
		}
	}
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.closeCh:
			return
		case snap := <-s.queue:
			s.send(snap)
		}
	}
}

func (s *MQTTSink) send(snap stream.DebugSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.log.Errorf("marshal snapshot: %v", err)
		return
	}

	if !s.client.IsConnected() {
		s.count(false)
		s.log.Tracef("not connected, dropping snapshot")
		return
	}

	token := s.client.Publish(s.config.Topic, s.config.QoS, s.config.Retained, payload)
	if !token.WaitTimeout(s.config.PublishTimeout) {
		s.count(false)
		s.log.Warnf("publish to %s timed out", s.config.Topic)
		return
	}
	if err := token.Error(); err != nil {
		s.count(false)
		s.log.Warnf("publish to %s: %v", s.config.Topic, err)
		return
	}
	s.count(true)
}

func (s *MQTTSink) count(ok bool) {
	s.mu.Lock()
	if ok {
		s.published++
	} else {
		s.failed++
	}
	s.mu.Unlock()
}

// Stats returns the number of published and failed snapshots.
func (s *MQTTSink) Stats() (published, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published, s.failed
}

// Close stops the worker and disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	<-s.done
	s.client.Disconnect(disconnectQuiesceMs)
	return nil
}
