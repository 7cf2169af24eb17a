package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/backkem/roverfeed/pkg/stream"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the parts of mqtt.Client the sink uses.
type fakeClient struct {
	mqtt.Client

	connectErr error
	publishErr error

	mu           sync.Mutex
	connected    bool
	disconnected bool
	published    chan publishCall
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, published: make(chan publishCall, 16)}
}

func (c *fakeClient) Connect() mqtt.Token {
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published <- publishCall{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)}
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.connected = false
	c.mu.Unlock()
}

func TestMQTTSinkPublishesJSON(t *testing.T) {
	client := newFakeClient()
	sink, err := NewMQTTSink(MQTTConfig{Client: client, Topic: "rovers/7", QoS: 1, Retained: true})
	if err != nil {
		t.Fatalf("NewMQTTSink() error = %v", err)
	}
	defer sink.Close()

	sink.Publish(stream.DebugSnapshot{RequestedTransport: "auto", ResolvedTransport: "webrtc", Connected: true, FPS: 29.5})

	var call publishCall
	select {
	case call = <-client.published:
	case <-time.After(time.Second):
		t.Fatal("snapshot not published")
	}

	if call.topic != "rovers/7" || call.qos != 1 || !call.retained {
		t.Errorf("publish = %s qos=%d retained=%v", call.topic, call.qos, call.retained)
	}

	var got stream.DebugSnapshot
	if err := json.Unmarshal(call.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.ResolvedTransport != "webrtc" || !got.Connected || got.FPS != 29.5 {
		t.Errorf("payload = %+v", got)
	}

	waitStats(t, sink, 1, 0)
}

func TestMQTTSinkPublishError(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("broker gone")
	sink, err := NewMQTTSink(MQTTConfig{Client: client})
	if err != nil {
		t.Fatalf("NewMQTTSink() error = %v", err)
	}
	defer sink.Close()

	sink.Publish(stream.DebugSnapshot{})
	<-client.published
	waitStats(t, sink, 0, 1)
}

func TestMQTTSinkDisconnectedDrops(t *testing.T) {
	client := newFakeClient()
	client.connected = false
	sink, err := NewMQTTSink(MQTTConfig{Client: client})
	if err != nil {
		t.Fatalf("NewMQTTSink() error = %v", err)
	}
	defer sink.Close()

	sink.Publish(stream.DebugSnapshot{})
	waitStats(t, sink, 0, 1)

	select {
	case <-client.published:
		t.Error("published while disconnected")
	default:
	}
}

func TestMQTTSinkConnectError(t *testing.T) {
	client := newFakeClient()
	client.connectErr = errors.New("refused")
	if _, err := NewMQTTSink(MQTTConfig{Client: client}); err == nil {
		t.Error("NewMQTTSink() error = nil, want error")
	}
}

func TestMQTTSinkClose(t *testing.T) {
	client := newFakeClient()
	sink, err := NewMQTTSink(MQTTConfig{Client: client})
	if err != nil {
		t.Fatalf("NewMQTTSink() error = %v", err)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !client.disconnected {
		t.Error("client not disconnected")
	}
	if err := sink.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want %v", err, ErrClosed)
	}

	// Publish after close is a no-op.
	sink.Publish(stream.DebugSnapshot{})
}

func TestMQTTConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  MQTTConfig
		wantErr bool
	}{
		{"broker", MQTTConfig{Broker: "tcp://localhost:1883"}, false},
		{"client", MQTTConfig{Client: newFakeClient()}, false},
		{"missing broker", MQTTConfig{}, true},
		{"bad qos", MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(nil)
	sink.Publish(stream.DebugSnapshot{Connected: true})
	sink.Publish(stream.DebugSnapshot{LastError: "session: unexpected close"})
}

func waitStats(t *testing.T, sink *MQTTSink, published, failed uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p, f := sink.Stats()
		if p == published && f == failed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	p, f := sink.Stats()
	t.Fatalf("Stats() = (%d, %d), want (%d, %d)", p, f, published, failed)
}
