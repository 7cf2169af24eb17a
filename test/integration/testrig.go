// Package integration provides test infrastructure for end-to-end stream
// tests against a simulated rover.
package integration

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/roverfeed/examples/rover"
	"github.com/backkem/roverfeed/pkg/reconnect"
	"github.com/backkem/roverfeed/pkg/stream"
)

// TestRig is a rover served over HTTP for one test.
//
// Example usage:
//
//	rig := NewTestRig(t, rover.Config{})
//	client := rig.NewClient(stream.Config{Transport: transport.KindWebSocket})
type TestRig struct {
	// Rover is the simulated vehicle.
	Rover *rover.Server

	// Server is the HTTP server in front of it.
	Server *httptest.Server

	t             *testing.T
	loggerFactory logging.LoggerFactory
}

// NewTestRig starts a rover. It is closed when the test ends.
func NewTestRig(t *testing.T, config rover.Config) *TestRig {
	t.Helper()

	loggerFactory := logging.NewDefaultLoggerFactory()
	if config.FrameInterval == 0 {
		config.FrameInterval = 20 * time.Millisecond
	}
	if config.Width == 0 {
		config.Width, config.Height = 32, 24
	}
	config.LoggerFactory = loggerFactory

	srv, err := rover.New(config)
	if err != nil {
		t.Fatalf("rover.New() error = %v", err)
	}
	rig := &TestRig{
		Rover:         srv,
		Server:        httptest.NewServer(srv),
		t:             t,
		loggerFactory: loggerFactory,
	}
	t.Cleanup(rig.Close)
	return rig
}

// Close stops the rover and the HTTP server.
func (r *TestRig) Close() {
	_ = r.Rover.Close()
	r.Server.Close()
}

func (r *TestRig) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(r.Server.URL, "http") + path
}

// VideoURL returns the video socket URL.
func (r *TestRig) VideoURL() string { return r.wsURL(rover.PathVideo) }

// SignalingURL returns the signaling socket URL.
func (r *TestRig) SignalingURL() string { return r.wsURL(rover.PathSignaling) }

// SnapshotURL returns the still image URL.
func (r *TestRig) SnapshotURL() string { return r.Server.URL + rover.PathSnapshot }

// NewClient creates a stream client for the rig. Empty endpoints are filled
// in and retries are fast. The client is stopped when the test ends.
func (r *TestRig) NewClient(config stream.Config) *stream.Client {
	r.t.Helper()

	if config.VideoURL == "" {
		config.VideoURL = r.VideoURL()
	}
	if config.SnapshotURL == "" {
		config.SnapshotURL = r.SnapshotURL()
	}
	if config.ReconnectPolicy == nil {
		config.ReconnectPolicy = reconnect.NewPolicyWithConfig(reconnect.PolicyConfig{
			BaseDelay: 20 * time.Millisecond,
			MaxDelay:  100 * time.Millisecond,
			Jitter:    time.Millisecond,
		})
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = r.loggerFactory
	}

	client, err := stream.New(config)
	if err != nil {
		r.t.Fatalf("stream.New() error = %v", err)
	}
	r.t.Cleanup(func() { _ = client.Stop() })
	return client
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
