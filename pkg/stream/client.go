// Package stream implements the video stream client: it selects a transport,
// drives the connection state machine, reconnects with backoff, decodes and
// paces frames, and reports statistics and diagnostics.
//
// All session handling happens on one event loop goroutine per Client.
// Accessors such as State, Stats and SetQuality are synchronous and safe to
// call from any goroutine.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/roverfeed/pkg/metrics"
	"github.com/backkem/roverfeed/pkg/reconnect"
	"github.com/backkem/roverfeed/pkg/session"
	"github.com/backkem/roverfeed/pkg/snapshot"
	"github.com/backkem/roverfeed/pkg/transport"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Client consumes one live video feed.
type Client struct {
	config   Config
	log      logging.LeveledLogger
	selector *transport.Selector
	tracker  *metrics.Tracker
	frames   *mailbox
	fetcher  *snapshot.Fetcher
	counter  reconnect.Counter

	// kick wakes the loop after SetTransport.
	kick chan struct{}

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu              sync.RWMutex
	state           ConnectionState
	requested       transport.Kind
	resolved        transport.Kind
	quality         int
	lastError       string
	track           *webrtc.TrackRemote
	sess            session.Session
	sessionsCreated int

	decodeErrors atomic.Uint64

	pubMu         sync.Mutex
	lastPublished *DebugSnapshot

	// Owned by the event loop.
	retry *time.Timer
}

// New creates a client. It does not connect until Start.
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Client{
		config:    config,
		log:       config.LoggerFactory.NewLogger("stream-client"),
		tracker:   metrics.NewTracker(),
		frames:    newMailbox(),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		requested: config.Transport,
		quality:   config.Quality,
	}
	c.selector = transport.NewSelector(transport.SelectorConfig{
		FallbackTimeout: config.FallbackTimeout,
		Capability:      config.WebRTCCapable,
		LoggerFactory:   config.LoggerFactory,
	})

	if config.SnapshotURL != "" {
		f, err := snapshot.New(snapshot.Config{
			URL:           config.SnapshotURL,
			Client:        config.HTTPClient,
			Timeout:       config.DialTimeout,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		c.fetcher = f
	}

	return c, nil
}

// Start launches the event loop and the first connection attempt. It
// returns immediately. Cancelling ctx has the same effect as Stop.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Stop tears down the active session and all timers and waits for the event
// loop to exit. The client cannot be restarted.
func (c *Client) Stop() error {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		<-c.done
		return nil
	}
	c.stopped = true
	started := c.started
	c.lifeMu.Unlock()

	if !started {
		close(c.done)
		c.frames.close()
		c.setState(StateIdle)
		return nil
	}

	c.cancel()
	<-c.done
	return nil
}

// Done is closed once the client has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Requested returns the requested transport kind.
func (c *Client) Requested() transport.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requested
}

// Resolved returns the transport the client is using, or KindAuto before the
// first resolution.
func (c *Client) Resolved() transport.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolved
}

// Stats returns a copy of the stream statistics.
func (c *Client) Stats() metrics.Statistics {
	return c.tracker.Snapshot()
}

// ResetStats clears the accumulated statistics.
func (c *Client) ResetStats() {
	c.tracker.Reset()
	c.publish()
}

// ReconnectAttempts returns the reconnect attempt counter.
func (c *Client) ReconnectAttempts() int {
	return c.counter.Value()
}

// Quality returns the last quality directive, or 0 if none was set.
func (c *Client) Quality() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quality
}

// SetQuality clamps q to [MinQuality, MaxQuality], remembers it and pushes
// it to the active session. With no open session this only records the
// value, which is re-sent when the next WebSocket session opens.
func (c *Client) SetQuality(q int) {
	q = ClampQuality(q)

	c.mu.Lock()
	c.quality = q
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		sess.SetQuality(q)
	}
	c.publish()
}

// SetTransport changes the requested transport. A running client tears the
// current session down and connects with the new resolution; an earlier
// automatic downgrade is forgotten.
func (c *Client) SetTransport(kind transport.Kind) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: %d", transport.ErrUnknownKind, int(kind))
	}
	if err := c.config.validateEndpoints(kind); err != nil {
		return err
	}

	c.mu.Lock()
	c.requested = kind
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Track returns the inbound WebRTC track, or nil.
func (c *Client) Track() *webrtc.TrackRemote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.track
}

// LatestFrame returns the most recently rendered frame, or nil.
func (c *Client) LatestFrame() *RenderedFrame {
	return c.frames.last()
}

// Frames returns a channel carrying rendered frames. It holds at most one
// frame; an unread frame is replaced by a newer one. The channel is closed
// when the client stops.
func (c *Client) Frames() <-chan *RenderedFrame {
	return c.frames.ch
}

// NextFrame blocks until a rendered frame is available, ctx is done or the
// client stops.
func (c *Client) NextFrame(ctx context.Context) (*RenderedFrame, error) {
	select {
	case f, ok := <-c.frames.ch:
		if !ok {
			return nil, ErrStopped
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Diagnostics returns the debug snapshot with client internals.
func (c *Client) Diagnostics() Diagnostics {
	snap := c.debugSnapshot()

	c.mu.RLock()
	d := Diagnostics{
		DebugSnapshot:   snap,
		State:           c.state,
		StateName:       c.state.String(),
		SessionsCreated: c.sessionsCreated,
	}
	if c.sess != nil {
		d.SessionID = c.sess.ID()
	}
	c.mu.RUnlock()

	d.Downgraded = c.selector.Downgraded()
	d.DroppedFrames = c.frames.dropped.Load()
	d.DecodeErrors = c.decodeErrors.Load()
	return d
}

// Refresh fetches one still image in snapshot mode, decodes it and
// publishes it as the latest frame. Errors are returned directly and never
// trigger a retry.
func (c *Client) Refresh(ctx context.Context) (*RenderedFrame, error) {
	if c.Requested() != transport.KindSnapshot {
		return nil, ErrNotSnapshot
	}
	if c.fetcher == nil {
		return nil, fmt.Errorf("%w: no snapshot_url", ErrInvalidConfig)
	}

	c.mu.Lock()
	c.resolved = transport.KindSnapshot
	c.mu.Unlock()

	img, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.setLastError(err)
		c.publish()
		return nil, err
	}
	c.tracker.RecordSample(img.FetchedAt, len(img.Data))

	decoded, format, err := c.config.Decoder.Decode(img.Data)
	if err != nil {
		c.decodeErrors.Add(1)
		c.setLastError(err)
		c.publish()
		return nil, fmt.Errorf("stream: decode snapshot: %w", err)
	}

	frame := &RenderedFrame{Image: decoded, Format: format, ReceivedAt: img.FetchedAt}
	c.frames.put(frame)
	c.setLastError(nil)
	c.publish()
	return frame, nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.frames.close()
	defer c.teardown()

	// A SetTransport before Start is already reflected in requested.
	select {
	case <-c.kick:
	default:
	}
	c.connect(ctx)

	for {
		var events <-chan session.Event
		if sess := c.activeSession(); sess != nil {
			events = sess.Events()
		}
		var retryC <-chan time.Time
		if c.retry != nil {
			retryC = c.retry.C
		}

		select {
		case <-ctx.Done():
			return

		case ev := <-events:
			c.handleEvent(ctx, ev)

		case <-retryC:
			c.retry = nil
			c.log.Debugf("retrying, attempt %d", c.counter.Value())
			c.connect(ctx)

		case <-c.selector.FallbackC():
			c.log.Warnf("no media within %v, switching to websocket", c.config.FallbackTimeout)
			c.selector.Downgrade()
			c.switchTransport(ctx)

		case <-c.kick:
			c.selector.Reset()
			c.switchTransport(ctx)
		}

		c.publish()
	}
}

// connect disposes any previous session, resolves the transport and starts
// a fresh session.
func (c *Client) connect(ctx context.Context) {
	c.disposeSession()
	c.stopRetry()

	requested := c.Requested()
	resolved := c.selector.Resolve(requested)

	c.mu.Lock()
	c.resolved = resolved
	c.mu.Unlock()

	if !resolved.IsSession() {
		c.selector.CancelFallback()
		c.setState(StateIdle)
		c.publish()
		return
	}

	c.setState(StateConnecting)

	// Armed before the session exists so that factory and start failures
	// also fall back.
	if c.selector.FallbackC() == nil {
		c.selector.ArmFallback(requested, resolved)
	}

	sess, err := c.config.SessionFactory(resolved)
	if err != nil {
		c.fail(fmt.Errorf("create %s session: %w", resolved, err))
		return
	}
	// The session sends it from its own goroutine once open.
	if q := c.Quality(); q != 0 {
		sess.SetQuality(q)
	}
	if err := sess.Start(ctx); err != nil {
		_ = sess.Close()
		c.fail(fmt.Errorf("start %s session: %w", resolved, err))
		return
	}

	c.mu.Lock()
	c.sess = sess
	c.sessionsCreated++
	c.mu.Unlock()

	c.log.Debugf("session %s started (%s, requested %s)", sess.ID(), resolved, requested)
	c.publish()
}

// switchTransport moves through Idle into a new connection. Statistics are
// kept.
func (c *Client) switchTransport(ctx context.Context) {
	c.disposeSession()
	c.stopRetry()
	c.counter.Reset()
	c.setState(StateIdle)
	c.publish()
	c.connect(ctx)
}

func (c *Client) handleEvent(ctx context.Context, ev session.Event) {
	sess := c.activeSession()
	if sess == nil || ev.SessionID != sess.ID() {
		return
	}

	switch ev.Type {
	case session.EventOpened:
		c.markConnected()

	case session.EventFrame:
		c.onMedia()
		c.tracker.RecordFrame(ev.At, ev.Frame.Metadata)
		if !ev.Frame.Paced {
			c.render(ev)
		}

	case session.EventTrack:
		c.mu.Lock()
		c.track = ev.Track
		c.mu.Unlock()
		c.onMedia()

	case session.EventSample:
		c.onMedia()
		c.tracker.RecordSample(ev.At, ev.SampleSize)

	case session.EventLatency:
		c.tracker.RecordLatency(ev.Latency)

	case session.EventRecovered:
		c.setLastError(nil)

	case session.EventError:
		c.fail(ev.Err)

	case session.EventClosed:
		err := ev.Err
		if err == nil {
			err = session.ErrUnexpectedClose
		}
		c.fail(err)
	}
}

func (c *Client) onMedia() {
	c.selector.CancelFallback()
	c.markConnected()
}

func (c *Client) markConnected() {
	if c.State() == StateConnected {
		return
	}
	c.counter.Reset()
	c.setLastError(nil)
	c.setState(StateConnected)
}

func (c *Client) render(ev session.Event) {
	img, format, err := c.config.Decoder.Decode(ev.Frame.Payload)
	if err != nil {
		c.decodeErrors.Add(1)
		c.log.Debugf("decode frame: %v", err)
		return
	}
	c.frames.put(&RenderedFrame{
		Image:      img,
		Format:     format,
		Metadata:   ev.Frame.Metadata,
		ReceivedAt: ev.Frame.ReceivedAt,
	})
}

// fail disposes the session and schedules a retry after the backoff for the
// current attempt count.
func (c *Client) fail(err error) {
	c.disposeSession()
	c.setLastError(err)
	c.setState(StateReconnecting)

	attempt := c.counter.Value()
	delay := c.config.ReconnectPolicy.Delay(attempt)
	c.counter.Increment()

	c.stopRetry()
	c.retry = time.NewTimer(delay)
	c.log.Warnf("transport failed (%v), retry %d in %v", err, attempt+1, delay.Round(time.Millisecond))
}

func (c *Client) teardown() {
	c.disposeSession()
	c.stopRetry()
	c.selector.CancelFallback()
	c.setState(StateIdle)
	c.publish()
}

func (c *Client) disposeSession() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.track = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		c.log.Debugf("close session %s: %v", sess.ID(), err)
	}
}

func (c *Client) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) activeSession() session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.log.Infof("state %s -> %s", prev, s)
	}
}

func (c *Client) setLastError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

func (c *Client) debugSnapshot() DebugSnapshot {
	stats := c.tracker.Snapshot()

	c.mu.RLock()
	defer c.mu.RUnlock()

	resolved := ""
	if c.resolved != transport.KindAuto {
		resolved = c.resolved.String()
	}
	return DebugSnapshot{
		RequestedTransport: c.requested.String(),
		ResolvedTransport:  resolved,
		Connecting:         c.state.IsConnecting(),
		Connected:          c.state == StateConnected,
		LastError:          c.lastError,
		ReconnectAttempts:  c.counter.Value(),
		Quality:            c.quality,
		FPS:                stats.FramesPerSecond,
		BandwidthKbps:      stats.BandwidthKbps,
		LatencyMs:          stats.LatencyMs,
		FrameCount:         stats.FrameCount,
	}
}

// publish sends the debug snapshot to the sink if it changed.
func (c *Client) publish() {
	sink := c.config.TelemetrySink
	if sink == nil {
		return
	}
	snap := c.debugSnapshot()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if c.lastPublished != nil && *c.lastPublished == snap {
		return
	}
	c.lastPublished = &snap
	sink.Publish(snap)
}
